package notify

import (
	"context"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/telemetry"
	"surgerywatch/internal/watch"
)

const (
	report_notify_change = "notify.change"
	report_notify_alert  = "notify.alert"
	report_notify_exit   = "notify.exit"
)

// Notifier is a side effect of a watch.
type Notifier interface {
	Change(ctx context.Context, current tracker.PatientStatus, change watch.StatusChange) error
	Alert(ctx context.Context, current tracker.PatientStatus, changes []watch.StatusChange) error
	Exit(ctx context.Context, result watch.Result) error
}

// Multi fans out to every notifier, a failing notifier is reported and does not stop
// the others or the watch.
type Multi struct {
	notifiers []Notifier
	tel       telemetry.API
}

func NewMulti(tel telemetry.API, notifiers ...Notifier) Multi {
	return Multi{
		notifiers: notifiers,
		tel:       telemetry.NewScopedAPI("notify", tel),
	}
}

// Attach sets the watch callbacks to this notifier.
func (m Multi) Attach(opts *watch.Options) {
	opts.OnChange = func(ctx context.Context, current tracker.PatientStatus, change watch.StatusChange) {
		for _, n := range m.notifiers {
			err := n.Change(ctx, current, change)
			if err != nil {
				m.tel.ReportBroken(report_notify_change, err, change.Property)
			}
		}
	}
	opts.OnAlert = func(ctx context.Context, current tracker.PatientStatus, changes []watch.StatusChange) {
		for _, n := range m.notifiers {
			err := n.Alert(ctx, current, changes)
			if err != nil {
				m.tel.ReportBroken(report_notify_alert, err, len(changes))
			}
		}
	}
	opts.OnExit = func(ctx context.Context, result watch.Result) {
		for _, n := range m.notifiers {
			err := n.Exit(ctx, result)
			if err != nil {
				m.tel.ReportBroken(report_notify_exit, err, result.Status.PatientID)
			}
		}
	}
}
