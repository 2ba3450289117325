package watch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"surgerywatch/internal/assert"
	"surgerywatch/internal/chrono"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/telemetry"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_watcher_watch = "watcher.watch"
	report_watcher_fetch = "watcher.fetch"

	DefaultPollInterval = 30 * time.Second
	DefaultExitStatus   = "Case Complete"
)

// Source is what the watcher polls, *tracker.Client implements it.
type Source interface {
	ResolveLegend(ctx context.Context) (tracker.Legend, error)
	FetchStatus(ctx context.Context, facilityID, patientID string, legend tracker.Legend) ([]tracker.PatientStatus, error)
}

// RetryPolicy retries a poll that failed with tracker.ErrNetwork using exponential backoff
// between Initial and Max. The zero value never retries.
type RetryPolicy struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	if exp.InitialInterval <= 0 {
		exp.InitialInterval = time.Second
	}
	exp.MaxInterval = p.Max
	if exp.MaxInterval < exp.InitialInterval {
		exp.MaxInterval = exp.InitialInterval
	}
	exp.MaxElapsedTime = 0

	retries := 0
	if p.MaxRetries > 0 {
		retries = p.MaxRetries
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

type Options struct {
	FacilityID string
	// PatientID selects the tracked record, when empty the first record of the
	// facility is tracked.
	PatientID string
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// ExitStatuses defaults to DefaultExitStatus.
	ExitStatuses []string
	// ReportChanges enables the diff-then-notify stage.
	ReportChanges bool

	// OnLegend is called once with the legend resolved for this watch.
	OnLegend func(legend tracker.Legend)
	// OnChange is called for every changed field of a tick.
	OnChange func(ctx context.Context, current tracker.PatientStatus, change StatusChange)
	// OnAlert is called once per tick with a non-empty change set.
	OnAlert func(ctx context.Context, current tracker.PatientStatus, changes []StatusChange)
	// OnExit is called once with the terminal result.
	OnExit func(ctx context.Context, result Result)

	Retry RetryPolicy
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if len(o.ExitStatuses) == 0 {
		o.ExitStatuses = []string{DefaultExitStatus}
	}
	return o
}

type Result struct {
	Status tracker.PatientStatus
	// Elapsed is the poll interval times the number of sleeps that completed, it
	// leaves out the time spent waiting on the portal.
	Elapsed time.Duration
	// WallClock is the measured duration of the whole watch.
	WallClock time.Duration
	// Polls is the number of status fetches made.
	Polls int
}

// Watcher follows a single patient until their status reaches an exit status.
type Watcher struct {
	source Source
	time   chrono.TimeAPI
	tel    telemetry.API

	tracer  trace.Tracer
	polls   metric.Int64Counter
	changes metric.Int64Counter
}

func NewWatcher(source Source, time chrono.TimeAPI, tel telemetry.API) *Watcher {
	assert.NotNil(source)
	assert.NotNil(time)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("watch", tel)

	meter := otel.Meter("surgerywatch.internal.watch")
	polls := newCounter(meter, "watch.polls", tel)
	changes := newCounter(meter, "watch.status_changes", tel)

	return &Watcher{
		source:  source,
		time:    time,
		tel:     tel,
		tracer:  otel.Tracer("surgerywatch.internal.watch"),
		polls:   polls,
		changes: changes,
	}
}

// newCounter falls back to a no-op counter when the meter rejects the instrument.
func newCounter(meter metric.Meter, name string, tel telemetry.API) metric.Int64Counter {
	counter, err := meter.Int64Counter(name)
	if err != nil {
		tel.ReportWarning(report_watcher_watch, "create counter", name, err)
		return noop.Int64Counter{}
	}
	return counter
}

// Watch resolves the legend once, then polls the patient's status every PollInterval
// until it is one of the ExitStatuses or ctx is cancelled. A patient that is already in
// an exit status on the first fetch returns right away with a zero Elapsed.
//
// Any fetch error ends the watch, the returned Result holds the last status seen.
func (w *Watcher) Watch(ctx context.Context, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if opts.FacilityID == "" {
		return Result{}, fmt.Errorf("watch: facility id is required")
	}

	start := w.time.Now()
	w.tel.ReportDebug(report_watcher_watch, opts.FacilityID, opts.PatientID, opts.PollInterval.String())

	var legend tracker.Legend
	err := w.retry(ctx, opts.Retry, func() error {
		var err error
		legend, err = w.source.ResolveLegend(ctx)
		return err
	})
	if err != nil {
		w.tel.ReportBroken(report_watcher_watch, fmt.Errorf("resolve legend: %w", err))
		return Result{}, fmt.Errorf("watch: resolve legend: %w", err)
	}
	if opts.OnLegend != nil {
		opts.OnLegend(legend)
	}

	current, err := w.fetch(ctx, opts, legend)
	if err != nil {
		return Result{}, err
	}
	result := Result{Status: current, Polls: 1}

	previous := current
	for {
		if opts.ReportChanges {
			w.notifyChanges(ctx, opts, previous, current)
		}
		if shouldExit(current, opts.ExitStatuses) {
			break
		}

		err = w.time.Sleep(ctx, opts.PollInterval)
		if err != nil {
			return result, fmt.Errorf("watch: %w", err)
		}
		result.Elapsed += opts.PollInterval

		previous = current
		current, err = w.fetch(ctx, opts, legend)
		if err != nil {
			return result, err
		}
		result.Status = current
		result.Polls++
	}

	result.WallClock = w.time.Now().Sub(start)
	w.tel.ReportDebug(
		report_watcher_watch,
		"done",
		current.StatusOr(""),
		result.Elapsed.String(),
		result.Polls,
	)
	if opts.OnExit != nil {
		opts.OnExit(ctx, result)
	}
	return result, nil
}

func (w *Watcher) fetch(ctx context.Context, opts Options, legend tracker.Legend) (tracker.PatientStatus, error) {
	ctx, span := w.tracer.Start(ctx, "watch.fetch", trace.WithAttributes(
		attribute.String("facility_id", opts.FacilityID),
		attribute.String("patient_id", opts.PatientID),
	))
	defer span.End()

	var statuses []tracker.PatientStatus
	err := w.retry(ctx, opts.Retry, func() error {
		var err error
		statuses, err = w.source.FetchStatus(ctx, opts.FacilityID, opts.PatientID, legend)
		return err
	})
	w.polls.Add(ctx, 1)
	if err == nil && len(statuses) == 0 {
		err = &tracker.NotFoundError{FacilityID: opts.FacilityID, PatientID: opts.PatientID}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		w.tel.ReportBroken(report_watcher_fetch, err, opts.FacilityID, opts.PatientID)
		return tracker.PatientStatus{}, fmt.Errorf("watch: %w", err)
	}

	current := selectPatient(statuses, opts.PatientID)
	span.SetAttributes(attribute.String("status", current.StatusOr("")))
	return current, nil
}

// retry runs op under the retry policy, only network errors are retried and a
// cancelled ctx stops everything.
func (w *Watcher) retry(ctx context.Context, policy RetryPolicy, op func() error) error {
	operation := func() error {
		err := ctx.Err()
		if err != nil {
			return backoff.Permanent(err)
		}
		err = op()
		if err != nil && !errors.Is(err, tracker.ErrNetwork) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.tel.ReportWarning(report_watcher_fetch, "retrying", err, next.String())
	}
	return backoff.RetryNotify(operation, policy.backoff(ctx), notify)
}

// notifyChanges is the diff-then-notify stage of a tick.
func (w *Watcher) notifyChanges(ctx context.Context, opts Options, previous, current tracker.PatientStatus) {
	changes := DetectChanges(previous, current)
	if len(changes) == 0 {
		return
	}
	w.changes.Add(ctx, int64(len(changes)))

	if opts.OnChange != nil {
		for _, change := range changes {
			opts.OnChange(ctx, current, change)
		}
	}
	if opts.OnAlert != nil {
		opts.OnAlert(ctx, current, changes)
	}
}

// shouldExit is the check-exit stage of a tick, it only looks at the status label and
// a status that did not resolve never exits.
func shouldExit(current tracker.PatientStatus, exitStatuses []string) bool {
	if current.Status == nil {
		return false
	}
	return slices.Contains(exitStatuses, *current.Status)
}

func selectPatient(statuses []tracker.PatientStatus, patientID string) tracker.PatientStatus {
	for _, s := range statuses {
		if patientID != "" && s.PatientID == patientID {
			return s
		}
	}
	return statuses[0]
}
