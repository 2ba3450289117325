package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"surgerywatch/internal/scrapers/tracker"
	"surgerywatch/internal/watch"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("surgerywatch.internal.notify")

type EmailConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	To           []string `json:"to"`
	// OnChange also sends a message for every tick with changes, not only on exit.
	OnChange bool `json:"on_change"`
}

// Email mails the watch result, and optionally every alert, over SMTP.
type Email struct {
	config EmailConfig
	send   func(mail *email.Email, addr string, auth smtp.Auth) error
}

func NewEmail(config EmailConfig) *Email {
	return &Email{
		config: config,
		send: func(mail *email.Email, addr string, auth smtp.Auth) error {
			return mail.Send(addr, auth)
		},
	}
}

func (e *Email) deliver(ctx context.Context, subject, body string) error {
	ctx, span := tracer.Start(ctx, "notify:email")
	defer span.End()

	if len(e.config.To) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("surgerywatch <%s>", e.config.EmailAddress)
	mail.To = e.config.To
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	err := e.send(mail, addr, smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = e.send(mail, addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}
	return nil
}

func (e *Email) Change(ctx context.Context, current tracker.PatientStatus, change watch.StatusChange) error {
	return nil
}

func (e *Email) Alert(ctx context.Context, current tracker.PatientStatus, changes []watch.StatusChange) error {
	if !e.config.OnChange {
		return nil
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Patient %s was updated:\n\n", current.PatientID)
	for _, change := range changes {
		fmt.Fprintf(&body, "  %s: %s -> %s\n", change.Property, plainValue(change.Old), plainValue(change.New))
	}
	return e.deliver(
		ctx,
		fmt.Sprintf("Patient %s: %s", current.PatientID, current.StatusOr("unknown status")),
		body.String(),
	)
}

func (e *Email) Exit(ctx context.Context, result watch.Result) error {
	status := result.Status.StatusOr("unknown status")
	body := fmt.Sprintf(`Patient %s is now %s.

Location: %s
Watched for %s over %d polls.`,
		result.Status.PatientID,
		status,
		plainValue(result.Status.LocationID),
		result.WallClock,
		result.Polls,
	)
	return e.deliver(ctx, fmt.Sprintf("Patient %s: %s", result.Status.PatientID, status), body)
}

func plainValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "(none)"
	case string:
		if v == "" {
			return "(none)"
		}
		return v
	default:
		return fmt.Sprint(v)
	}
}
