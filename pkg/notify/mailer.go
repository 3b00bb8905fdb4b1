package notify

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Recipient is an email destination.
type Recipient struct {
	Name  string
	Email string
}

// Mailer delivers a single email.
type Mailer interface {
	Send(ctx context.Context, to Recipient, subject, text, html string) error
}

type sendClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridMailer sends through the SendGrid v3 API.
type SendGridMailer struct {
	client sendClient
	from   *mail.Email
}

func NewSendGridMailer(apiKey, fromAddress, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, to Recipient, subject, text, html string) error {
	msg := mail.NewSingleEmail(m.from, subject, mail.NewEmail(to.Name, to.Email), text, html)
	resp, err := m.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogMailer only logs. Used when no SendGrid key is configured.
type LogMailer struct {
	log hclog.Logger
}

func NewLogMailer(log hclog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) Send(_ context.Context, to Recipient, subject, _, _ string) error {
	m.log.Info("email (not sent)", "to", to.Email, "subject", subject)
	return nil
}
