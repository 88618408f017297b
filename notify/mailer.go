package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

type Mail struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// SendGridMailer delivers through the SendGrid v3 API.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey, from, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, from),
	}
}

func (s *SendGridMailer) Send(ctx context.Context, m Mail) error {
	msg := mail.NewSingleEmail(s.from, m.Subject, mail.NewEmail(m.ToName, m.To), m.Text, m.HTML)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct {
	log *zap.Logger
}

func NewLogMailer(log *zap.Logger) *LogMailer {
	return &LogMailer{log: log.Named("mail")}
}

func (l *LogMailer) Send(_ context.Context, m Mail) error {
	l.log.Info("mail",
		zap.String("to", m.To),
		zap.String("subject", m.Subject),
		zap.String("body", m.Text))
	return nil
}
