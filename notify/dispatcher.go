package notify

import (
	"context"
	"fmt"

	"nannynest/metrics"
	"nannynest/models"
	"nannynest/mq"

	"go.uber.org/zap"
)

type UserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Dispatcher emails the recipient of each notify event.
type Dispatcher struct {
	users       UserReader
	mailer      Mailer
	frontendURL string
	log         *zap.Logger
}

func NewDispatcher(users UserReader, mailer Mailer, frontendURL string, log *zap.Logger) *Dispatcher {
	return &Dispatcher{users: users, mailer: mailer, frontendURL: frontendURL, log: log.Named("notify")}
}

// Handle is an mq.Handler for mq.TopicNotify.
func (d *Dispatcher) Handle(ctx context.Context, evt mq.Event) error {
	msg, ok := compose(evt)
	if !ok || evt.Recipient == "" {
		return nil
	}
	u, err := d.users.GetByID(ctx, evt.Recipient)
	if err != nil {
		return fmt.Errorf("recipient %s: %w", evt.Recipient, err)
	}
	if u.Email == "" {
		d.log.Warn("recipient has no email", zap.String("user_id", u.ID))
		return nil
	}

	name := u.FirstName
	if name == "" {
		name = "there"
	}
	text, html := msg.render(name, d.frontendURL)
	err = d.mailer.Send(ctx, Mail{
		To:      u.Email,
		ToName:  u.FullName(),
		Subject: msg.subject,
		Text:    text,
		HTML:    html,
	})
	if err != nil {
		metrics.EmailsSent.WithLabelValues(evt.Name, "error").Inc()
		return fmt.Errorf("send %s: %w", evt.Name, err)
	}
	metrics.EmailsSent.WithLabelValues(evt.Name, "ok").Inc()
	d.log.Debug("notification sent", zap.String("event", evt.Name), zap.String("user_id", u.ID))
	return nil
}
