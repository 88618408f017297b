package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioSMS sends text messages from one Twilio number.
type TwilioSMS struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSMS(accountSID, authToken, from string) *TwilioSMS {
	return &TwilioSMS{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		from: from,
	}
}

// SendSMS ignores ctx; the Twilio client has no per-call context.
func (t *TwilioSMS) SendSMS(_ context.Context, to, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetBody(body)
	if _, err := t.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	return nil
}

// LogSMS writes messages to the log instead of sending them.
type LogSMS struct {
	log *zap.Logger
}

func NewLogSMS(log *zap.Logger) *LogSMS {
	return &LogSMS{log: log.Named("sms")}
}

func (l *LogSMS) SendSMS(_ context.Context, to, body string) error {
	l.log.Info("sms", zap.String("to", to), zap.String("body", body))
	return nil
}
