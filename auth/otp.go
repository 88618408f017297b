package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"nannynest/metrics"
	"nannynest/rdx"
	"nannynest/xerrors"

	"go.uber.org/zap"
)

const (
	otpTTL         = 10 * time.Minute
	otpSendWindow  = time.Hour
	otpMaxSends    = 3
	otpMaxAttempts = 5
)

var auPhone = regexp.MustCompile(`^(?:\+61|61|0)([2-9]\d{8})$`)

// NormalizeAUPhone returns an Australian landline or mobile number in
// E.164 form (+61...).
func NormalizeAUPhone(raw string) (string, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, raw)
	m := auPhone.FindStringSubmatch(clean)
	if m == nil {
		return "", xerrors.Invalid("phone", "must be an Australian phone number")
	}
	return "+61" + m[1], nil
}

// SMS delivers the code. notify.TwilioSMS satisfies it.
type SMS interface {
	SendSMS(ctx context.Context, to, body string) error
}

// PhoneVerifiedSetter records a verified number on the account.
type PhoneVerifiedSetter interface {
	SetVerifiedPhone(ctx context.Context, id, phone string) error
}

// PhoneVerifier sends one-time codes by SMS and confirms them. Codes live
// in Redis and are deleted on first successful use.
type PhoneVerifier struct {
	kv    rdx.KV
	sms   SMS
	users PhoneVerifiedSetter
	log   *zap.Logger
	code  func() (string, error)
}

func NewPhoneVerifier(kv rdx.KV, sms SMS, users PhoneVerifiedSetter, log *zap.Logger) *PhoneVerifier {
	return &PhoneVerifier{kv: kv, sms: sms, users: users, log: log.Named("otp"), code: sixDigitCode}
}

func sixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func codeKey(userID, phone string) string  { return "otp:code:" + userID + ":" + phone }
func triesKey(userID, phone string) string { return "otp:tries:" + userID + ":" + phone }
func sendsKey(phone string) string         { return "otp:sends:" + phone }

// SendCode texts a fresh code to phone for userID. A number gets at most
// otpMaxSends codes an hour whoever asks.
func (v *PhoneVerifier) SendCode(ctx context.Context, userID, phone string) (string, error) {
	normalized, err := NormalizeAUPhone(phone)
	if err != nil {
		return "", err
	}
	sends, err := v.kv.Incr(ctx, sendsKey(normalized), otpSendWindow)
	if err != nil {
		return "", fmt.Errorf("count sends: %w", err)
	}
	if sends > otpMaxSends {
		metrics.OTPSent.WithLabelValues("rate_limited").Inc()
		return "", fmt.Errorf("%w: try again in an hour", xerrors.ErrRateLimited)
	}

	code, err := v.code()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	if err := v.kv.Set(ctx, codeKey(userID, normalized), code, otpTTL); err != nil {
		return "", fmt.Errorf("store code: %w", err)
	}
	if err := v.kv.Del(ctx, triesKey(userID, normalized)); err != nil {
		return "", fmt.Errorf("reset attempts: %w", err)
	}

	body := fmt.Sprintf("NannyNest verification code: %s. It expires in 10 minutes. Do not share it with anyone.", code)
	if err := v.sms.SendSMS(ctx, normalized, body); err != nil {
		metrics.OTPSent.WithLabelValues("failed").Inc()
		v.log.Warn("code not sent", zap.String("user_id", userID), zap.Error(err))
		return "", fmt.Errorf("send code: %w", err)
	}
	metrics.OTPSent.WithLabelValues("sent").Inc()
	v.log.Info("code sent", zap.String("user_id", userID))
	return normalized, nil
}

// VerifyCode checks code and, on a match, stores phone as the user's
// verified number. Too many wrong guesses burn the code.
func (v *PhoneVerifier) VerifyCode(ctx context.Context, userID, phone, code string) (string, error) {
	normalized, err := NormalizeAUPhone(phone)
	if err != nil {
		return "", err
	}
	key := codeKey(userID, normalized)
	want, err := v.kv.Get(ctx, key)
	if errors.Is(err, rdx.ErrMiss) {
		return "", xerrors.Invalid("code", "no active code for this number; request a new one")
	}
	if err != nil {
		return "", fmt.Errorf("load code: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(want)) != 1 {
		tries, err := v.kv.Incr(ctx, triesKey(userID, normalized), otpTTL)
		if err != nil {
			return "", fmt.Errorf("count attempts: %w", err)
		}
		if tries >= otpMaxAttempts {
			if err := v.kv.Del(ctx, key, triesKey(userID, normalized)); err != nil {
				return "", fmt.Errorf("drop code: %w", err)
			}
			return "", xerrors.Invalid("code", "too many wrong codes; request a new one")
		}
		return "", xerrors.Invalid("code", "is incorrect")
	}

	if err := v.kv.Del(ctx, key, triesKey(userID, normalized)); err != nil {
		return "", fmt.Errorf("drop code: %w", err)
	}
	if err := v.users.SetVerifiedPhone(ctx, userID, normalized); err != nil {
		return "", err
	}
	v.log.Info("phone verified", zap.String("user_id", userID))
	return normalized, nil
}
