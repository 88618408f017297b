package tickets

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrBadPayload   = errors.New("invalid check-in code")
	ErrBadSignature = errors.New("check-in code signature mismatch")
)

const dayLayout = "2006-01-02"

// Signer produces and verifies check-in payloads of the form
// bookingID|caregiverID|start|end|signature.
type Signer struct {
	key []byte
}

func NewSigner(key []byte) Signer {
	return Signer{key: key}
}

func (s Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (s Signer) Payload(bookingID, caregiverID string, start, end time.Time) string {
	data := fmt.Sprintf("%s|%s|%s|%s", bookingID, caregiverID, start.Format(dayLayout), end.Format(dayLayout))
	return data + "|" + s.sign(data)
}

// CheckIn is a verified payload.
type CheckIn struct {
	BookingID   string
	CaregiverID string
	Start       time.Time
	End         time.Time
}

// Verify checks the signature and returns the decoded payload. It says
// nothing about whether the booking still exists.
func (s Signer) Verify(payload string) (CheckIn, error) {
	parts := strings.Split(payload, "|")
	if len(parts) != 5 {
		return CheckIn{}, ErrBadPayload
	}
	data := strings.Join(parts[:4], "|")
	if !hmac.Equal([]byte(parts[4]), []byte(s.sign(data))) {
		return CheckIn{}, ErrBadSignature
	}
	start, err := time.Parse(dayLayout, parts[2])
	if err != nil {
		return CheckIn{}, ErrBadPayload
	}
	end, err := time.Parse(dayLayout, parts[3])
	if err != nil {
		return CheckIn{}, ErrBadPayload
	}
	return CheckIn{BookingID: parts[0], CaregiverID: parts[1], Start: start, End: end}, nil
}
