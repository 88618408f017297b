package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BookingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nannynest_bookings_created_total",
			Help: "Total number of bookings created",
		},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_booking_transitions_total",
			Help: "Booking status transitions by target status",
		},
		[]string{"to"},
	)

	PaymentsInitiated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nannynest_payments_initiated_total",
			Help: "Payment intents created for bookings",
		},
	)

	PaymentsRefunded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nannynest_payments_refunded_total",
			Help: "Charges refunded because their booking was cancelled",
		},
	)

	PayoutsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nannynest_payouts_released_total",
			Help: "Escrowed bookings released to caregivers",
		},
	)

	PayoutCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nannynest_payout_cents_total",
			Help: "Sum of caregiver payouts in cents",
		},
	)

	PayoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_payout_failures_total",
			Help: "Release attempts that failed",
		},
		[]string{"reason"},
	)

	BulkReleaseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nannynest_bulk_release_duration_seconds",
			Help:    "Duration of bulk release runs",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_messages_sent_total",
			Help: "Messages stored by the relay",
		},
		[]string{"blocked"},
	)

	VerificationsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_verifications_submitted_total",
			Help: "Verification submissions by type",
		},
		[]string{"type"},
	)

	VerificationsDecided = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_verifications_decided_total",
			Help: "Verification decisions by outcome",
		},
		[]string{"state"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_emails_sent_total",
			Help: "Notification emails by event and result",
		},
		[]string{"event", "result"},
	)

	OTPSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_phone_codes_sent_total",
			Help: "Phone verification codes by result",
		},
		[]string{"result"},
	)

	VouchersClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nannynest_vouchers_claimed_total",
			Help: "Certification refund claims by type",
		},
		[]string{"type"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
