package notify

import (
	"fmt"
	"html"
	"strings"

	"nannynest/mq"
)

type message struct {
	subject string
	lines   []string
	path    string
}

// compose turns an event into mail copy. ok is false for events nobody is
// emailed about.
func compose(evt mq.Event) (msg message, ok bool) {
	d := evt.Data
	switch evt.Name {
	case mq.BookingRequested:
		return message{
			subject: "New booking request",
			lines:   []string{"A family has asked to book you.", "Booking total: " + d["total"] + "."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.BookingConfirmed:
		return message{
			subject: "Your booking is confirmed",
			lines:   []string{"Your caregiver accepted the booking. You can pay now to secure it."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.BookingDeclined:
		return message{
			subject: "Booking declined",
			lines:   []string{"The caregiver could not take this booking."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.BookingCompleted:
		return message{
			subject: "Booking completed",
			lines:   []string{"The booking has been marked complete."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.BookingCancelled:
		return message{
			subject: "Booking cancelled",
			lines:   []string{"The other party cancelled this booking."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.PaymentCaptured:
		return message{
			subject: "Payment received",
			lines:   []string{"Payment for your booking has been received and is held until the booking is complete."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.PaymentRefunded:
		return message{
			subject: "Payment refunded",
			lines:   []string{"A payment arrived after this booking was cancelled. It has been refunded in full; allow 5 to 10 business days for it to appear."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.PayoutsEnabled:
		return message{
			subject: "Payouts are set up",
			lines:   []string{"Your payout account is ready. Released funds will be sent to it automatically."},
			path:    "/caregiver/payouts",
		}, true
	case mq.VoucherSubmitted:
		return message{
			subject: "Refund claim received",
			lines:   []string{fmt.Sprintf("We received your %s refund claim for %s. We'll review it shortly.", voucherName(d["type"]), d["refundAmount"])},
			path:    "/vouchers",
		}, true
	case mq.VoucherDecided:
		return message{
			subject: "Refund claim update",
			lines:   []string{fmt.Sprintf("Your %s refund claim is now %s.", voucherName(d["type"]), d["status"])},
			path:    "/vouchers",
		}, true
	case mq.VoucherPaid:
		return message{
			subject: "Refund paid",
			lines:   []string{fmt.Sprintf("%s has been sent to your payout account for your %s.", d["refundAmount"], voucherName(d["type"]))},
			path:    "/vouchers",
		}, true
	case mq.PayoutReleased:
		return message{
			subject: "Payout on its way",
			lines:   []string{"Funds for a completed booking have been released to your account."},
			path:    "/bookings/" + evt.BookingID,
		}, true
	case mq.VerificationDecided:
		return message{
			subject: "Verification update",
			lines:   []string{fmt.Sprintf("Your %s check is now %s.", checkName(d["type"]), d["state"])},
			path:    "/verification",
		}, true
	case mq.VerificationExpiring:
		return message{
			subject: "A check is about to expire",
			lines:   []string{fmt.Sprintf("Your %s expires on %s. Renew it to keep your profile listed.", checkName(d["type"]), d["expiryDate"])},
			path:    "/verification",
		}, true
	case mq.ShareJoined:
		return message{
			subject: "A family joined your nanny share",
			lines:   []string{fmt.Sprintf("Another family joined %q.", d["title"])},
			path:    "/nanny-shares/" + evt.ShareID,
		}, true
	case mq.ShareNannyAssigned:
		return message{
			subject: "You've been assigned to a nanny share",
			lines:   []string{fmt.Sprintf("You are now the nanny for %q.", d["title"])},
			path:    "/nanny-shares/" + evt.ShareID,
		}, true
	}
	return message{}, false
}

func checkName(t string) string {
	switch t {
	case "wwcc":
		return "Working With Children Check"
	case "background_check":
		return "background check"
	}
	return t
}

func voucherName(t string) string {
	switch t {
	case "wwcc-certification":
		return "Working With Children Check"
	case "first-aid":
		return "first aid certificate"
	case "police-check":
		return "police check"
	}
	return t
}

func (m message) render(name, frontendURL string) (text, htmlBody string) {
	link := strings.TrimRight(frontendURL, "/") + m.path

	var tb, hb strings.Builder
	fmt.Fprintf(&tb, "Hi %s,\n\n", name)
	fmt.Fprintf(&hb, "<p>Hi %s,</p>", html.EscapeString(name))
	for _, l := range m.lines {
		tb.WriteString(l + "\n")
		hb.WriteString("<p>" + html.EscapeString(l) + "</p>")
	}
	fmt.Fprintf(&tb, "\n%s\n", link)
	fmt.Fprintf(&hb, `<p><a href="%s">View in NannyNest</a></p>`, html.EscapeString(link))
	return tb.String(), hb.String()
}
