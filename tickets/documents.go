package tickets

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"nannynest/models"
	"nannynest/pricing"
	"nannynest/xerrors"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// BookingReader is satisfied by booking.Manager.
type BookingReader interface {
	Get(ctx context.Context, id string, actor models.Actor) (*models.Booking, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// Documents renders check-in codes and invoices for bookings.
type Documents struct {
	bookings BookingReader
	users    UserReader
	signer   Signer
	log      *zap.Logger
	now      func() time.Time
}

func NewDocuments(bookings BookingReader, users UserReader, signer Signer, log *zap.Logger) *Documents {
	return &Documents{
		bookings: bookings,
		users:    users,
		signer:   signer,
		log:      log.Named("tickets"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// QR returns a PNG check-in code. Only confirmed bookings have one.
func (d *Documents) QR(ctx context.Context, id string, actor models.Actor) ([]byte, error) {
	b, err := d.bookings.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed {
		return nil, xerrors.NotEligible("check-in codes exist only for confirmed bookings")
	}
	payload := d.signer.Payload(b.ID, b.CaregiverID, b.StartDate, b.EndDate)
	png, err := qrcode.Encode(payload, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// CheckIn validates a scanned code. The scanning caregiver must be the
// one named in the code, the booking must still be confirmed and today
// must fall inside the booked days.
func (d *Documents) CheckIn(ctx context.Context, payload string, actor models.Actor) (*models.Booking, error) {
	c, err := d.signer.Verify(strings.TrimSpace(payload))
	if err != nil {
		return nil, xerrors.Invalid("payload", err.Error())
	}
	if c.CaregiverID != actor.ID {
		return nil, xerrors.ErrForbidden
	}
	b, err := d.bookings.Get(ctx, c.BookingID, actor)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed {
		return nil, xerrors.NotEligible("booking is " + string(b.Status))
	}
	today := d.now().Truncate(24 * time.Hour)
	if today.Before(c.Start) || today.After(c.End) {
		return nil, xerrors.NotEligible("outside the booked days")
	}
	d.log.Info("check-in accepted", zap.String("booking_id", b.ID), zap.String("caregiver_id", actor.ID))
	return b, nil
}

func (d *Documents) name(ctx context.Context, id string) string {
	u, err := d.users.GetByID(ctx, id)
	if err != nil {
		d.log.Warn("invoice party lookup failed", zap.String("user_id", id), zap.Error(err))
		return id
	}
	return u.FullName()
}

func InvoiceNumber(b *models.Booking) string {
	id := strings.ReplaceAll(b.ID, "-", "")
	if len(id) > 10 {
		id = id[:10]
	}
	return "INV-" + strings.ToUpper(id)
}

// Invoice renders a PDF for a booking whose payment has been captured.
func (d *Documents) Invoice(ctx context.Context, id string, actor models.Actor) ([]byte, error) {
	b, err := d.bookings.Get(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !b.PaymentStatus.Paid() {
		return nil, xerrors.NotEligible("invoice is available once the booking is paid")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(InvoiceNumber(b), false)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, "Tax Invoice")
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	row := func(label, value string) {
		pdf.CellFormat(45, 7, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, value, "", 1, "L", false, 0, "")
	}
	row("Invoice", InvoiceNumber(b))
	if b.PaidAt != nil {
		row("Paid", b.PaidAt.Format("2 Jan 2006"))
	}
	row("Parent", d.name(ctx, b.ParentID))
	row("Caregiver", d.name(ctx, b.CaregiverID))
	row("Dates", b.StartDate.Format("2 Jan 2006")+" to "+b.EndDate.Format("2 Jan 2006"))
	if b.PaymentIntentID != "" {
		row("Payment ref", b.PaymentIntentID)
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(235, 235, 235)
	pdf.CellFormat(110, 8, "Description", "1", 0, "L", true, 0, "")
	pdf.CellFormat(0, 8, "Amount ("+b.Currency+")", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 11)
	line := func(desc string, cents int64) {
		pdf.CellFormat(110, 8, desc, "1", 0, "L", false, 0, "")
		pdf.CellFormat(0, 8, pricing.Format(cents), "1", 1, "R", false, 0, "")
	}
	line(fmt.Sprintf("Care: %d days x %d h at %s/h", b.Days, b.HoursPerDay, pricing.Format(b.RatePerHour)), b.Subtotal)
	line("Service fee ("+b.FeeRate+")", b.ServiceFee)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(110, 8, "Total", "1", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, pricing.Format(b.Total), "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice: %w", err)
	}
	return buf.Bytes(), nil
}
