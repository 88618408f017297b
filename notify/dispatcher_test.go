package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"nannynest/models"
	"nannynest/mq"
	"nannynest/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUsers map[string]*models.User

func (f fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, xerrors.NotFound("user")
}

type outbox struct {
	mu   sync.Mutex
	sent []Mail
	err  error
}

func (o *outbox) Send(_ context.Context, m Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sent = append(o.sent, m)
	return nil
}

func newTestDispatcher() (*Dispatcher, *outbox) {
	users := fakeUsers{
		"c1": {ID: "c1", Email: "cam@example.com", FirstName: "Cam", LastName: "Lee"},
		"p1": {ID: "p1", Email: "pat@example.com", FirstName: "Pat <b>"},
	}
	box := &outbox{}
	return NewDispatcher(users, box, "https://app.example.com/", zap.NewNop()), box
}

func TestDispatchBookingRequested(t *testing.T) {
	d, box := newTestDispatcher()
	err := d.Handle(context.Background(), mq.Event{
		Name:      mq.BookingRequested,
		Recipient: "c1",
		BookingID: "b1",
		Data:      map[string]string{"total": "$690.00"},
	})
	require.NoError(t, err)
	require.Len(t, box.sent, 1)

	m := box.sent[0]
	assert.Equal(t, "cam@example.com", m.To)
	assert.Equal(t, "Cam Lee", m.ToName)
	assert.Equal(t, "New booking request", m.Subject)
	assert.Contains(t, m.Text, "Hi Cam,")
	assert.Contains(t, m.Text, "$690.00")
	assert.Contains(t, m.Text, "https://app.example.com/bookings/b1")
}

func TestDispatchEscapesHTML(t *testing.T) {
	d, box := newTestDispatcher()
	require.NoError(t, d.Handle(context.Background(), mq.Event{
		Name: mq.BookingConfirmed, Recipient: "p1", BookingID: "b1",
	}))
	require.Len(t, box.sent, 1)
	assert.Contains(t, box.sent[0].HTML, "Pat &lt;b&gt;")
	assert.NotContains(t, box.sent[0].HTML, "<b>")
}

func TestDispatchVerificationExpiring(t *testing.T) {
	d, box := newTestDispatcher()
	require.NoError(t, d.Handle(context.Background(), mq.Event{
		Name: mq.VerificationExpiring, Recipient: "c1",
		Data: map[string]string{"type": "wwcc", "expiryDate": "2025-04-01"},
	}))
	require.Len(t, box.sent, 1)
	assert.Contains(t, box.sent[0].Text, "Working With Children Check expires on 2025-04-01")
}

func TestDispatchSkipsAndErrors(t *testing.T) {
	d, box := newTestDispatcher()
	ctx := context.Background()

	// internal events are not mailed
	require.NoError(t, d.Handle(ctx, mq.Event{Name: mq.VerificationSubmitted, Recipient: "c1"}))
	require.NoError(t, d.Handle(ctx, mq.Event{Name: mq.BookingConfirmed}))
	assert.Empty(t, box.sent)

	err := d.Handle(ctx, mq.Event{Name: mq.BookingConfirmed, Recipient: "ghost"})
	assert.ErrorIs(t, err, xerrors.ErrNotFound)

	box.err = errors.New("smtp down")
	err = d.Handle(ctx, mq.Event{Name: mq.BookingConfirmed, Recipient: "p1"})
	assert.ErrorContains(t, err, "smtp down")
}

func TestDispatcherOnBus(t *testing.T) {
	d, box := newTestDispatcher()
	bus := mq.NewMemoryBus(zap.NewNop())
	ctx := context.Background()
	bus.Subscribe(ctx, mq.TopicNotify, d.Handle)

	require.NoError(t, bus.Publish(ctx, mq.TopicNotify, mq.Event{
		Name: mq.ShareNannyAssigned, Recipient: "c1", ShareID: "s1",
		Data: map[string]string{"title": "Tuesday share"},
	}))
	require.Len(t, box.sent, 1)
	assert.Contains(t, box.sent[0].Text, `"Tuesday share"`)
	assert.Contains(t, box.sent[0].Text, "/nanny-shares/s1")
}
