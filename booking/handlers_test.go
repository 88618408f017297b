package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nannynest/globals"
	"nannynest/models"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func as(r *http.Request, a models.Actor) *http.Request {
	ctx := context.WithValue(r.Context(), globals.UserIDKey, a.ID)
	ctx = context.WithValue(ctx, globals.RoleKey, a.Roles)
	return r.WithContext(ctx)
}

func TestCreateBookingHandler(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)

	body := `{"caregiverId":"c1","startDate":"2025-01-01","endDate":"2025-01-03","hoursPerDay":8,"ratePerHour":25}`
	req := as(httptest.NewRequest(http.MethodPost, "/api/bookings/create", strings.NewReader(body)), parent)
	rec := httptest.NewRecorder()
	h.CreateBooking(rec, req, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b models.Booking
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.EqualValues(t, 2500, b.RatePerHour)
	assert.EqualValues(t, 69000, b.Total)
	assert.Equal(t, "p1", b.ParentID)
}

func TestCreateBookingHandlerValidation(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)

	for _, body := range []string{
		`{"caregiverId":"c1","endDate":"2025-01-03","hoursPerDay":8,"ratePerHour":25}`,
		`{"caregiverId":"c1","startDate":"2025-01-05","endDate":"2025-01-03","hoursPerDay":8,"ratePerHour":25}`,
		`not json`,
	} {
		req := as(httptest.NewRequest(http.MethodPost, "/api/bookings/create", strings.NewReader(body)), parent)
		rec := httptest.NewRecorder()
		h.CreateBooking(rec, req, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRespondHandler(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)
	b, err := m.Create(context.Background(), parent.ID, validRequest())
	require.NoError(t, err)
	ps := httprouter.Params{{Key: "id", Value: b.ID}}

	respond := func(who models.Actor, action string) *httptest.ResponseRecorder {
		req := as(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"action":"`+action+`"}`)), who)
		rec := httptest.NewRecorder()
		h.RespondToBooking(rec, req, ps)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, respond(caregiver, "maybe").Code)
	assert.Equal(t, http.StatusForbidden, respond(parent, "accept").Code)
	rec := respond(caregiver, "accept")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"confirmed"`)
	assert.Equal(t, http.StatusConflict, respond(caregiver, "decline").Code)
}

func TestQuoteHandler(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)

	body := `{"startDate":"2025-01-01","endDate":"2025-01-03","hoursPerDay":8,"ratePerHour":25}`
	rec := httptest.NewRecorder()
	h.QuoteBooking(rec, httptest.NewRequest(http.MethodPost, "/api/bookings/quote", strings.NewReader(body)), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"days":3,"hoursPerDay":8,"ratePerHour":2500,"subtotal":60000,"serviceFee":9000,"total":69000,"caregiverAmount":60000,"feeRate":"0.15"}`, rec.Body.String())
}
