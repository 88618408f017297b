package booking

import (
	"context"
	"net/http"
	"time"

	"nannynest/models"
	"nannynest/pricing"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
)

const requestTimeout = 5 * time.Second

type Handlers struct {
	mgr *Manager
}

func NewHandlers(mgr *Manager) *Handlers {
	return &Handlers{mgr: mgr}
}

type bookingBody struct {
	CaregiverID string  `json:"caregiverId"`
	JobID       string  `json:"jobId"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	HoursPerDay int     `json:"hoursPerDay"`
	RatePerHour float64 `json:"ratePerHour"` // dollars
	Notes       string  `json:"notes"`
}

func (b bookingBody) request() (CreateRequest, error) {
	start, err := pricing.ParseDate("startDate", b.StartDate)
	if err != nil {
		return CreateRequest{}, err
	}
	end, err := pricing.ParseDate("endDate", b.EndDate)
	if err != nil {
		return CreateRequest{}, err
	}
	return CreateRequest{
		CaregiverID: b.CaregiverID,
		JobID:       b.JobID,
		StartDate:   start,
		EndDate:     end,
		HoursPerDay: b.HoursPerDay,
		RatePerHour: pricing.CentsFromDollars(b.RatePerHour),
		Notes:       b.Notes,
	}, nil
}

// POST /api/bookings/create
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body bookingBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	b, err := h.mgr.Create(ctx, utils.GetUserIDFromRequest(r), req)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, b)
}

// POST /api/bookings/quote
func (h *Handlers) QuoteBooking(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body bookingBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	q, err := h.mgr.Quote(req.StartDate, req.EndDate, req.HoursPerDay, req.RatePerHour)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, q)
}

// GET /api/bookings?role=parent|caregiver&status=
func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	bookings, err := h.mgr.List(ctx, utils.ActorFromRequest(r), q.Get("role"), models.BookingStatus(q.Get("status")))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookings": bookings})
}

// GET /api/bookings/:id
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	b, err := h.mgr.Get(ctx, ps.ByName("id"), utils.ActorFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// POST /api/bookings/:id/respond {"action": "accept"|"decline"}
func (h *Handlers) RespondToBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Action string `json:"action"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	userID := utils.GetUserIDFromRequest(r)
	var (
		b   *models.Booking
		err error
	)
	switch body.Action {
	case "accept":
		b, err = h.mgr.Confirm(ctx, ps.ByName("id"), userID)
	case "decline":
		b, err = h.mgr.Decline(ctx, ps.ByName("id"), userID)
	default:
		err = xerrors.Invalid("action", "must be accept or decline")
	}
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// POST /api/bookings/:id/complete
func (h *Handlers) CompleteBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	b, err := h.mgr.Complete(ctx, ps.ByName("id"), utils.ActorFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}

// POST /api/bookings/:id/cancel
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	b, err := h.mgr.Cancel(ctx, ps.ByName("id"), utils.ActorFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, b)
}
