package nannyshare

import (
	"context"
	"net/http"
	"time"

	"nannynest/pricing"
	"nannynest/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

type shareBody struct {
	Title        string  `json:"title"`
	Location     string  `json:"location"`
	Suburb       string  `json:"suburb"`
	RatePerHour  float64 `json:"ratePerHour"` // dollars
	Schedule     string  `json:"schedule"`
	StartDate    string  `json:"startDate"`
	EndDate      string  `json:"endDate"`
	Requirements string  `json:"requirements"`
	MaxFamilies  int     `json:"maxFamilies"`
}

func (b shareBody) request() (CreateRequest, error) {
	start, err := pricing.ParseDate("startDate", b.StartDate)
	if err != nil {
		return CreateRequest{}, err
	}
	req := CreateRequest{
		Title:        b.Title,
		Location:     b.Location,
		Suburb:       b.Suburb,
		RatePerHour:  pricing.CentsFromDollars(b.RatePerHour),
		Schedule:     b.Schedule,
		StartDate:    start,
		Requirements: b.Requirements,
		MaxFamilies:  b.MaxFamilies,
	}
	if b.EndDate != "" {
		end, err := pricing.ParseDate("endDate", b.EndDate)
		if err != nil {
			return CreateRequest{}, err
		}
		req.EndDate = &end
	}
	return req, nil
}

// POST /api/nanny-shares
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body shareBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	req, err := body.request()
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	share, err := h.svc.Create(ctx, utils.GetUserIDFromRequest(r), req)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, share)
}

// GET /api/nanny-shares?suburb=&mine=true
func (h *Handlers) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	var (
		shares any
		err    error
	)
	if q.Get("mine") == "true" {
		shares, err = h.svc.ListForParent(ctx, utils.GetUserIDFromRequest(r))
	} else {
		shares, err = h.svc.List(ctx, q.Get("suburb"))
	}
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, shares)
}

// GET /api/nanny-shares/:id
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	share, err := h.svc.Get(ctx, ps.ByName("id"))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, share)
}

// GET /api/nanny-shares/:id/members
func (h *Handlers) Members(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	members, err := h.svc.Members(ctx, ps.ByName("id"), utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"members": members})
}

// POST /api/nanny-shares/:id/join
func (h *Handlers) Join(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	share, err := h.svc.Join(ctx, ps.ByName("id"), utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, share)
}

// POST /api/nanny-shares/:id/leave
func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	share, err := h.svc.Leave(ctx, ps.ByName("id"), utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, share)
}

// POST /api/nanny-shares/:id/assign-nanny {"nannyId": ""}
func (h *Handlers) AssignNanny(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		NannyID string `json:"nannyId"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	share, err := h.svc.AssignNanny(ctx, ps.ByName("id"), utils.GetUserIDFromRequest(r), body.NannyID)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, share)
}
