package vouchers

import (
	"context"
	"net/http"
	"time"

	"nannynest/models"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// GET /api/vouchers/types
func (h *Handlers) Types(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	utils.RespondWithJSON(w, http.StatusOK, Types())
}

// GET /api/vouchers/eligibility
func (h *Handlers) Eligibility(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	e, err := h.svc.Eligibility(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, e)
}

// POST /api/vouchers
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body Claim
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.svc.Submit(ctx, utils.GetUserIDFromRequest(r), body)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, v)
}

// GET /api/vouchers
func (h *Handlers) Mine(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	vs, err := h.svc.ListByCaregiver(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"vouchers": vs})
}

// GET /api/admin/vouchers[?status=]
func (h *Handlers) AdminList(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	vs, err := h.svc.List(ctx, models.VoucherStatus(r.URL.Query().Get("status")))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	st, err := h.svc.Stats(ctx)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"stats": st, "vouchers": vs})
}

// POST /api/admin/vouchers/:id/decision {"approved": bool, "notes": ""}
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Approved *bool  `json:"approved"`
		Notes    string `json:"notes"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	if body.Approved == nil {
		utils.RespondWithErr(w, xerrors.Invalid("approved", "is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	v, err := h.svc.Decide(ctx, ps.ByName("id"), *body.Approved, body.Notes)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, v)
}

// POST /api/admin/vouchers/:id/pay
func (h *Handlers) Pay(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	v, err := h.svc.Pay(ctx, ps.ByName("id"))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"success":   true,
		"paymentId": v.TransferID,
		"voucher":   v,
	})
}
