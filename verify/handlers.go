package verify

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"nannynest/models"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
)

// CallbackSecretHeader authenticates decisions posted by the authority.
const CallbackSecretHeader = "X-Verification-Secret"

type Handlers struct {
	reg            *Registry
	callbackSecret string
}

func NewHandlers(reg *Registry, callbackSecret string) *Handlers {
	return &Handlers{reg: reg, callbackSecret: callbackSecret}
}

// POST /api/wwcc/verify
func (h *Handlers) SubmitWWCC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body WWCCPayload
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.reg.SubmitWWCC(ctx, utils.GetUserIDFromRequest(r), body)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, rec)
}

// POST /api/background-check/initiate
func (h *Handlers) InitiateBackgroundCheck(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body BackgroundCheckPayload
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rec, err := h.reg.SubmitBackgroundCheck(ctx, utils.GetUserIDFromRequest(r), body)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, utils.M{
		"checkId": rec.ID,
		"status":  rec.State,
		"record":  rec,
	})
}

// GET /api/verification/status[?subjectId=] (subjectId is admin only)
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	actor := utils.ActorFromRequest(r)
	subject := actor.ID
	if q := r.URL.Query().Get("subjectId"); q != "" && q != actor.ID {
		if !actor.IsAdmin() {
			utils.RespondWithErr(w, xerrors.ErrForbidden)
			return
		}
		subject = q
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rep, err := h.reg.Status(ctx, subject)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, rep)
}

// GET /api/wwcc/providers/:state
func (h *Handlers) GetProvider(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	p, ok := Provider(ps.ByName("state"))
	if !ok {
		utils.RespondWithErr(w, xerrors.NotFound("WWCC provider"))
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, p)
}

// POST /api/verification/:id/decision {"approved": bool, "reason": ""}
// Callers present the authority secret or an admin token.
func (h *Handlers) Decide(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if !h.authorityCall(r) && !utils.ActorFromRequest(r).Has(models.RoleAdmin) {
		utils.RespondWithErr(w, xerrors.ErrForbidden)
		return
	}
	var body struct {
		Approved *bool  `json:"approved"`
		Reason   string `json:"reason"`
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

	rec, err := h.reg.Decide(ctx, ps.ByName("id"), *body.Approved, body.Reason)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, rec)
}

func (h *Handlers) authorityCall(r *http.Request) bool {
	got := r.Header.Get(CallbackSecretHeader)
	if h.callbackSecret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackSecret)) == 1
}
