package auth

import (
	"context"
	"net/http"
	"time"

	"nannynest/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// POST /api/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body RegisterRequest
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := h.svc.Register(ctx, body)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, sess)
}

// POST /api/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := h.svc.Login(ctx, body.Email, body.Password)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, sess)
}

// POST /api/auth/refresh
func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := h.svc.Refresh(ctx, body.RefreshToken)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, sess)
}

// POST /api/auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.Logout(ctx, utils.GetUserIDFromRequest(r)); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true})
}

type PhoneHandlers struct {
	verifier *PhoneVerifier
}

func NewPhoneHandlers(v *PhoneVerifier) *PhoneHandlers {
	return &PhoneHandlers{verifier: v}
}

type phoneBody struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// POST /api/phone/send-code {"phone": "0412 345 678"}
func (h *PhoneHandlers) SendCode(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body phoneBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	phone, err := h.verifier.SendCode(ctx, utils.GetUserIDFromRequest(r), body.Phone)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "phone": phone})
}

// POST /api/phone/verify {"phone": "...", "code": "123456"}
func (h *PhoneHandlers) Verify(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body phoneBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	phone, err := h.verifier.VerifyCode(ctx, utils.GetUserIDFromRequest(r), body.Phone, body.Code)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"success": true, "phone": phone, "phoneVerified": true})
}
