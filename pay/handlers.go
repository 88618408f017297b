package pay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"nannynest/stripe"
	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const maxWebhookBody = 65536

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*stripe.WebhookEvent, error)
}

type Handlers struct {
	coord   *Coordinator
	onboard *Onboarding
	hooks   WebhookParser
}

func NewHandlers(coord *Coordinator, onboard *Onboarding, hooks WebhookParser) *Handlers {
	return &Handlers{coord: coord, onboard: onboard, hooks: hooks}
}

// POST /api/bookings/:id/pay
func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	session, err := h.coord.InitiatePayment(ctx, ps.ByName("id"), utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, session)
}

// POST /api/stripe/webhook
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		utils.RespondWithError(w, http.StatusServiceUnavailable, "failed to read body")
		return
	}
	evt, err := h.hooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.coord.log.Warn("webhook rejected", zap.Error(err))
		utils.RespondWithError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	switch evt.Type {
	case stripe.EventPaymentSucceeded:
		capt := Capture{PaymentIntentID: evt.PaymentIntentID, ChargeID: evt.ChargeID, BookingID: evt.BookingID}
		if _, err := h.coord.ConfirmCapture(ctx, capt); err != nil {
			h.coord.log.Error("capture not recorded",
				zap.String("event_id", evt.ID),
				zap.String("payment_intent", evt.PaymentIntentID),
				zap.Error(err))
			// non-2xx makes Stripe redeliver
			utils.RespondWithErr(w, err)
			return
		}
	case stripe.EventAccountUpdated:
		if h.onboard == nil {
			break
		}
		if err := h.onboard.AccountUpdated(ctx, evt.AccountID, evt.PayoutsEnabled); err != nil {
			h.coord.log.Error("account update not recorded",
				zap.String("event_id", evt.ID),
				zap.String("account_id", evt.AccountID),
				zap.Error(err))
			utils.RespondWithErr(w, err)
			return
		}
	default:
		h.coord.log.Debug("webhook ignored", zap.String("type", evt.Type))
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"received": true})
}

// POST /api/stripe/transfer-to-caregiver {"bookingId": "..."}
func (h *Handlers) TransferToCaregiver(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		BookingID string `json:"bookingId"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	if body.BookingID == "" {
		utils.RespondWithErr(w, xerrors.Invalid("bookingId", "is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	rel, err := h.coord.ReleaseToProvider(ctx, body.BookingID)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"success":    true,
		"amount":     rel.Amount,
		"transferId": rel.TransferID,
	})
}

// POST /api/admin/release-payments {"bookingIds": [...]}; an empty body
// releases everything due.
func (h *Handlers) ReleasePayments(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	var body struct {
		BookingIDs []string `json:"bookingIds"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			utils.RespondWithErr(w, xerrors.Invalid("", "invalid JSON body"))
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	res, err := h.coord.BulkRelease(ctx, body.BookingIDs)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, res)
}

// GET /api/admin/payouts/due
func (h *Handlers) ListDue(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	due, err := h.coord.Due(ctx)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookings": due})
}

// POST /api/stripe/connect/create-account
func (h *Handlers) CreateConnectAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	accountID, url, err := h.onboard.Start(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"accountId": accountID, "url": url})
}

// GET /api/stripe/connect/status
func (h *Handlers) ConnectStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	acct, err := h.onboard.Status(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, acct)
}
