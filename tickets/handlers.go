package tickets

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"nannynest/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	docs *Documents
}

func NewHandlers(docs *Documents) *Handlers {
	return &Handlers{docs: docs}
}

func writeFile(w http.ResponseWriter, contentType, disposition string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if disposition != "" {
		w.Header().Set("Content-Disposition", disposition)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GET /api/bookings/:id/qr
func (h *Handlers) BookingQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	png, err := h.docs.QR(ctx, ps.ByName("id"), utils.ActorFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeFile(w, "image/png", "", png)
}

// GET /api/bookings/:id/invoice
func (h *Handlers) BookingInvoice(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	pdf, err := h.docs.Invoice(ctx, ps.ByName("id"), utils.ActorFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	writeFile(w, "application/pdf", "attachment; filename="+utils.SanitizeFilename("invoice-"+ps.ByName("id")+".pdf"), pdf)
}

// POST /api/bookings/checkin
func (h *Handlers) CheckIn(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Payload string `json:"payload"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	b, err := h.docs.CheckIn(ctx, body.Payload, utils.ActorFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{"bookingId": b.ID, "checkedIn": true})
}
