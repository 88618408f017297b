package users

import (
	"context"
	"net/http"
	"time"

	"nannynest/utils"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	store Store
}

func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// GET /api/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	u, err := h.store.GetByID(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, u)
}
