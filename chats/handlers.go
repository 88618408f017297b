package chats

import (
	"context"
	"net/http"
	"time"

	"nannynest/utils"
	"nannynest/xerrors"

	"github.com/julienschmidt/httprouter"
)

type Handlers struct {
	relay *Relay
}

func NewHandlers(relay *Relay) *Handlers {
	return &Handlers{relay: relay}
}

type sendBody struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// POST /api/sendMessage
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body sendBody
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	userID := utils.GetUserIDFromRequest(r)
	if body.SenderID != "" && body.SenderID != userID {
		utils.RespondWithErr(w, xerrors.ErrForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	msg, err := h.relay.SendDirect(ctx, userID, body.ReceiverID, body.Content)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, msg)
}

// GET /api/messages/:conversationKey
func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.list(w, r, ps.ByName("conversationKey"))
}

// GET /api/conversations
func (h *Handlers) ListConversations(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	convs, err := h.relay.Conversations(ctx, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, convs)
}

// GET /api/nanny-shares/:id/messages
func (h *Handlers) GetShareMessages(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	h.list(w, r, ShareKey(ps.ByName("id")))
}

// POST /api/nanny-shares/:id/messages {"content": ""}
func (h *Handlers) PostShareMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &body); err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	msg, err := h.relay.SendToShare(ctx, ps.ByName("id"), utils.GetUserIDFromRequest(r), body.Content)
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, msg)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request, key string) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	msgs, err := h.relay.Messages(ctx, key, utils.GetUserIDFromRequest(r))
	if err != nil {
		utils.RespondWithErr(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, utils.M{
		"conversationKey": key,
		"messages":        msgs,
	})
}
