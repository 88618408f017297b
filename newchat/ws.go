package newchat

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nannynest/chats"
	"nannynest/models"
	"nannynest/utils"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxInbound = 8 << 10
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// inboundPayload is what clients may send over the socket.
type inboundPayload struct {
	Action  string `json:"action"` // "chat"
	Content string `json:"content"`
}

// Handler streams a conversation: history first, then every new message.
// Sending over the socket goes through the same relay as the REST endpoint.
// GET /ws/conversations/:conversationKey
func Handler(hub *Hub, relay *chats.Relay, log *zap.Logger) httprouter.Handle {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		key := ps.ByName("conversationKey")
		userID := utils.GetUserIDFromRequest(r)

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		history, err := relay.Messages(ctx, key, userID)
		cancel()
		if err != nil {
			utils.RespondWithErr(w, err)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			Conn:   conn,
			Send:   make(chan []byte, 256),
			Room:   key,
			UserID: userID,
		}
		for _, m := range history {
			if data, err := json.Marshal(outboundPayload{Action: "history", Message: m}); err == nil {
				client.Send <- data
			}
			if len(client.Send) == cap(client.Send) {
				break
			}
		}

		hub.Register(client)
		go writePump(client)
		go readPump(client, hub, relay, log)
	}
}

func writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(c *Client, hub *Hub, relay *chats.Relay, log *zap.Logger) {
	defer func() {
		hub.Unregister(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxInbound)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var in inboundPayload
		if err := json.Unmarshal(raw, &in); err != nil || in.Action != "chat" {
			log.Debug("ignored payload", zap.String("user_id", c.UserID))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err = send(ctx, relay, c.Room, c.UserID, in.Content)
		cancel()
		if err != nil {
			log.Warn("socket send failed", zap.String("room", c.Room), zap.Error(err))
		}
	}
}

// send routes a socket message to the relay; the relay broadcasts it back
// through the hub.
func send(ctx context.Context, relay *chats.Relay, key, senderID, content string) (*models.Message, error) {
	if shareID, ok := strings.CutPrefix(key, "share:"); ok {
		return relay.SendToShare(ctx, shareID, senderID, content)
	}
	a, b, _ := strings.Cut(key, ":")
	receiver := a
	if a == senderID {
		receiver = b
	}
	return relay.SendDirect(ctx, senderID, receiver, content)
}
