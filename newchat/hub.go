package newchat

import (
	"encoding/json"
	"sync"

	"nannynest/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Client struct {
	Conn   *websocket.Conn
	Send   chan []byte
	Room   string
	UserID string
}

type broadcastMsg struct {
	Room string
	Msg  models.Message
}

// outboundPayload is what subscribers receive for every new message.
type outboundPayload struct {
	Action  string         `json:"action"`
	Message models.Message `json:"message"`
}

// Hub fans stored messages out to the websocket clients watching each
// conversation. Every client receives the message as its user may see it.
type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
	log        *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		quit:       make(chan struct{}),
		log:        log.Named("hub"),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if h.rooms[c.Room] == nil {
				h.rooms[c.Room] = make(map[*Client]bool)
			}
			h.rooms[c.Room][c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.rooms[m.Room] {
				data, err := json.Marshal(outboundPayload{Action: "message", Message: m.Msg.ViewFor(c.UserID)})
				if err != nil {
					h.log.Error("marshal message", zap.Error(err))
					continue
				}
				select {
				case c.Send <- data:
				default:
					// slow consumer
					h.drop(c)
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for _, conns := range h.rooms {
				for c := range conns {
					h.drop(c)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop must be called with mu held.
func (h *Hub) drop(c *Client) {
	conns := h.rooms[c.Room]
	if conns == nil || !conns[c] {
		return
	}
	delete(conns, c)
	close(c.Send)
	if len(conns) == 0 {
		delete(h.rooms, c.Room)
	}
}

// Broadcast queues msg for everyone watching its conversation.
func (h *Hub) Broadcast(msg models.Message) {
	select {
	case h.broadcast <- broadcastMsg{Room: msg.ConversationKey, Msg: msg}:
	case <-h.quit:
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		close(c.Send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Stop disconnects every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Watchers returns how many clients follow room.
func (h *Hub) Watchers(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}
