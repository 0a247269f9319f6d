// Package chat pushes panel chat events to websocket subscribers of a project room.
package chat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	EventMessage          = "message"
	EventItemChanged      = "item_changed"
	EventBrainstormClosed = "brainstorm_closed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBuffer     = 32
)

// Message is the chat message payload. Own is filled per subscriber.
type Message struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
	ExpertName string    `json:"expert_name"`
	ExpertID   int64     `json:"expert_id"`
	Own        bool      `json:"own"`
}

// Envelope is one event addressed to a project room.
type Envelope struct {
	Type      string   `json:"type"`
	ProjectID int64    `json:"project_id"`
	Message   *Message `json:"message,omitempty"`
	ItemID    int64    `json:"item_id,omitempty"`
}

// Publisher forwards events to other instances.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Hub struct {
	mu       sync.RWMutex
	rooms    map[int64]map[*Client]struct{}
	relay    Publisher
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHub creates an empty hub. corsOrigin "*" or "" accepts any websocket origin.
func NewHub(logger zerolog.Logger, corsOrigin string) *Hub {
	h := &Hub{
		rooms:  make(map[int64]map[*Client]struct{}),
		logger: logger.With().Str("component", "chat").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return corsOrigin == "" || corsOrigin == "*" || origin == "" || origin == corsOrigin
		},
	}
	return h
}

// SetRelay attaches a cross-instance publisher.
func (h *Hub) SetRelay(p Publisher) {
	h.mu.Lock()
	h.relay = p
	h.mu.Unlock()
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[c.projectID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.projectID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	room, ok := h.rooms[c.projectID]
	if !ok {
		return
	}
	if _, ok := room[c]; !ok {
		return
	}
	delete(room, c)
	close(c.send)
	if len(room) == 0 {
		delete(h.rooms, c.projectID)
	}
}

// RoomSize reports how many local subscribers a project room has.
func (h *Hub) RoomSize(projectID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[projectID])
}

// Publish delivers env to local subscribers and forwards it through the relay.
func (h *Hub) Publish(ctx context.Context, env Envelope) {
	h.Deliver(env)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	if err := relay.Publish(ctx, env); err != nil {
		h.logger.Warn().Err(err).Int64("project_id", env.ProjectID).Msg("chat relay publish failed")
	}
}

// Deliver fans env out to local subscribers only. Slow subscribers are dropped.
// A brainstorm closure is the last event of a room: every subscriber is detached after it.
func (h *Hub) Deliver(env Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[env.ProjectID] {
		select {
		case c.send <- env:
			if env.Type == EventBrainstormClosed {
				h.removeLocked(c)
			}
		default:
			h.logger.Warn().Int64("project_id", env.ProjectID).Int64("expert_id", c.expertID).Msg("dropping slow chat subscriber")
			h.removeLocked(c)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range h.rooms {
		for c := range room {
			h.removeLocked(c)
		}
	}
}

// ServeWS upgrades the request and streams the project's events until the
// peer disconnects. Access checks happen before this is called.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, projectID, expertID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := newClient(h, conn, projectID, expertID)
	h.Register(c)
	h.logger.Debug().Int64("project_id", projectID).Int64("expert_id", expertID).Msg("chat subscriber joined")

	go c.writePump()
	c.readPump()
	return nil
}
