package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"offerflow/workflow"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub pushes events to connected websocket clients, keyed by actor id. An
// offline recipient is not an error: the event is durable in the outbox and
// the other sinks.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*hubClient]struct{}
	logger  *log.Logger
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		clients: make(map[string]map[*hubClient]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(actorID string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[actorID] == nil {
		h.clients[actorID] = make(map[*hubClient]struct{})
	}
	h.clients[actorID][c] = struct{}{}
	h.logger.Printf("hub: client registered: %s", actorID)
}

func (h *Hub) unregister(actorID string, c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[actorID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, actorID)
	}
	h.logger.Printf("hub: client unregistered: %s", actorID)
}

// Connected reports the number of live connections for an actor.
func (h *Hub) Connected(actorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[actorID])
}

func (h *Hub) Deliver(ctx context.Context, ev workflow.Event) error {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients[ev.RecipientID]))
	for c := range h.clients[ev.RecipientID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}
	msg, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	var failed int
	for _, c := range targets {
		if err := c.write(msg); err != nil {
			failed++
			h.logger.Printf("hub: write to %s: %v", ev.RecipientID, err)
		}
	}
	if failed == len(targets) {
		return fmt.Errorf("notify: websocket push %s failed on all %d connections", ev.ID, failed)
	}
	return nil
}

// Serve upgrades the request and keeps the connection registered under
// actorID until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, actorID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("hub: upgrade: %v", err)
		return
	}
	c := &hubClient{conn: conn}
	h.register(actorID, c)
	defer func() {
		h.unregister(actorID, c)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		c.mu.Lock()
		defer c.mu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("hub: unexpected close for %s: %v", actorID, err)
			}
			return
		}
	}
}
