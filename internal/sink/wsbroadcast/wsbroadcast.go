// Package wsbroadcast implements a reference dashboard sink: a
// websocket hub that fans out finalized bars and signal events to
// connected clients as JSON frames, adapted from the teacher's
// MsgPack snapshot broadcaster into a domain-agnostic, newly-connecting-
// client-gets-recent-history shape.
package wsbroadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/marketcore/tickcore/internal/model"
)

const clientSendBuffer = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type frame struct {
	Kind   string             `json:"kind"` // "bar" or "signal"
	Bar    *model.Bar         `json:"bar,omitempty"`
	Signal *model.SignalEvent `json:"signal,omitempty"`
}

// Hub is a BarSink and SignalSink that fans frames out to registered
// websocket clients, and replays a bounded history of recent frames to
// newly connected clients before switching them to live mode.
type Hub struct {
	log *slog.Logger

	history    []frame
	historyCap int

	register   chan *client
	unregister chan *client
	broadcast  chan frame
	clients    map[*client]bool
}

// NewHub creates a Hub and starts its run loop. historyCap bounds how
// many recent frames are replayed to a newly connected client.
func NewHub(historyCap int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if historyCap <= 0 {
		historyCap = 500
	}
	h := &Hub{
		log:        logger,
		historyCap: historyCap,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan frame, clientSendBuffer),
		clients:    make(map[*client]bool),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Info("dashboard client connected", slog.Int("total", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.log.Info("dashboard client disconnected", slog.Int("total", len(h.clients)))
			}
		case f := <-h.broadcast:
			h.history = append(h.history, f)
			if len(h.history) > h.historyCap {
				h.history = h.history[len(h.history)-h.historyCap:]
			}
			msg, err := json.Marshal(f)
			if err != nil {
				h.log.Warn("failed to encode frame", slog.String("error", err.Error()))
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// slow client, drop this frame rather than block the hub
				}
			}
		}
	}
}

// WriteBars satisfies pipeline.BarSink.
func (h *Hub) WriteBars(ctx context.Context, bars []model.Bar) error {
	for i := range bars {
		b := bars[i]
		h.broadcast <- frame{Kind: "bar", Bar: &b}
	}
	return nil
}

// WriteSignals satisfies pipeline.SignalSink.
func (h *Hub) WriteSignals(ctx context.Context, events []model.SignalEvent) error {
	for i := range events {
		ev := events[i]
		h.broadcast <- frame{Kind: "signal", Signal: &ev}
	}
	return nil
}

// Close is a no-op; the hub's goroutine exits when the process does.
// There is no in-flight state to flush beyond what has already reached
// connected clients.
func (h *Hub) Close() error { return nil }

// Handler returns the http.HandlerFunc to mount at e.g. "/ws".
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		c := &client{hub: h, conn: conn, send: make(chan []byte, clientSendBuffer)}

		for _, f := range h.history {
			msg, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				conn.Close()
				return
			}
		}

		h.register <- c
		go c.writePump()
		go c.readPump()
	}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
