package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"querydeck/internal/core"
)

const writeTimeout = 5 * time.Second

// Event is the JSON frame pushed to worksheet subscribers.
type Event struct {
	Type      string         `json:"type"` // phase, progress or outcome
	Worksheet core.SessionID `json:"worksheet"`
	Phase     string         `json:"phase,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms,omitempty"`
	Label     string         `json:"label,omitempty"`
	Outcome   *outcomeView   `json:"outcome,omitempty"`
}

// Hub fans lifecycle events out to the websockets watching each worksheet.
// It is registered with the controller as an event sink.
type Hub struct {
	mu    sync.RWMutex
	conns map[core.SessionID]map[*websocket.Conn]struct{}
	log   logrus.FieldLogger
}

func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		conns: make(map[core.SessionID]map[*websocket.Conn]struct{}),
		log:   log,
	}
}

// Serve upgrades the request and holds the socket open until the client
// goes away. Incoming frames are read and discarded.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, id core.SessionID) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket accept failed")
		return
	}

	h.add(id, conn)
	defer h.remove(id, conn)

	ctx := r.Context()
	for {
		var v any
		if err := wsjson.Read(ctx, conn, &v); err != nil {
			return
		}
	}
}

func (h *Hub) OnPhaseChanged(id core.SessionID, phase core.Phase) {
	h.broadcast(id, Event{Type: "phase", Worksheet: id, Phase: phase.String()})
}

func (h *Hub) OnProgress(id core.SessionID, elapsed time.Duration) {
	h.broadcast(id, Event{
		Type:      "progress",
		Worksheet: id,
		ElapsedMS: elapsed.Milliseconds(),
		Label:     fmt.Sprintf("Running... %.1f sec", elapsed.Seconds()),
	})
}

func (h *Hub) OnOutcome(id core.SessionID, outcome core.Outcome) {
	view := newOutcomeView(outcome)
	h.broadcast(id, Event{Type: "outcome", Worksheet: id, Outcome: &view})
}

// Subscribers reports how many sockets watch the worksheet.
func (h *Hub) Subscribers(id core.SessionID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[id])
}

// Drop closes every socket of a worksheet that no longer exists.
func (h *Hub) Drop(id core.SessionID) {
	h.mu.Lock()
	conns := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()
	for conn := range conns {
		conn.Close(websocket.StatusNormalClosure, "worksheet closed")
	}
}

func (h *Hub) broadcast(id core.SessionID, event Event) {
	for _, conn := range h.snapshot(id) {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, conn, event)
		cancel()
		if err != nil {
			h.log.WithError(err).WithField("worksheet", id).Debug("dropping websocket subscriber")
			go func(conn *websocket.Conn) {
				conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(id, conn)
			}(conn)
		}
	}
}

func (h *Hub) snapshot(id core.SessionID) []*websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(h.conns[id]))
	for conn := range h.conns[id] {
		out = append(out, conn)
	}
	return out
}

func (h *Hub) add(id core.SessionID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perSession, ok := h.conns[id]
	if !ok {
		perSession = make(map[*websocket.Conn]struct{})
		h.conns[id] = perSession
	}
	perSession[conn] = struct{}{}
}

func (h *Hub) remove(id core.SessionID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perSession, ok := h.conns[id]
	if !ok {
		return
	}
	delete(perSession, conn)
	if len(perSession) == 0 {
		delete(h.conns, id)
	}
}
