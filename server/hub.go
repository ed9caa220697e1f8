package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/soltomm/boss-fight-pump-fun/bossgame"
)

const (
	subSendBuffer = 64
	subWriteWait  = 10 * time.Second
	subPongWait   = 60 * time.Second
	subPingEvery  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Overlays load from arbitrary streaming-scene origins.
		return true
	},
}

type subscriber struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	quit chan struct{}

	closeOnce sync.Once
}

// Hub owns the overlay subscriber set and fans orchestrator events out to
// it. Delivery is per-subscriber, in order, best effort: droppable diffs are
// shed when a subscriber lags, and a subscriber too slow to absorb a
// critical event (phase_change, fight_ended, game_reset, ...) is evicted so
// it reconnects into a fresh snapshot.
type Hub struct {
	log  slog.Logger
	orch *bossgame.Orchestrator

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	nextID atomic.Uint64
}

func NewHub(log slog.Logger, orch *bossgame.Orchestrator) *Hub {
	return &Hub{
		log:  log,
		orch: orch,
		subs: make(map[*subscriber]struct{}),
	}
}

// HandleWS upgrades the connection and registers a subscriber. The first
// message a subscriber receives is always a full state snapshot.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	sub := &subscriber{
		id:   h.nextID.Add(1),
		hub:  h,
		conn: conn,
		send: make(chan []byte, subSendBuffer),
		quit: make(chan struct{}),
	}

	// Register and snapshot under the same lock so no broadcast can slip
	// between the snapshot this subscriber sees and its first diff.
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	snap := h.orch.Snapshot()
	sub.enqueue(marshalEvent(bossgame.Event{Type: bossgame.EventState, Data: snap}), false)
	total := len(h.subs)
	h.mu.Unlock()

	h.log.Debugf("subscriber %d joined (total %d)", sub.id, total)
	go sub.writePump()
	go sub.readPump()
}

// Broadcast marshals the event once and enqueues it to every subscriber.
// It never blocks the caller.
func (h *Hub) Broadcast(ev bossgame.Event) {
	data := marshalEvent(ev)
	if data == nil {
		return
	}
	droppable := ev.Droppable()

	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if !sub.enqueue(data, droppable) {
			h.log.Warnf("subscriber %d cannot keep up; dropping connection", sub.id)
			sub.close()
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func marshalEvent(ev bossgame.Event) []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return data
}

// enqueue queues one frame without ever blocking or reordering the queue.
// When the buffer is full a droppable frame is simply lost (the next diff
// supersedes it anyway); for a critical frame the false return tells the hub
// to evict the subscriber rather than lose the event.
func (s *subscriber) enqueue(data []byte, droppable bool) bool {
	if data == nil {
		return true
	}
	select {
	case s.send <- data:
		return true
	default:
	}
	return droppable
}

func (s *subscriber) writePump() {
	ping := time.NewTicker(subPingEvery)
	defer ping.Stop()
	defer s.close()
	for {
		select {
		case <-s.quit:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(subWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(subWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// adminFrame is the inbound admin command shape.
type adminFrame struct {
	Type          string `json:"type"`
	Action        string `json:"action"`
	AdminKey      string `json:"adminKey"`
	WalletAddress string `json:"walletAddress"`
}

func (s *subscriber) readPump() {
	defer s.close()
	s.conn.SetReadLimit(1 << 16)
	s.conn.SetReadDeadline(time.Now().Add(subPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(subPongWait))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debugf("subscriber %d read error: %v", s.id, err)
			}
			return
		}
		var frame adminFrame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "admin" {
			continue
		}
		// The reply hook targets only this subscriber; admin failures are
		// never broadcast.
		s.hub.orch.Admin(frame.Action, frame.AdminKey, frame.WalletAddress, func(ev bossgame.Event) {
			s.enqueue(marshalEvent(ev), false)
		})
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		s.conn.Close()
		// s.send stays open: Broadcast may still hold a reference and its
		// sends are non-blocking, so the buffer is simply garbage collected.
		close(s.quit)
	})
}
