// Package chat maintains one logical connection to the upstream pump.fun
// chat room and surfaces normalized message events. Transport errors never
// leave this package; consumers only see messages and connection status.
package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"
)

const (
	maxReconnectAttempts = 10
	pingEvery            = 30 * time.Second
	writeWait            = 10 * time.Second
	maxFrameSize         = 1 << 16
)

// Overridden in tests.
var reconnectBackoff = 5 * time.Second

// Event is one normalized chat message. TS is the source timestamp in unix
// milliseconds, preserved as sent by the provider.
type Event struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	TS       int64  `json:"ts"`
}

// Status reports connectivity changes. Terminal is set once after the
// reconnect budget is exhausted; the ingestor stops afterwards.
type Status struct {
	Connected bool
	Terminal  bool
}

type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateBackoff
	stateTerminal
)

// inbound is the provider's message frame, normalized from JSON.
type inbound struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Ingestor owns at most one live upstream connection. A single run
// goroutine walks Disconnected -> Connecting -> Connected -> Backoff and
// back, so overlapping reconnect attempts cannot happen by construction.
type Ingestor struct {
	log  slog.Logger
	url  string
	room string

	events chan Event
	status chan Status

	mu       sync.Mutex
	state    connState
	started  bool
	attempts int
	cancel   context.CancelFunc
}

func NewIngestor(log slog.Logger, url, room string) *Ingestor {
	return &Ingestor{
		log:    log,
		url:    url,
		room:   room,
		events: make(chan Event, 256),
		status: make(chan Status, 8),
	}
}

// Events returns the normalized message stream.
func (i *Ingestor) Events() <-chan Event { return i.events }

// Status returns the connection status stream.
func (i *Ingestor) Status() <-chan Status { return i.status }

// Start launches the connection loop. It is idempotent; only the first call
// has any effect.
func (i *Ingestor) Start(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started {
		i.log.Debugf("Start called twice; ignoring")
		return
	}
	i.started = true
	ctx, i.cancel = context.WithCancel(ctx)
	go i.run(ctx)
}

// Stop tears down the upstream connection and halts reconnects.
func (i *Ingestor) Stop() {
	i.mu.Lock()
	cancel := i.cancel
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (i *Ingestor) setState(s connState) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// State is exposed for tests.
func (i *Ingestor) connStateLocked() connState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Ingestor) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		i.setState(stateConnecting)
		conn, err := i.dial(ctx)
		if err != nil {
			i.log.Warnf("chat dial failed: %v", err)
			if !i.backoff(ctx) {
				return
			}
			continue
		}

		i.mu.Lock()
		i.attempts = 0
		i.state = stateConnected
		i.mu.Unlock()
		i.emitStatus(Status{Connected: true})
		i.log.Infof("connected to chat room %s", i.room)

		i.readLoop(ctx, conn)

		i.emitStatus(Status{Connected: false})
		if ctx.Err() != nil {
			return
		}
		if !i.backoff(ctx) {
			return
		}
	}
}

// backoff waits the fixed reconnect delay, counting the attempt. It returns
// false once the budget is exhausted (terminal) or ctx ends.
func (i *Ingestor) backoff(ctx context.Context) bool {
	i.mu.Lock()
	i.attempts++
	attempts := i.attempts
	i.mu.Unlock()

	if attempts > maxReconnectAttempts {
		i.setState(stateTerminal)
		i.log.Errorf("giving up on chat after %d reconnect attempts", maxReconnectAttempts)
		i.emitStatus(Status{Connected: false, Terminal: true})
		return false
	}
	i.setState(stateBackoff)
	i.log.Infof("reconnecting to chat in %s (attempt %d/%d)", reconnectBackoff, attempts, maxReconnectAttempts)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(reconnectBackoff):
		return true
	}
}

func (i *Ingestor) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, i.url, nil)
	if err != nil {
		return nil, err
	}
	join := map[string]string{"type": "join", "room": i.room}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

// readLoop pumps frames until the transport fails. It owns the connection
// and closes it on exit.
func (i *Ingestor) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go i.keepalive(ctx, conn, done)

	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				i.log.Warnf("chat read error: %v", err)
			}
			return
		}
		var frame inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			i.log.Debugf("ignoring malformed chat frame: %v", err)
			continue
		}
		if frame.Type != "message" || frame.Username == "" {
			continue
		}
		ev := Event{Username: frame.Username, Message: frame.Message, TS: frame.Timestamp}
		select {
		case i.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// keepalive pings the upstream so idle rooms do not get reaped by proxies.
func (i *Ingestor) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (i *Ingestor) emitStatus(s Status) {
	select {
	case i.status <- s:
	default:
		// Status consumers only care about the latest value.
	}
}
