package conn

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxchat/go-chatsync/pkg/stats"
	"github.com/fluxchat/go-chatsync/pkg/wire"
)

// State is the connection lifecycle state. Connected is the only state in
// which outbound commands are transmitted.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

const (
	connectTimeout   = 10 * time.Second
	baseRetryDelay   = time.Second
	maxRetryDelay    = 30 * time.Second
	backoffFactor    = 1.5
	maxRetryAttempts = 10
	statusClearAfter = 2 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
)

// ErrNotConnected is returned when a reliable command is submitted while the
// connection is down. Best-effort commands are dropped silently instead.
var ErrNotConnected = errors.New("not connected")

// EventFunc receives every raw inbound record in arrival order.
type EventFunc func(raw []byte)

// StatusFunc receives state transitions with a human-readable status string.
// An empty string clears the status indicator. Transitions are delivered in
// order from a dedicated goroutine, so the callback may call back into Conn.
type StatusFunc func(state State, message string)

type statusNote struct {
	state   State
	message string
}

// Conn owns the websocket to the chat server and the connect/retry state
// machine around it. Transport faults are recovered by automatic reconnects
// with exponential backoff until the attempt budget is exhausted, at which
// point the connection parks in StateFailed and requires a manual restart.
type Conn struct {
	url      string
	dial     func(url string) (*websocket.Conn, error)
	log      *log.Logger
	stats    stats.StatsProvider
	eventFn  EventFunc
	statusFn StatusFunc
	statusCh chan statusNote

	mu               sync.Mutex
	wsMu             sync.Mutex
	state            State
	ws               *websocket.Conn
	attempts         int
	gen              int
	closing          bool
	reconnectTimer   *time.Timer
	statusClearTimer *time.Timer

	// retry tuning, shrunk in tests
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
}

func NewConn(url string, logger *log.Logger, su stats.StatsProvider, eventFn EventFunc, statusFn StatusFunc) *Conn {
	dialer := &websocket.Dialer{HandshakeTimeout: connectTimeout}
	c := &Conn{
		url: url,
		dial: func(url string) (*websocket.Conn, error) {
			ws, _, err := dialer.Dial(url, nil)
			return ws, err
		},
		log:         logger,
		stats:       su,
		eventFn:     eventFn,
		statusFn:    statusFn,
		statusCh:    make(chan statusNote, 32),
		state:       StateDisconnected,
		baseDelay:   baseRetryDelay,
		maxDelay:    maxRetryDelay,
		maxAttempts: maxRetryAttempts,
	}

	if statusFn != nil {
		go c.notifyLoop()
	}
	return c
}

// notifyLoop delivers queued status transitions outside the state lock, so a
// status callback is free to submit commands without deadlocking.
func (c *Conn) notifyLoop() {
	for note := range c.statusCh {
		c.statusFn(note.state, note.message)
	}
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection attempt. No-op unless currently disconnected.
func (c *Conn) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected && c.state != StateFailed {
		return
	}

	c.closing = false
	c.attempts = 0
	c.transitionLocked(StateConnecting, "connecting...")
	go c.runDial(c.gen)
}

func (c *Conn) runDial(gen int) {
	ws, err := c.dial(c.url)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.closing {
		// superseded by a disconnect while dialing
		if ws != nil {
			ws.Close()
		}
		return
	}

	if err != nil {
		c.log.Printf("dial %s: %v", c.url, err)
		c.scheduleRetryLocked()
		return
	}

	c.ws = ws
	c.attempts = 0
	c.transitionLocked(StateConnected, "connected")
	c.armStatusClearLocked()

	go c.readPump(ws, c.gen)
	go c.pingLoop(ws, c.gen)
}

// readPump forwards inbound records in arrival order until the connection
// drops, then hands control back to the state machine.
func (c *Conn) readPump(ws *websocket.Conn, gen int) {
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { ws.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		c.eventFn(raw)
	}

	c.handleClosed(ws, gen)
}

func (c *Conn) pingLoop(ws *websocket.Conn, gen int) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		stale := gen != c.gen || c.ws != ws
		c.mu.Unlock()
		if stale {
			return
		}

		c.wsMu.Lock()
		err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		c.wsMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (c *Conn) handleClosed(ws *websocket.Conn, gen int) {
	ws.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.ws != ws {
		return
	}
	c.ws = nil

	if c.closing {
		c.transitionLocked(StateDisconnected, "disconnected")
		return
	}

	c.stats.Incr(stats.Reconnects)
	c.scheduleRetryLocked()
}

// scheduleRetryLocked counts a failure and either arms the next backoff timer
// or parks the connection in the terminal Failed state.
func (c *Conn) scheduleRetryLocked() {
	c.attempts++
	if c.attempts >= c.maxAttempts {
		c.transitionLocked(StateFailed, "connection failed, please reload")
		return
	}

	delay := backoffDelay(c.attempts, c.baseDelay, c.maxDelay)
	c.transitionLocked(StateReconnecting, fmt.Sprintf("connection lost, retrying in %s", delay.Round(100*time.Millisecond)))

	gen := c.gen
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.gen || c.state != StateReconnecting || c.closing {
			return
		}
		c.transitionLocked(StateConnecting, "connecting...")
		go c.runDial(c.gen)
	})
}

// Send transmits a command if connected. While down, best-effort commands
// (cursor, typing) are dropped silently; everything else is refused with
// ErrNotConnected so the caller can surface the failure.
func (c *Conn) Send(cmd *wire.Command) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		if cmd.BestEffort() {
			c.stats.Incr(stats.CommandsDropped)
			return nil
		}
		return ErrNotConnected
	}

	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(cmd); err != nil {
		c.log.Printf("write command %q: %v", cmd.Type, err)
		return fmt.Errorf("send %s: %w", cmd.Type, err)
	}

	c.stats.Incr(stats.CommandsSent)
	return nil
}

// Disconnect closes the connection intentionally. No reconnect is attempted;
// the state machine lands in Disconnected.
func (c *Conn) Disconnect(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closing = true
	c.gen++
	c.cancelTimersLocked()

	if c.ws != nil {
		c.wsMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.wsMu.Unlock()
		c.ws.Close()
		c.ws = nil
	}

	c.transitionLocked(StateDisconnected, "disconnected")
}

// transitionLocked moves to a new state, cancels any timer the previous state
// armed, and surfaces the status change.
func (c *Conn) transitionLocked(state State, message string) {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}

	c.state = state
	c.gen++
	c.log.Printf("connection state: %s", state)
	c.notifyLocked(state, message)
}

func (c *Conn) notifyLocked(state State, message string) {
	if c.statusFn == nil {
		return
	}
	select {
	case c.statusCh <- statusNote{state: state, message: message}:
	default:
		c.log.Printf("status queue full, dropping %q", state)
	}
}

func (c *Conn) armStatusClearLocked() {
	if c.statusClearTimer != nil {
		c.statusClearTimer.Stop()
	}
	c.statusClearTimer = time.AfterFunc(statusClearAfter, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.state == StateConnected {
			c.notifyLocked(StateConnected, "")
		}
	})
}

func (c *Conn) cancelTimersLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.statusClearTimer != nil {
		c.statusClearTimer.Stop()
		c.statusClearTimer = nil
	}
}

// backoffDelay computes the retry delay for the given failure count:
// base * 1.5^(attempt-1), capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(float64(base) * math.Pow(backoffFactor, float64(attempt-1)))
	if d > max {
		d = max
	}
	return d
}
