package conn

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fluxchat/go-chatsync/internal/testutil"
	"github.com/fluxchat/go-chatsync/pkg/stats"
	"github.com/fluxchat/go-chatsync/pkg/wire"
)

// statusRecorder collects status transitions for assertions.
type statusRecorder struct {
	mu      sync.Mutex
	entries []State
}

func (r *statusRecorder) record(state State, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, state)
}

func (r *statusRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.entries...)
}

func (r *statusRecorder) waitFor(t *testing.T, n int) []State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if states := r.states(); len(states) >= n {
			return states
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d status transitions, got %v", n, r.states())
	return nil
}

func newMockStats() *stats.MockStatsUpdater {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()
	return su
}

func newTestConn(t *testing.T, url string, rec *statusRecorder, eventFn EventFunc) *Conn {
	if eventFn == nil {
		eventFn = func([]byte) {}
	}
	c := NewConn(url, testutil.TestLogger(t), newMockStats(), eventFn, rec.record)
	// shrink retry timing so failure sequences run quickly
	c.baseDelay = 10 * time.Millisecond
	c.maxDelay = 100 * time.Millisecond
	return c
}

func newTestWSServer(t *testing.T, handler func(ws *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error("upgrade:", err)
			return
		}
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func Test_backoffDelay(t *testing.T) {
	tcases := []struct {
		attempt int
		delay   time.Duration
	}{
		{attempt: 1, delay: 1000 * time.Millisecond},
		{attempt: 2, delay: 1500 * time.Millisecond},
		{attempt: 3, delay: 2250 * time.Millisecond},
		{attempt: 4, delay: 3375 * time.Millisecond},
		{attempt: 10, delay: 30 * time.Second},
	}

	for _, tc := range tcases {
		got := backoffDelay(tc.attempt, baseRetryDelay, maxRetryDelay)
		assert.Equal(t, tc.delay, got, "expected delay for attempt %d", tc.attempt)
	}

	// bounded and non-decreasing across the full attempt budget
	prev := time.Duration(0)
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		d := backoffDelay(attempt, baseRetryDelay, maxRetryDelay)
		assert.LessOrEqual(t, d, maxRetryDelay, "expected delay to never exceed the cap")
		assert.GreaterOrEqual(t, d, prev, "expected delay to be non-decreasing")
		prev = d
	}
}

func TestConnectRetries(t *testing.T) {
	rec := &statusRecorder{}
	c := newTestConn(t, "ws://localhost:1", rec, nil)
	c.dial = func(url string) (*websocket.Conn, error) {
		return nil, errors.New("connection refused")
	}

	c.Connect()

	// three consecutive failures: connecting/reconnecting three times over
	states := rec.waitFor(t, 6)[:6]
	assert.Equal(t, []State{
		StateConnecting, StateReconnecting,
		StateConnecting, StateReconnecting,
		StateConnecting, StateReconnecting,
	}, states, "expected alternating connect/retry transitions")

	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	assert.GreaterOrEqual(t, attempts, 3, "expected the attempt counter to track failures")
	assert.NotEqual(t, StateFailed, c.State(), "expected the connection to still be retrying")

	c.Disconnect(websocket.CloseNormalClosure, "test over")
}

func TestConnectFailsTerminally(t *testing.T) {
	rec := &statusRecorder{}
	c := newTestConn(t, "ws://localhost:1", rec, nil)
	c.maxAttempts = 2
	c.dial = func(url string) (*websocket.Conn, error) {
		return nil, errors.New("connection refused")
	}

	c.Connect()

	states := rec.waitFor(t, 4)[:4]
	assert.Equal(t, []State{
		StateConnecting, StateReconnecting,
		StateConnecting, StateFailed,
	}, states, "expected terminal failure after exhausting the attempt budget")
	assert.Equal(t, StateFailed, c.State(), "expected terminal Failed state")

	// no further automatic attempts
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.states(), 4, "expected no transitions after Failed")
}

func TestConnectSuccess(t *testing.T) {
	done := make(chan struct{})
	url := newTestWSServer(t, func(ws *websocket.Conn) {
		<-done
		ws.Close()
	})
	defer close(done)

	rec := &statusRecorder{}
	c := newTestConn(t, url, rec, nil)

	c.Connect()

	states := rec.waitFor(t, 2)
	assert.Equal(t, []State{StateConnecting, StateConnected}, states[:2], "expected a clean connect sequence")
	assert.Equal(t, StateConnected, c.State(), "expected Connected state")

	c.mu.Lock()
	attempts := c.attempts
	c.mu.Unlock()
	assert.Zero(t, attempts, "expected the attempt counter to reset on success")

	c.Disconnect(websocket.CloseNormalClosure, "test over")
}

func TestConnectIsNoOpWhileActive(t *testing.T) {
	done := make(chan struct{})
	url := newTestWSServer(t, func(ws *websocket.Conn) {
		<-done
		ws.Close()
	})
	defer close(done)

	rec := &statusRecorder{}
	c := newTestConn(t, url, rec, nil)

	c.Connect()
	rec.waitFor(t, 2)

	c.Connect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnected, c.State(), "expected a second Connect to be a no-op")

	c.Disconnect(websocket.CloseNormalClosure, "test over")
}

func TestReceiveEvents(t *testing.T) {
	url := newTestWSServer(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"systemMessage","system":{"content":"hi"}}`))
		time.Sleep(100 * time.Millisecond)
		ws.Close()
	})

	events := make(chan []byte, 8)
	rec := &statusRecorder{}
	c := newTestConn(t, url, rec, func(raw []byte) { events <- raw })

	c.Connect()

	select {
	case raw := <-events:
		ev, err := wire.DecodeEvent(raw)
		require.NoError(t, err, "expected inbound record to decode")
		assert.Equal(t, wire.EventSystemMessage, ev.Type, "expected event type to be forwarded verbatim")
	case <-time.After(2 * time.Second):
		t.Fatal("expected an inbound event")
	}

	c.Disconnect(websocket.CloseNormalClosure, "test over")
}

func TestSend(t *testing.T) {
	t.Run("writes command when connected", func(t *testing.T) {
		received := make(chan wire.Command, 1)
		url := newTestWSServer(t, func(ws *websocket.Conn) {
			var cmd wire.Command
			if err := ws.ReadJSON(&cmd); err == nil {
				received <- cmd
			}
			ws.Close()
		})

		rec := &statusRecorder{}
		c := newTestConn(t, url, rec, nil)
		c.Connect()
		rec.waitFor(t, 2)

		err := c.Send(wire.NewTypingCommand(true))
		assert.NoError(t, err, "expected send to succeed while connected")

		select {
		case cmd := <-received:
			assert.Equal(t, wire.CmdTyping, cmd.Type, "expected the command type on the wire")
			assert.NotNil(t, cmd.Typing, "expected the typing payload")
		case <-time.After(2 * time.Second):
			t.Fatal("expected the server to receive the command")
		}

		c.Disconnect(websocket.CloseNormalClosure, "test over")
	})

	t.Run("refuses reliable commands while disconnected", func(t *testing.T) {
		rec := &statusRecorder{}
		c := newTestConn(t, "ws://localhost:1", rec, nil)

		err := c.Send(wire.NewPublishCommand("cmd1", "hello", "", nil))
		assert.ErrorIs(t, err, ErrNotConnected, "expected ErrNotConnected for a reliable command")
	})

	t.Run("drops best-effort commands while disconnected", func(t *testing.T) {
		su := newMockStats()
		c := NewConn("ws://localhost:1", testutil.TestLogger(t), su, func([]byte) {}, nil)

		err := c.Send(wire.NewCursorCommand(1, 2, 0, 0))
		assert.NoError(t, err, "expected best-effort command to be dropped silently")
		su.AssertCalled(t, "Incr", stats.CommandsDropped)
	})
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	url := newTestWSServer(t, func(ws *websocket.Conn) {
		// drop the connection without a close handshake
		ws.UnderlyingConn().Close()
	})

	rec := &statusRecorder{}
	c := newTestConn(t, url, rec, nil)

	c.Connect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		states := rec.states()
		if len(states) >= 2 && containsState(states, StateReconnecting) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.True(t, containsState(rec.states(), StateReconnecting),
		"expected an abnormal close to schedule a reconnect")

	c.Disconnect(websocket.CloseNormalClosure, "test over")
}

func TestDisconnect(t *testing.T) {
	url := newTestWSServer(t, func(ws *websocket.Conn) {
		// play along with the close handshake
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := &statusRecorder{}
	c := newTestConn(t, url, rec, nil)

	c.Connect()
	rec.waitFor(t, 2)

	c.Disconnect(websocket.CloseNormalClosure, "logout")
	assert.Equal(t, StateDisconnected, c.State(), "expected an intentional close to land in Disconnected")

	// no reconnect may be scheduled after an intentional close
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State(), "expected no automatic reconnect after logout")
}

func containsState(states []State, target State) bool {
	for _, s := range states {
		if s == target {
			return true
		}
	}
	return false
}
