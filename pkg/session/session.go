package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"

	"github.com/fluxchat/go-chatsync/pkg/config"
	"github.com/fluxchat/go-chatsync/pkg/conn"
	"github.com/fluxchat/go-chatsync/pkg/cursor"
	"github.com/fluxchat/go-chatsync/pkg/ratelimit"
	"github.com/fluxchat/go-chatsync/pkg/stats"
	"github.com/fluxchat/go-chatsync/pkg/store"
	"github.com/fluxchat/go-chatsync/pkg/types"
	"github.com/fluxchat/go-chatsync/pkg/wire"
)

var (
	// ErrMuted is returned when the rate governor rejects a send.
	ErrMuted = errors.New("muted by rate limit")
	// ErrUnknownMessage is returned for edit/delete intents on ids the store
	// doesn't hold.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrMessageDeleted is returned for intents against a soft-deleted message.
	ErrMessageDeleted = errors.New("message deleted")
)

const (
	frameInterval  = time.Second / 60
	pruneInterval  = time.Minute
	typingThrottle = time.Second
)

// Session wires the connection, message store, rate governor and cursor
// predictor together. Inbound transport events are routed by type; user
// intents pass through the governor and out over the connection. It is the
// only surface the renderer talks to.
type Session struct {
	cfg        *config.Config
	user       types.User
	instanceId string
	log        *log.Logger
	stats      stats.StatsProvider
	listener   EventListener
	registry   AttachmentRegistry

	conn      *conn.Conn
	store     *store.Store
	governor  *ratelimit.Governor
	predictor *cursor.Predictor

	generateId func() (string, error)

	mu             sync.Mutex
	connected      bool
	lastTypingSent time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewSession(cfg *config.Config, listener EventListener, registry AttachmentRegistry,
	logger *log.Logger, su stats.StatsProvider) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if listener == nil {
		return nil, fmt.Errorf("event listener is required")
	}

	for _, name := range []string{
		stats.MessagesStored, stats.MessagesPruned, stats.Reconnects,
		stats.RateLimitRejections, stats.CursorUpdates, stats.DecodeErrors,
		stats.CommandsSent, stats.CommandsDropped,
	} {
		su.RegisterMetric(name)
	}

	s := &Session{
		cfg: cfg,
		user: types.User{
			Name:  cfg.DisplayName,
			Color: cfg.Color,
		},
		instanceId: uuid.NewString(),
		log:        logger,
		stats:      su,
		listener:   listener,
		registry:   registry,
		store:      store.NewStore(logger),
		governor:   ratelimit.NewGovernor(logger),
		predictor:  cursor.NewPredictor(logger),
		generateId: shortid.Generate,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	s.store.SetPreviewLength(cfg.PreviewLength)
	s.governor.SetUnmuteFunc(listener.OnUnmuted)
	s.conn = conn.NewConn(cfg.ServerURL, logger, su, s.handleEvent, s.handleStatus)

	return s, nil
}

// Start opens the connection and begins the frame and prune loops.
func (s *Session) Start() {
	s.conn.Connect()
	go s.run()
}

// Shutdown disconnects intentionally and stops the session loops, waiting
// until they exit or ctx expires.
func (s *Session) Shutdown(ctx context.Context) error {
	s.conn.Disconnect(websocket.CloseNormalClosure, "client logout")
	s.governor.Reset()
	s.stopOnce.Do(func() { close(s.stop) })

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run() {
	frameTicker := time.NewTicker(frameInterval)
	pruneTicker := time.NewTicker(pruneInterval)
	defer func() {
		frameTicker.Stop()
		pruneTicker.Stop()
		close(s.done)
	}()

	for {
		select {
		case <-frameTicker.C:
			if positions := s.predictor.Tick(time.Now()); len(positions) > 0 {
				s.listener.OnCursors(positions)
			}
		case <-pruneTicker.C:
			s.pruneStore(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *Session) pruneStore(now time.Time) {
	n := s.store.Prune(s.cfg.RetentionWindow(), now)
	for i := 0; i < n; i++ {
		s.stats.Incr(stats.MessagesPruned)
	}
}

// handleEvent routes a raw inbound record by its type discriminator. A record
// that fails to decode is dropped without affecting the connection or any
// other record.
func (s *Session) handleEvent(raw []byte) {
	ev, err := wire.DecodeEvent(raw)
	if err != nil {
		s.log.Println("dropping inbound record:", err)
		s.stats.Incr(stats.DecodeErrors)
		return
	}

	switch ev.Type {
	case wire.EventHistory:
		s.store.LoadSnapshot(ev.History.Messages)
		s.listener.OnHistory(s.store.Messages())
	case wire.EventMessage:
		if s.store.Insert(*ev.Message) {
			s.stats.Incr(stats.MessagesStored)
			s.listener.OnMessage(*ev.Message)
		}
	case wire.EventMessageEdited:
		if s.store.Edit(ev.Edit.Id, ev.Edit.Content, ev.Edit.EditedAt) {
			if msg, ok := s.store.Get(ev.Edit.Id); ok {
				s.listener.OnMessageEdited(msg)
			}
		}
	case wire.EventMessageDeleted:
		if s.store.Delete(ev.Delete.Id, ev.Delete.MaskedContent) {
			if msg, ok := s.store.Get(ev.Delete.Id); ok {
				s.listener.OnMessageDeleted(msg)
			}
		}
	case wire.EventUserList:
		present := make(map[string]struct{}, len(ev.UserList.Users))
		for _, u := range ev.UserList.Users {
			present[u.Id] = struct{}{}
		}
		s.predictor.Retain(present)
		s.listener.OnUserList(ev.UserList.Users)
	case wire.EventCursor:
		now := time.Now()
		s.predictor.Observe(ev.Cursor.UserId, ev.Cursor.X, ev.Cursor.Y,
			ev.Cursor.VelocityX, ev.Cursor.VelocityY, ev.Cursor.ReportedAt, now)
		if ev.Cursor.IsTyping {
			s.predictor.SetTyping(ev.Cursor.UserId, now)
		}
		s.stats.Incr(stats.CursorUpdates)
	case wire.EventTyping:
		if ev.Typing.IsTyping {
			s.predictor.SetTyping(ev.Typing.UserId, time.Now())
		}
	case wire.EventSystemMessage:
		s.listener.OnSystemMessage(ev.System.Content)
	}
}

// handleStatus forwards connection status to the listener and sends the join
// command on every fresh transition into Connected, including reconnects.
func (s *Session) handleStatus(state conn.State, message string) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = state == conn.StateConnected
	joining := s.connected && !wasConnected
	s.mu.Unlock()

	if joining {
		s.sendJoin()
	}

	s.listener.OnStatus(state, message)
}

func (s *Session) sendJoin() {
	cmd := wire.NewJoinCommand(s.commandId(), s.user, s.instanceId)
	if err := s.conn.Send(cmd); err != nil {
		s.log.Println("send join:", err)
	}
}

// SendMessage submits a chat message. The rate governor is consulted first;
// on rejection the listener is told the session is muted and nothing is sent.
// Attachment mention ids are resolved against the registry before dispatch.
func (s *Session) SendMessage(content string, attachmentIds []string, replyToId string) error {
	if !s.governor.RecordAttempt(time.Now()) {
		s.stats.Incr(stats.RateLimitRejections)
		until, _ := s.governor.MuteEndsAt()
		s.listener.OnMuted(until)
		return ErrMuted
	}

	cmd := wire.NewPublishCommand(s.commandId(), content, replyToId,
		resolveAttachments(attachmentIds, s.registry))
	return s.conn.Send(cmd)
}

// EditMessage applies an optimistic local edit and dispatches the edit
// command. The authoritative edit event re-applies idempotently on arrival.
func (s *Session) EditMessage(id, content string) error {
	msg, ok := s.store.Get(id)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Deleted {
		return ErrMessageDeleted
	}

	if s.store.Edit(id, content, wire.Now()) {
		if updated, ok := s.store.Get(id); ok {
			s.listener.OnMessageEdited(updated)
		}
	}

	return s.conn.Send(wire.NewEditCommand(s.commandId(), id, content))
}

// DeleteMessage dispatches the delete command. The local entry is masked only
// when the authoritative delete event returns, since the server generates the
// masking payload.
func (s *Session) DeleteMessage(id string) error {
	msg, ok := s.store.Get(id)
	if !ok {
		return ErrUnknownMessage
	}
	if msg.Deleted {
		return ErrMessageDeleted
	}

	return s.conn.Send(wire.NewDeleteCommand(s.commandId(), id))
}

// SendCursor reports the local cursor position. Best-effort: dropped silently
// while disconnected.
func (s *Session) SendCursor(x, y, vx, vy float64) error {
	return s.conn.Send(wire.NewCursorCommand(x, y, vx, vy))
}

// SendTyping reports local typing activity, throttled to one notification per
// second. Best-effort like cursor updates.
func (s *Session) SendTyping() error {
	s.mu.Lock()
	if time.Since(s.lastTypingSent) < typingThrottle {
		s.mu.Unlock()
		return nil
	}
	s.lastTypingSent = time.Now()
	s.mu.Unlock()

	return s.conn.Send(wire.NewTypingCommand(true))
}

// Messages returns the current message log in insertion order.
func (s *Session) Messages() []types.Message {
	return s.store.Messages()
}

// ReplyPreview resolves a reply target for rendering, reflecting the
// target's current content.
func (s *Session) ReplyPreview(id string) store.ReplyPreview {
	return s.store.ReplyPreview(id)
}

// ConnectionState returns the connection manager's current state.
func (s *Session) ConnectionState() conn.State {
	return s.conn.State()
}

// IsMuted reports whether the rate governor is currently rejecting sends.
func (s *Session) IsMuted() bool {
	return s.governor.IsMuted(time.Now())
}

func (s *Session) commandId() string {
	id, err := s.generateId()
	if err != nil {
		s.log.Println("generate command id:", err)
		return ""
	}
	return id
}
