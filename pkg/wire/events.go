package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluxchat/go-chatsync/pkg/types"
)

// Inbound event types delivered by the server.
const (
	EventHistory        = "history"
	EventMessage        = "message"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventUserList       = "userList"
	EventCursor         = "cursor"
	EventTyping         = "typing"
	EventSystemMessage  = "systemMessage"
)

// Event is the envelope for every inbound record. Exactly one payload field
// is set, matching Type.
type Event struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	History   *History        `json:"history,omitempty"`
	Message   *types.Message  `json:"message,omitempty"`
	Edit      *MessageEdited  `json:"edit,omitempty"`
	Delete    *MessageDeleted `json:"delete,omitempty"`
	UserList  *UserList       `json:"user_list,omitempty"`
	Cursor    *CursorUpdate   `json:"cursor,omitempty"`
	Typing    *TypingUpdate   `json:"typing,omitempty"`
	System    *SystemMessage  `json:"system,omitempty"`
}

type History struct {
	Messages []types.Message `json:"messages"`
}

type MessageEdited struct {
	Id       string    `json:"id"`
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

type MessageDeleted struct {
	Id            string `json:"id"`
	MaskedContent string `json:"masked_content"`
}

type UserList struct {
	Users []types.User `json:"users"`
}

type CursorUpdate struct {
	UserId     string    `json:"user_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	VelocityX  float64   `json:"velocity_x"`
	VelocityY  float64   `json:"velocity_y"`
	IsTyping   bool      `json:"is_typing,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

type TypingUpdate struct {
	UserId   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

type SystemMessage struct {
	Content string `json:"content"`
}

// DecodeEvent parses a single inbound record. A record that fails to parse,
// carries an unknown type, or is missing the payload for its type is rejected
// with an error; the caller drops it and moves on.
func DecodeEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	var ok bool
	switch ev.Type {
	case EventHistory:
		ok = ev.History != nil
	case EventMessage:
		ok = ev.Message != nil
	case EventMessageEdited:
		ok = ev.Edit != nil
	case EventMessageDeleted:
		ok = ev.Delete != nil
	case EventUserList:
		ok = ev.UserList != nil
	case EventCursor:
		ok = ev.Cursor != nil
	case EventTyping:
		ok = ev.Typing != nil
	case EventSystemMessage:
		ok = ev.System != nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}

	if !ok {
		return nil, fmt.Errorf("event type %q missing payload", ev.Type)
	}
	return &ev, nil
}

// Now returns the current time truncated to the precision carried on the wire.
func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
