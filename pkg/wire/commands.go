package wire

import (
	"time"

	"github.com/fluxchat/go-chatsync/pkg/types"
)

// Outbound command types sent to the server.
const (
	CmdJoin          = "join"
	CmdMessage       = "message"
	CmdEditMessage   = "editMessage"
	CmdDeleteMessage = "deleteMessage"
	CmdCursor        = "cursor"
	CmdTyping        = "typing"
)

// Command is the envelope for every outbound record. Id is a client-generated
// correlation id; best-effort commands (cursor, typing) omit it.
type Command struct {
	Type      string         `json:"type"`
	Id        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Join      *Join          `json:"join,omitempty"`
	Publish   *Publish       `json:"publish,omitempty"`
	Edit      *EditMessage   `json:"edit,omitempty"`
	Delete    *DeleteMessage `json:"delete,omitempty"`
	Cursor    *CursorReport  `json:"cursor,omitempty"`
	Typing    *TypingReport  `json:"typing,omitempty"`
}

// BestEffort reports whether the command may be silently dropped while the
// connection is down instead of being surfaced as a failure.
func (c *Command) BestEffort() bool {
	return c.Type == CmdCursor || c.Type == CmdTyping
}

type Join struct {
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	InstanceId string `json:"instance_id"`
}

type Publish struct {
	Content     string             `json:"content"`
	ReplyToId   string             `json:"reply_to_id,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

type EditMessage struct {
	Id      string `json:"id"`
	Content string `json:"content"`
}

type DeleteMessage struct {
	Id string `json:"id"`
}

type CursorReport struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VelocityX float64 `json:"velocity_x"`
	VelocityY float64 `json:"velocity_y"`
}

type TypingReport struct {
	IsTyping bool `json:"is_typing"`
}

func NewJoinCommand(id string, user types.User, instanceId string) *Command {
	return &Command{
		Type:      CmdJoin,
		Id:        id,
		Timestamp: Now(),
		Join: &Join{
			Name:       user.Name,
			Color:      user.Color,
			InstanceId: instanceId,
		},
	}
}

func NewPublishCommand(id, content, replyToId string, attachments []types.Attachment) *Command {
	return &Command{
		Type:      CmdMessage,
		Id:        id,
		Timestamp: Now(),
		Publish: &Publish{
			Content:     content,
			ReplyToId:   replyToId,
			Attachments: attachments,
		},
	}
}

func NewEditCommand(id, messageId, content string) *Command {
	return &Command{
		Type:      CmdEditMessage,
		Id:        id,
		Timestamp: Now(),
		Edit: &EditMessage{
			Id:      messageId,
			Content: content,
		},
	}
}

func NewDeleteCommand(id, messageId string) *Command {
	return &Command{
		Type:      CmdDeleteMessage,
		Id:        id,
		Timestamp: Now(),
		Delete: &DeleteMessage{
			Id: messageId,
		},
	}
}

func NewCursorCommand(x, y, vx, vy float64) *Command {
	return &Command{
		Type:      CmdCursor,
		Timestamp: Now(),
		Cursor: &CursorReport{
			X:         x,
			Y:         y,
			VelocityX: vx,
			VelocityY: vy,
		},
	}
}

func NewTypingCommand(isTyping bool) *Command {
	return &Command{
		Type:      CmdTyping,
		Timestamp: Now(),
		Typing:    &TypingReport{IsTyping: isTyping},
	}
}
