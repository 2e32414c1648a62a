package types

import (
	"time"
)

type User struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color,omitempty"`
	IsOnline bool   `json:"is_online,omitempty"`
}

type Attachment struct {
	Id       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Url      string `json:"url"`
}

type Message struct {
	Id          string       `json:"id"`
	AuthorName  string       `json:"author_name"`
	AuthorColor string       `json:"author_color,omitempty"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	Deleted     bool         `json:"deleted,omitempty"`
	ReplyToId   string       `json:"reply_to_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CursorPosition is a smoothed, display-ready cursor sample. Coordinates are
// normalized to [0,100] relative to the shared viewport.
type CursorPosition struct {
	UserId   string  `json:"user_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	IsTyping bool    `json:"is_typing,omitempty"`
	IsStale  bool    `json:"is_stale,omitempty"`
}
