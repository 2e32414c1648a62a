package session

import (
	"time"

	"github.com/fluxchat/go-chatsync/pkg/conn"
	"github.com/fluxchat/go-chatsync/pkg/types"
)

// EventListener is the renderer-facing surface. The host shell implements it
// to project session state into a view; it must never mutate session state
// directly, all writes go through the Session command API.
type EventListener interface {
	// OnHistory delivers a full snapshot replacing the current view.
	// Snapshot messages are historical backfill and carry no unread signal.
	OnHistory(messages []types.Message)
	// OnMessage delivers a live message insertion.
	OnMessage(message types.Message)
	// OnMessageEdited delivers the post-edit state of a message.
	OnMessageEdited(message types.Message)
	// OnMessageDeleted delivers the post-delete (masked) state of a message.
	OnMessageDeleted(message types.Message)
	// OnSystemMessage delivers a server system notice verbatim.
	OnSystemMessage(content string)
	// OnUserList delivers the current participant list.
	OnUserList(users []types.User)
	// OnCursors delivers smoothed cursor positions once per frame tick.
	OnCursors(positions map[string]types.CursorPosition)
	// OnStatus delivers connection status changes. An empty message clears
	// the status indicator.
	OnStatus(state conn.State, message string)
	// OnMuted signals a rate-limit rejection with the mute deadline.
	OnMuted(until time.Time)
	// OnUnmuted signals that a mute has expired.
	OnUnmuted()
}
