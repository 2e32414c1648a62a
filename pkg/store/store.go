package store

import (
	"log"
	"sync"
	"time"

	"github.com/fluxchat/go-chatsync/pkg/types"
)

const (
	// DefaultRetention is how long messages are kept before head-trim eviction.
	DefaultRetention = 7 * 24 * time.Hour
	// DefaultPreviewLength is the rune budget for reply previews.
	DefaultPreviewLength = 50
)

// Store is the authoritative client-side message log: an insertion-ordered
// slice plus an id index for O(1) edit/delete/reply lookups. The server is
// the source of truth; every operation on an unknown id is a silent no-op
// since the transport guarantees neither ordering nor exactly-once delivery.
type Store struct {
	mu            sync.RWMutex
	messages      []*types.Message
	index         map[string]*types.Message
	previewLength int
	log           *log.Logger
}

func NewStore(logger *log.Logger) *Store {
	return &Store{
		index:         make(map[string]*types.Message),
		previewLength: DefaultPreviewLength,
		log:           logger,
	}
}

// SetPreviewLength overrides the reply preview truncation budget.
func (s *Store) SetPreviewLength(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.previewLength = n
	}
}

// LoadSnapshot replaces the entire log with a full history snapshot. Snapshot
// entries are historical backfill, not live arrivals; the caller must not
// treat them as unread.
func (s *Store) LoadSnapshot(messages []types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]*types.Message, 0, len(messages))
	s.index = make(map[string]*types.Message, len(messages))

	for i := range messages {
		msg := messages[i]
		if _, ok := s.index[msg.Id]; ok {
			s.log.Printf("skipping duplicate id %q in snapshot", msg.Id)
			continue
		}
		s.messages = append(s.messages, &msg)
		s.index[msg.Id] = &msg
	}
}

// Insert appends a live message. Idempotent by id: a duplicate arrival (for
// example history replay racing a live delivery) leaves the stored entry,
// including any applied edits, untouched. Returns false for duplicates.
func (s *Store) Insert(message types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[message.Id]; ok {
		return false
	}

	s.messages = append(s.messages, &message)
	s.index[message.Id] = &message
	return true
}

// Edit updates a message's content in place and stamps EditedAt. No-op if the
// id is unknown or the message was already deleted. Returns whether a change
// was applied.
func (s *Store) Edit(id, content string, editedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[id]
	if !ok || msg.Deleted {
		return false
	}

	msg.Content = content
	t := editedAt
	msg.EditedAt = &t
	return true
}

// Delete soft-deletes a message, replacing its content with the
// server-supplied mask and dropping its attachments. Deletion is terminal:
// once set, no further edit or delete touches the entry. Returns whether a
// change was applied.
func (s *Store) Delete(id, maskedContent string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.index[id]
	if !ok || msg.Deleted {
		return false
	}

	msg.Deleted = true
	msg.Content = maskedContent
	msg.Attachments = nil
	return true
}

// Prune evicts the oldest contiguous run of entries created before
// now-retention, stopping at the first entry inside the window. Head-trim
// only: interior entries are never removed, preserving log contiguity.
// Returns the number of evicted messages.
func (s *Store) Prune(retention time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-retention)
	n := 0
	for n < len(s.messages) && s.messages[n].CreatedAt.Before(cutoff) {
		delete(s.index, s.messages[n].Id)
		n++
	}

	if n > 0 {
		s.messages = append([]*types.Message(nil), s.messages[n:]...)
		s.log.Printf("pruned %d messages older than %s", n, retention)
	}
	return n
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (types.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.index[id]
	if !ok {
		return types.Message{}, false
	}
	return *msg, true
}

// Messages returns a copy of the log in insertion order.
func (s *Store) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = *msg
	}
	return out
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// ReplyPreview describes the current state of a reply target for rendering.
// Resolution is re-checked on every call, so a parent that arrives after its
// reply, or is edited later, is picked up on the next lookup.
type ReplyPreview struct {
	Id         string
	AuthorName string
	Content    string
	Resolved   bool
}

// ReplyPreview resolves a reply target id to a truncated preview of its
// current content. An unknown id yields Resolved=false; the renderer shows
// its "original not available" placeholder.
func (s *Store) ReplyPreview(id string) ReplyPreview {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.index[id]
	if !ok {
		return ReplyPreview{Id: id}
	}

	return ReplyPreview{
		Id:         id,
		AuthorName: msg.AuthorName,
		Content:    truncate(msg.Content, s.previewLength),
		Resolved:   true,
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
