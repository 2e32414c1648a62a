package session

import (
	"github.com/fluxchat/go-chatsync/pkg/types"
)

// AttachmentRegistry maps uploaded attachment ids to their descriptors. The
// upload transport owns the registry; the session only reads it while
// resolving filename mentions at send time.
type AttachmentRegistry interface {
	Lookup(id string) (types.Attachment, bool)
}

// resolveAttachments maps mention ids to attachment descriptors against the
// registry, skipping ids the registry no longer knows.
func resolveAttachments(ids []string, registry AttachmentRegistry) []types.Attachment {
	if registry == nil || len(ids) == 0 {
		return nil
	}

	var attachments []types.Attachment
	for _, id := range ids {
		if att, ok := registry.Lookup(id); ok {
			attachments = append(attachments, att)
		}
	}
	return attachments
}
