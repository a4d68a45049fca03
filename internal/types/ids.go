// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// DraftPrefix marks thread handles minted locally before the server assigned
// any identifier.
const DraftPrefix = "draft-"

// ConversationKey identifies one front-end conversation, e.g. a Telegram chat
// or a terminal session.
type ConversationKey string

func NewMessageID() string {
	return uuid.New().String()
}

func NewDraftID() string {
	return DraftPrefix + uuid.New().String()
}

// IsDraftID reports whether id was minted by NewDraftID.
func IsDraftID(id string) bool {
	return strings.HasPrefix(id, DraftPrefix)
}

func NewConversationKey(parts ...string) ConversationKey {
	return ConversationKey(strings.Join(parts, ":"))
}
