// internal/types/models.go
package types

import (
	"strings"
	"time"
)

// Message is one chat message. Messages are immutable once created and kept
// in chronological insertion order.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

func NewUserMessage(text string) Message {
	return Message{ID: NewMessageID(), Text: text, IsUser: true, Timestamp: time.Now()}
}

func NewAgentMessage(text string) Message {
	return Message{ID: NewMessageID(), Text: text, Timestamp: time.Now()}
}

// Thread is a conversation with one agent. LocalID keys every cache entry and
// UI selection. RemoteID is the server's internal key, required by the
// history and send endpoints; it is empty for drafts and for threads whose
// internal key is not known yet.
type Thread struct {
	LocalID     string    `json:"localId"`
	DisplayName string    `json:"name,omitempty"`
	Messages    []Message `json:"messages,omitempty"`
	AgentID     string    `json:"agentId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
	RemoteID    string    `json:"remoteId,omitempty"`
}

// IsDraft reports whether the thread only exists locally.
func (t *Thread) IsDraft() bool {
	return t.RemoteID == "" && IsDraftID(t.LocalID)
}

// Title returns a label for listings: the display name, else the start of
// the first user message, else the handle.
func (t *Thread) Title() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	for _, m := range t.Messages {
		if m.IsUser {
			text := strings.TrimSpace(m.Text)
			if r := []rune(text); len(r) > 40 {
				text = string(r[:40]) + "..."
			}
			if text != "" {
				return text
			}
		}
	}
	return t.LocalID
}

// ThreadSummary is one entry of the per-agent thread aggregate kept in the
// local cache.
type ThreadSummary struct {
	LocalID      string    `json:"localId"`
	RemoteID     string    `json:"remoteId,omitempty"`
	DisplayName  string    `json:"name,omitempty"`
	AgentID      string    `json:"agentId"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
	MessageCount int       `json:"messageCount"`
}

// Conversation records which thread a front-end conversation is attached to.
type Conversation struct {
	Key      ConversationKey `json:"key"`
	AgentID  string          `json:"agent_id"`
	LocalID  string          `json:"local_id,omitempty"`
	RemoteID string          `json:"remote_id,omitempty"`
}

// Thread returns the thread handle the conversation points at, or nil when
// no thread has been started.
func (c *Conversation) Thread() *Thread {
	if c.LocalID == "" {
		return nil
	}
	return &Thread{LocalID: c.LocalID, RemoteID: c.RemoteID, AgentID: c.AgentID}
}
