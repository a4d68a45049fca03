// internal/state/conversation.go
package state

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/agentchat/internal/types"
)

const conversationPrefix = "conversation_"

// ConversationStore keeps front-end conversation state in a KV store under
// conversation_<key>.
type ConversationStore struct {
	kv types.KV
}

func NewConversationStore(kv types.KV) *ConversationStore {
	return &ConversationStore{kv: kv}
}

// Get returns the conversation for key. A conversation that was never stored
// is returned empty, not as an error.
func (s *ConversationStore) Get(ctx context.Context, key types.ConversationKey) (*types.Conversation, error) {
	raw, ok, err := s.kv.Get(ctx, conversationPrefix+string(key))
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	if !ok {
		return &types.Conversation{Key: key}, nil
	}
	var conv types.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation: %w", err)
	}
	conv.Key = key
	return &conv, nil
}

func (s *ConversationStore) Put(ctx context.Context, conv *types.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	if err := s.kv.Set(ctx, conversationPrefix+string(conv.Key), string(data)); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *ConversationStore) Delete(ctx context.Context, key types.ConversationKey) error {
	return s.kv.Remove(ctx, conversationPrefix+string(key))
}
