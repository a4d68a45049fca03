// internal/types/interfaces.go
package types

import "context"

// KV is the local persistent key-value store. Values are opaque strings,
// usually JSON documents.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	ListKeys(ctx context.Context) ([]string, error)
	Close() error
}

// ConversationStore tracks which thread each front-end conversation is on.
type ConversationStore interface {
	Get(ctx context.Context, key ConversationKey) (*Conversation, error)
	Put(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, key ConversationKey) error
}
