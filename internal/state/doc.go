// Package state provides the local key-value store backends and the
// conversation store built on top of them.
package state

import "github.com/user/agentchat/internal/types"

// Compile-time interface compliance checks.
var _ types.KV = (*FileKV)(nil)
var _ types.KV = (*MemoryKV)(nil)
var _ types.KV = (*RedisKV)(nil)
var _ types.KV = (*SQLiteKV)(nil)
var _ types.ConversationStore = (*ConversationStore)(nil)
