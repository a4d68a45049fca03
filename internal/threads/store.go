// Package threads keeps the local thread cache in step with the remote thread
// directory and runs the two-phase send flow.
//
// The remote API addresses a thread through two identifiers: the directory's
// lightweight handle (middleware_id) and the datastore's internal key (_id).
// The handle becomes the local id used for cache keys and UI selection; the
// internal key is the only one the history and send endpoints accept. Both
// are tracked per thread and chosen deliberately per operation.
package threads

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/internal/render"
	"github.com/user/agentchat/internal/types"
	"github.com/user/agentchat/pkg/chatapi"
)

const (
	messagesPrefix  = "thread_messages_"
	aggregatePrefix = "agent_thread_"

	// ErrorReply is the synthetic agent message appended when a send fails.
	ErrorReply = "Sorry, I encountered an error. Please try again."
)

func messagesKey(localID string) string { return messagesPrefix + localID }
func aggregateKey(agentID string) string { return aggregatePrefix + agentID }

// Store reconciles cached threads with the remote directory.
type Store struct {
	gw  chatapi.Gateway
	kv  types.KV
	now func() time.Time

	// mu serializes read-modify-write cycles on the per-agent aggregates.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a Store over the given gateway and cache.
func NewStore(gw chatapi.Gateway, kv types.KV, opts ...Option) *Store {
	s := &Store{gw: gw, kv: kv, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListThreads returns thread metadata for agentID, newest first. Remote
// failures never surface: the cached threads for the agent, with messages,
// are returned instead.
func (s *Store) ListThreads(ctx context.Context, agentID string) ([]types.Thread, error) {
	entries, err := s.gw.ListThreads(ctx, agentID)
	if err != nil {
		slog.Warn("thread directory unavailable, using cache", "agent_id", agentID, "error", err)
		metrics.CacheFallbacks.WithLabelValues("list_threads").Inc()
		cached, cerr := s.CachedThreads(ctx, agentID)
		if cerr != nil {
			slog.Warn("read cached threads", "agent_id", agentID, "error", cerr)
			return []types.Thread{}, nil
		}
		return cached, nil
	}

	threads := make([]types.Thread, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		th, ok := fromEntry(agentID, e)
		if !ok || seen[th.LocalID] {
			continue
		}
		seen[th.LocalID] = true
		threads = append(threads, th)
	}

	s.reconcile(ctx, agentID, threads)

	// Drafts exist only locally; keep them visible next to the directory.
	if agg, err := s.loadAggregate(ctx, agentID); err == nil {
		for _, sum := range agg {
			if types.IsDraftID(sum.LocalID) && !seen[sum.LocalID] {
				threads = append(threads, sum.thread())
			}
		}
	}

	sortNewestFirst(threads)
	return threads, nil
}

// fromEntry maps a directory entry onto a Thread. Entries without a
// lightweight handle use the internal key for both.
func fromEntry(agentID string, e chatapi.ThreadEntry) (types.Thread, bool) {
	local := e.MiddlewareID
	if local == "" {
		local = e.ID
	}
	if local == "" {
		return types.Thread{}, false
	}
	return types.Thread{
		LocalID:     local,
		RemoteID:    e.ID,
		DisplayName: e.Name,
		AgentID:     agentID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}, true
}

// reconcile moves cached threads minted after a first send (handle equal to
// the internal key) under the lightweight handle the directory now reports.
func (s *Store) reconcile(ctx context.Context, agentID string, listed []types.Thread) {
	agg, err := s.loadAggregate(ctx, agentID)
	if err != nil || len(agg) == 0 {
		return
	}
	for _, th := range listed {
		if th.RemoteID == "" || th.LocalID == th.RemoteID {
			continue
		}
		sum, ok := agg[th.RemoteID]
		if !ok || sum.LocalID != sum.RemoteID {
			continue
		}
		if err := s.migrate(ctx, agentID, th.RemoteID, th); err != nil {
			slog.Warn("migrate cached thread", "agent_id", agentID, "from", th.RemoteID, "to", th.LocalID, "error", err)
			continue
		}
		slog.Debug("migrated cached thread", "agent_id", agentID, "from", th.RemoteID, "to", th.LocalID)
		metrics.ThreadMigrations.Inc()
	}
}

// migrate moves the cached transcript of from under target.LocalID.
func (s *Store) migrate(ctx context.Context, agentID, from string, target types.Thread) error {
	msgs, _, err := s.loadMessages(ctx, from)
	if err != nil {
		return err
	}
	existing, ok, err := s.loadMessages(ctx, target.LocalID)
	if err != nil {
		return err
	}
	if ok && len(existing) >= len(msgs) {
		msgs = existing
	}
	if err := s.save(ctx, target, msgs); err != nil {
		return err
	}
	return s.ForgetThread(ctx, agentID, from)
}

// SelectThread returns the messages of thread. Messages already held by the
// thread are returned as is. Otherwise the history is fetched by internal
// key and cached under the local id. On failure the cached transcript is
// returned when there is one.
func (s *Store) SelectThread(ctx context.Context, thread types.Thread) ([]types.Message, error) {
	if len(thread.Messages) > 0 {
		return thread.Messages, nil
	}
	if thread.IsDraft() {
		msgs, _, err := s.loadMessages(ctx, thread.LocalID)
		if err != nil {
			return []types.Message{}, err
		}
		return msgs, nil
	}

	id := thread.RemoteID
	if id == "" {
		slog.Warn("thread has no internal key, fetching history by local id", "local_id", thread.LocalID)
		id = thread.LocalID
	}

	records, err := s.gw.ListMessages(ctx, id)
	if err != nil {
		cached, ok, cerr := s.loadMessages(ctx, thread.LocalID)
		if cerr == nil && ok && len(cached) > 0 {
			slog.Warn("message history unavailable, using cache", "local_id", thread.LocalID, "error", err)
			metrics.CacheFallbacks.WithLabelValues("select_thread").Inc()
			return cached, nil
		}
		return []types.Message{}, fmt.Errorf("load thread %s: %w", thread.LocalID, err)
	}

	msgs := make([]types.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, s.fromRecord(rec))
	}

	if err := s.save(ctx, thread, msgs); err != nil {
		slog.Warn("cache thread messages", "local_id", thread.LocalID, "error", err)
	}
	return msgs, nil
}

func (s *Store) fromRecord(rec chatapi.MessageRecord) types.Message {
	m := types.Message{
		ID:        rec.ID,
		Text:      rec.Content,
		IsUser:    rec.IsUser(),
		Timestamp: rec.CreatedAt,
	}
	if !m.IsUser {
		m.Text = render.Markdown(m.Text)
	}
	if m.ID == "" {
		m.ID = types.NewMessageID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	return m
}

// SaveThread overwrites the cached messages of localID and upserts its entry
// in the agent aggregate. Previously known metadata is kept.
func (s *Store) SaveThread(ctx context.Context, localID string, messages []types.Message, agentID string) error {
	return s.save(ctx, types.Thread{LocalID: localID, AgentID: agentID}, messages)
}

func (s *Store) save(ctx context.Context, th types.Thread, messages []types.Message) error {
	if messages == nil {
		messages = []types.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	if err := s.kv.Set(ctx, messagesKey(th.LocalID), string(data)); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	if th.AgentID == "" {
		slog.Warn("thread saved without agent, not indexed", "local_id", th.LocalID)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agg, err := s.loadAggregate(ctx, th.AgentID)
	if err != nil {
		return err
	}
	sum := agg[th.LocalID]
	sum.LocalID = th.LocalID
	sum.AgentID = th.AgentID
	if th.RemoteID != "" {
		sum.RemoteID = th.RemoteID
	}
	if th.DisplayName != "" {
		sum.DisplayName = th.DisplayName
	}
	if sum.CreatedAt.IsZero() {
		sum.CreatedAt = th.CreatedAt
		if sum.CreatedAt.IsZero() {
			sum.CreatedAt = s.now()
		}
	}
	sum.LastUpdated = s.now()
	sum.MessageCount = len(messages)
	agg[th.LocalID] = sum

	return s.saveAggregate(ctx, th.AgentID, agg)
}

// DeleteThread asks the server to delete the thread and reports whether it
// did. Drafts were never created remotely and always succeed. The local
// cache is left alone; use ForgetThread for that.
func (s *Store) DeleteThread(ctx context.Context, localID string) bool {
	if types.IsDraftID(localID) {
		return true
	}
	if err := s.gw.DeleteThread(ctx, localID); err != nil {
		slog.Warn("delete thread", "local_id", localID, "error", err)
		return false
	}
	return true
}

// Thread returns the cached thread localID of agentID with its messages.
func (s *Store) Thread(ctx context.Context, agentID, localID string) (*types.Thread, bool, error) {
	agg, err := s.loadAggregate(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	sum, ok := agg[localID]
	if !ok {
		return nil, false, nil
	}
	th := sum.thread()
	msgs, _, err := s.loadMessages(ctx, localID)
	if err != nil {
		return nil, false, err
	}
	th.Messages = msgs
	return &th, true, nil
}

// CachedThreads returns every cached thread of agentID with messages,
// newest first.
func (s *Store) CachedThreads(ctx context.Context, agentID string) ([]types.Thread, error) {
	agg, err := s.loadAggregate(ctx, agentID)
	if err != nil {
		return nil, err
	}
	threads := make([]types.Thread, 0, len(agg))
	for _, sum := range agg {
		th := sum.thread()
		msgs, _, err := s.loadMessages(ctx, sum.LocalID)
		if err != nil {
			slog.Warn("read cached messages", "local_id", sum.LocalID, "error", err)
		}
		th.Messages = msgs
		threads = append(threads, th)
	}
	sortNewestFirst(threads)
	return threads, nil
}

// ForgetThread removes localID from the cache.
func (s *Store) ForgetThread(ctx context.Context, agentID, localID string) error {
	if err := s.kv.Remove(ctx, messagesKey(localID)); err != nil {
		return fmt.Errorf("remove messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agg, err := s.loadAggregate(ctx, agentID)
	if err != nil {
		return err
	}
	if _, ok := agg[localID]; !ok {
		return nil
	}
	delete(agg, localID)
	return s.saveAggregate(ctx, agentID, agg)
}

// Orphans returns the local ids of cached transcripts no agent aggregate
// refers to.
func (s *Store) Orphans(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cache keys: %w", err)
	}

	referenced := make(map[string]bool)
	for _, k := range keys {
		agentID, ok := strings.CutPrefix(k, aggregatePrefix)
		if !ok {
			continue
		}
		agg, err := s.loadAggregate(ctx, agentID)
		if err != nil {
			return nil, err
		}
		for id := range agg {
			referenced[id] = true
		}
	}

	var orphans []string
	for _, k := range keys {
		if id, ok := strings.CutPrefix(k, messagesPrefix); ok && !referenced[id] {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	return orphans, nil
}

// PruneOrphans removes cached transcripts no agent aggregate refers to and
// returns how many were removed.
func (s *Store) PruneOrphans(ctx context.Context) (int, error) {
	orphans, err := s.Orphans(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range orphans {
		if err := s.kv.Remove(ctx, messagesKey(id)); err != nil {
			return removed, fmt.Errorf("remove orphan %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) loadMessages(ctx context.Context, localID string) ([]types.Message, bool, error) {
	raw, ok, err := s.kv.Get(ctx, messagesKey(localID))
	if err != nil {
		return nil, false, fmt.Errorf("read messages: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var msgs []types.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, false, fmt.Errorf("unmarshal messages: %w", err)
	}
	return msgs, true, nil
}

// aggregate is the per-agent thread index, keyed by local id.
type aggregate map[string]summary

type summary types.ThreadSummary

func (s summary) thread() types.Thread {
	return types.Thread{
		LocalID:     s.LocalID,
		RemoteID:    s.RemoteID,
		DisplayName: s.DisplayName,
		AgentID:     s.AgentID,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.LastUpdated,
	}
}

func (s *Store) loadAggregate(ctx context.Context, agentID string) (aggregate, error) {
	raw, ok, err := s.kv.Get(ctx, aggregateKey(agentID))
	if err != nil {
		return nil, fmt.Errorf("read thread index: %w", err)
	}
	agg := make(aggregate)
	if !ok || raw == "" {
		return agg, nil
	}
	if err := json.Unmarshal([]byte(raw), &agg); err != nil {
		return nil, fmt.Errorf("unmarshal thread index: %w", err)
	}
	return agg, nil
}

func (s *Store) saveAggregate(ctx context.Context, agentID string, agg aggregate) error {
	if len(agg) == 0 {
		if err := s.kv.Remove(ctx, aggregateKey(agentID)); err != nil {
			return fmt.Errorf("remove thread index: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal thread index: %w", err)
	}
	if err := s.kv.Set(ctx, aggregateKey(agentID), string(data)); err != nil {
		return fmt.Errorf("save thread index: %w", err)
	}
	return nil
}

func sortNewestFirst(threads []types.Thread) {
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].CreatedAt.After(threads[j].CreatedAt)
	})
}
