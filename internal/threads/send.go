package threads

import (
	"context"
	"log/slog"

	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/internal/render"
	"github.com/user/agentchat/internal/types"
	"github.com/user/agentchat/pkg/chatapi"
)

// SendResult is the outcome of SendMessage.
type SendResult struct {
	// Messages is the full transcript after the send: the prior messages,
	// the user message, then the reply or the synthetic error message.
	Messages []types.Message

	// NewThread is set when the server started a new thread.
	NewThread *types.Thread

	// Thread is the thread now holding Messages. For a failed first send it
	// is a local draft.
	Thread *types.Thread

	// Err is the remote failure, if any. Notice is its user-facing text.
	Err    error
	Notice string
}

// SendOption configures a single SendMessage call.
type SendOption func(*sendOptions)

type sendOptions struct {
	onOptimistic func([]types.Message)
}

// WithOptimistic registers a callback that receives the transcript with the
// user message appended, before the remote call is made.
func WithOptimistic(fn func([]types.Message)) SendOption {
	return func(o *sendOptions) { o.onOptimistic = fn }
}

// SendMessage appends a user message to current (nil for a new
// conversation), sends it, and appends the reply. A failed send appends
// ErrorReply instead; the transcript is persisted either way.
func (s *Store) SendMessage(ctx context.Context, text, agentID string, current *types.Thread, opts ...SendOption) SendResult {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	current = s.follow(ctx, agentID, current)
	history, complete := s.history(ctx, current)
	msgs := make([]types.Message, 0, len(history)+2)
	msgs = append(msgs, history...)
	msgs = append(msgs, types.Message{ID: types.NewMessageID(), Text: text, IsUser: true, Timestamp: s.now()})

	if o.onOptimistic != nil {
		snapshot := make([]types.Message, len(msgs))
		copy(snapshot, msgs)
		o.onOptimistic(snapshot)
	}

	req := chatapi.SendRequest{Message: text, AgentID: agentID}
	if current != nil && !current.IsDraft() {
		req.ThreadID = current.RemoteID
		if req.ThreadID == "" {
			slog.Warn("thread has no internal key, sending with local id", "local_id", current.LocalID, "agent_id", agentID)
			req.ThreadID = current.LocalID
		}
	}

	resp, err := s.gw.SendMessage(ctx, req)
	if err != nil {
		metrics.SendsTotal.WithLabelValues("failed").Inc()
		slog.Warn("send message failed", "agent_id", agentID, "thread_id", req.ThreadID, "error", err)

		msgs = append(msgs, types.Message{ID: types.NewMessageID(), Text: ErrorReply, Timestamp: s.now()})
		th := s.target(current, agentID)
		if complete {
			s.persist(ctx, th, msgs)
		}
		th.Messages = msgs
		return SendResult{
			Messages: msgs,
			Thread:   th,
			Err:      err,
			Notice:   chatapi.UserMessage(err),
		}
	}

	metrics.SendsTotal.WithLabelValues("ok").Inc()
	msgs = append(msgs, types.Message{ID: types.NewMessageID(), Text: render.Markdown(resp.Message), Timestamp: s.now()})

	result := SendResult{Messages: msgs}
	switch {
	case (current == nil || current.IsDraft()) && resp.ThreadID != "":
		// The server assigned only its internal key; it doubles as the
		// handle until a directory listing reports the real one.
		th := &types.Thread{
			LocalID:   resp.ThreadID,
			RemoteID:  resp.ThreadID,
			AgentID:   agentID,
			CreatedAt: s.now(),
		}
		s.persist(ctx, th, msgs)
		if current != nil {
			if err := s.ForgetThread(ctx, agentID, current.LocalID); err != nil {
				slog.Warn("remove draft", "local_id", current.LocalID, "error", err)
			}
		}
		result.NewThread = th
		result.Thread = th
	default:
		th := s.target(current, agentID)
		if th.RemoteID == "" && !th.IsDraft() && resp.ThreadID != "" {
			th.RemoteID = resp.ThreadID
		}
		if complete {
			s.persist(ctx, th, msgs)
		}
		result.Thread = th
	}

	result.Thread.Messages = msgs
	return result
}

// history returns the transcript to extend. A thread handle without
// messages is filled from the cache, or from the server when nothing is
// cached yet, so the overwrite in SaveThread does not drop earlier messages.
// complete is false when the earlier messages could not be loaded; such a
// transcript must not be cached.
func (s *Store) history(ctx context.Context, current *types.Thread) (msgs []types.Message, complete bool) {
	if current == nil {
		return nil, true
	}
	if len(current.Messages) > 0 {
		return current.Messages, true
	}
	cached, ok, err := s.loadMessages(ctx, current.LocalID)
	if err != nil {
		slog.Warn("read cached messages", "local_id", current.LocalID, "error", err)
		return nil, false
	}
	if ok || current.IsDraft() || current.RemoteID == "" {
		return cached, true
	}
	msgs, err = s.SelectThread(ctx, *current)
	if err != nil {
		slog.Warn("load thread history before send", "local_id", current.LocalID, "remote_id", current.RemoteID, "error", err)
		return nil, false
	}
	return msgs, true
}

// follow returns the thread current was migrated to when its cached entry
// has moved under the lightweight handle since the caller last saw it.
func (s *Store) follow(ctx context.Context, agentID string, current *types.Thread) *types.Thread {
	if current == nil || current.IsDraft() || current.RemoteID == "" || current.LocalID != current.RemoteID {
		return current
	}
	agg, err := s.loadAggregate(ctx, agentID)
	if err != nil {
		return current
	}
	if _, ok := agg[current.LocalID]; ok {
		return current
	}
	for _, sum := range agg {
		if sum.RemoteID == current.RemoteID && sum.LocalID != current.LocalID {
			th := sum.thread()
			return &th
		}
	}
	return current
}

// target returns the thread a transcript is stored under, minting a draft
// when there is none.
func (s *Store) target(current *types.Thread, agentID string) *types.Thread {
	if current != nil {
		th := *current
		if th.AgentID == "" {
			th.AgentID = agentID
		}
		return &th
	}
	return &types.Thread{
		LocalID:   types.NewDraftID(),
		AgentID:   agentID,
		CreatedAt: s.now(),
	}
}

func (s *Store) persist(ctx context.Context, th *types.Thread, msgs []types.Message) {
	if err := s.save(ctx, *th, msgs); err != nil {
		slog.Warn("cache transcript", "local_id", th.LocalID, "error", err)
	}
}
