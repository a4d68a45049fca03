// Package gateway is the facade the front-ends talk to. It tracks which
// thread each conversation is on and keeps sends on one conversation from
// overlapping.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/internal/ownership"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/internal/types"
	"github.com/user/agentchat/pkg/chatapi"
)

// Gateway routes front-end requests to the thread store and the ownership
// resolver.
type Gateway struct {
	remote  chatapi.Gateway
	threads *threads.Store
	owners  *ownership.Resolver
	convs   types.ConversationStore
	guard   *Guard
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxConcurrent sets the number of sends allowed in flight across all
// conversations. The default is 4.
func WithMaxConcurrent(n int64) Option {
	return func(g *Gateway) { g.guard = NewGuard(n) }
}

// New creates a Gateway.
func New(remote chatapi.Gateway, store *threads.Store, owners *ownership.Resolver, convs types.ConversationStore, opts ...Option) *Gateway {
	g := &Gateway{
		remote:  remote,
		threads: store,
		owners:  owners,
		convs:   convs,
		guard:   NewGuard(4),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send sends text to agentID on the conversation's current thread, starting
// a new thread when there is none or the conversation was with another
// agent. Returns ErrBusy without any remote call when a send on key is
// already in flight.
func (g *Gateway) Send(ctx context.Context, key types.ConversationKey, agentID, text string, opts ...threads.SendOption) (*threads.SendResult, error) {
	return g.send(ctx, key, agentID, nil, text, opts)
}

// SendOnThread attaches key to th and sends text on it. The conversation is
// only switched once the send holds the conversation, so a busy conversation
// keeps its thread and ErrBusy is returned.
func (g *Gateway) SendOnThread(ctx context.Context, key types.ConversationKey, th types.Thread, text string, opts ...threads.SendOption) (*threads.SendResult, error) {
	return g.send(ctx, key, th.AgentID, &th, text, opts)
}

func (g *Gateway) send(ctx context.Context, key types.ConversationKey, agentID string, attach *types.Thread, text string, opts []threads.SendOption) (*threads.SendResult, error) {
	release, err := g.guard.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			metrics.SendsTotal.WithLabelValues("busy").Inc()
			slog.Debug("send ignored, conversation busy", "conversation", string(key))
		}
		return nil, err
	}
	defer release()

	var (
		conv    *types.Conversation
		current *types.Thread
	)
	if attach != nil {
		conv = &types.Conversation{Key: key}
		current = attach
	} else {
		conv, err = g.convs.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if conv.AgentID != "" && conv.AgentID != agentID {
			conv = &types.Conversation{Key: key}
		}
		current = conv.Thread()
	}

	res := g.threads.SendMessage(ctx, text, agentID, current, opts...)

	conv.AgentID = agentID
	if res.Thread != nil {
		conv.LocalID = res.Thread.LocalID
		conv.RemoteID = res.Thread.RemoteID
	}
	if err := g.convs.Put(ctx, conv); err != nil {
		slog.Warn("save conversation", "conversation", string(key), "error", err)
	}
	return &res, nil
}

// Busy reports whether a send on key is in flight.
func (g *Gateway) Busy(key types.ConversationKey) bool {
	return g.guard.Busy(key)
}

// Conversation returns the state of key.
func (g *Gateway) Conversation(ctx context.Context, key types.ConversationKey) (*types.Conversation, error) {
	return g.convs.Get(ctx, key)
}

// NewThread detaches key from its thread; the next send starts a new one.
func (g *Gateway) NewThread(ctx context.Context, key types.ConversationKey, agentID string) error {
	return g.convs.Put(ctx, &types.Conversation{Key: key, AgentID: agentID})
}

// UseThread attaches key to an existing thread.
func (g *Gateway) UseThread(ctx context.Context, key types.ConversationKey, th types.Thread) error {
	return g.convs.Put(ctx, &types.Conversation{
		Key:      key,
		AgentID:  th.AgentID,
		LocalID:  th.LocalID,
		RemoteID: th.RemoteID,
	})
}

// History returns the messages of the conversation's current thread.
func (g *Gateway) History(ctx context.Context, key types.ConversationKey) ([]types.Message, error) {
	conv, err := g.convs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if conv.LocalID == "" {
		return []types.Message{}, nil
	}
	return g.Messages(ctx, conv.AgentID, conv.LocalID, conv.RemoteID)
}

// ListThreads lists the threads of agentID.
func (g *Gateway) ListThreads(ctx context.Context, agentID string) ([]types.Thread, error) {
	return g.threads.ListThreads(ctx, agentID)
}

// Messages returns the messages of a thread, preferring the cached
// transcript. remoteID may be empty when the cache knows it.
func (g *Gateway) Messages(ctx context.Context, agentID, localID, remoteID string) ([]types.Message, error) {
	th := types.Thread{LocalID: localID, RemoteID: remoteID, AgentID: agentID}
	cached, ok, err := g.threads.Thread(ctx, agentID, localID)
	if err != nil {
		slog.Warn("read cached thread", "local_id", localID, "error", err)
	} else if ok {
		th = *cached
		if remoteID != "" {
			th.RemoteID = remoteID
		}
	}
	return g.threads.SelectThread(ctx, th)
}

// Thread returns the cached thread localID of agentID.
func (g *Gateway) Thread(ctx context.Context, agentID, localID string) (*types.Thread, bool, error) {
	return g.threads.Thread(ctx, agentID, localID)
}

// ResolveThread finds localID among the cached threads of agentID, falling
// back to the thread directory. Remote ids are accepted as well. ok is false
// when neither knows the thread.
func (g *Gateway) ResolveThread(ctx context.Context, agentID, localID string) (th types.Thread, ok bool, err error) {
	cached, ok, err := g.threads.Thread(ctx, agentID, localID)
	if err != nil {
		slog.Warn("read cached thread", "local_id", localID, "error", err)
	} else if ok {
		return *cached, true, nil
	}
	list, err := g.threads.ListThreads(ctx, agentID)
	if err != nil {
		return types.Thread{}, false, fmt.Errorf("resolve thread: %w", err)
	}
	for _, th := range list {
		if th.LocalID == localID || th.RemoteID == localID {
			return th, true, nil
		}
	}
	return types.Thread{}, false, nil
}

// OrphanThreads lists cached transcripts no agent's thread list refers to.
func (g *Gateway) OrphanThreads(ctx context.Context) ([]string, error) {
	return g.threads.Orphans(ctx)
}

// PruneThreads drops cached transcripts no agent's thread list refers to.
func (g *Gateway) PruneThreads(ctx context.Context) (int, error) {
	return g.threads.PruneOrphans(ctx)
}

// DeleteThread deletes the thread remotely and, on success, drops it from
// the cache.
func (g *Gateway) DeleteThread(ctx context.Context, agentID, localID string) bool {
	if !g.threads.DeleteThread(ctx, localID) {
		return false
	}
	if agentID != "" {
		if err := g.threads.ForgetThread(ctx, agentID, localID); err != nil {
			slog.Warn("forget deleted thread", "local_id", localID, "error", err)
		}
	}
	return true
}

// Agents lists the agents of the current organization.
func (g *Gateway) Agents(ctx context.Context) ([]chatapi.Agent, error) {
	agents, err := g.remote.ListAgents(ctx, g.OrgID())
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// Agent fetches a single agent profile.
func (g *Gateway) Agent(ctx context.Context, agentID string) (*chatapi.Agent, error) {
	agent, err := g.remote.GetAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// Organizations lists the organizations the user belongs to.
func (g *Gateway) Organizations(ctx context.Context) ([]chatapi.Organization, error) {
	orgs, err := g.remote.ListOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return orgs, nil
}

// Models lists the service/model combinations agents can run on.
func (g *Gateway) Models(ctx context.Context) ([]chatapi.ModelOption, error) {
	return g.owners.AvailableModels(ctx)
}

// Explain reports the ownership decision for agentID.
func (g *Gateway) Explain(ctx context.Context, agentID string) ownership.Explanation {
	return g.owners.Explain(ctx, agentID)
}

// IsAgentOwned reports whether the user may change agentID.
func (g *Gateway) IsAgentOwned(ctx context.Context, agentID string) bool {
	return g.owners.IsAgentOwned(ctx, agentID)
}

// UpdateAgentModel switches agentID to service/model if the user owns it.
func (g *Gateway) UpdateAgentModel(ctx context.Context, agentID, model, service string) ownership.UpdateResult {
	return g.owners.UpdateAgentModel(ctx, agentID, model, service)
}

// SwitchOrganization makes orgID current on the server and locally.
func (g *Gateway) SwitchOrganization(ctx context.Context, orgID string) (*chatapi.UserProfile, error) {
	profile, err := g.remote.SwitchOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("switch organization: %w", err)
	}
	g.owners.SwitchOrganization(orgID)
	return profile, nil
}

// OrgID returns the current organization.
func (g *Gateway) OrgID() string {
	return g.owners.OrgID()
}

// Wait blocks until no sends are in flight or the timeout expires.
func (g *Gateway) Wait(timeout time.Duration) bool {
	return g.guard.WaitIdle(timeout)
}
