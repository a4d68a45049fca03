// Package ownership decides whether the signed-in user may change an
// agent's configuration. The decision fails closed: any error while
// gathering the inputs denies every agent.
package ownership

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/user/agentchat/internal/metrics"
	"github.com/user/agentchat/pkg/chatapi"
)

// Resolver computes and caches the owned-agent set of the current
// organization.
type Resolver struct {
	gw    chatapi.Gateway
	cache *Cache

	mu    sync.Mutex
	orgID string
}

// NewResolver creates a Resolver for orgID. A nil cache gets a fresh one.
func NewResolver(gw chatapi.Gateway, cache *Cache, orgID string) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{gw: gw, cache: cache, orgID: orgID}
}

// OrgID returns the current organization.
func (r *Resolver) OrgID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orgID
}

// SwitchOrganization makes orgID current and drops the cached sets of both
// the old and the new organization.
func (r *Resolver) SwitchOrganization(orgID string) {
	r.mu.Lock()
	old := r.orgID
	r.orgID = orgID
	r.mu.Unlock()

	r.cache.Invalidate(old)
	r.cache.Invalidate(orgID)
	slog.Debug("organization switched", "from", old, "org_id", orgID)
}

// Invalidate drops the cached set of the current organization.
func (r *Resolver) Invalidate() {
	r.cache.Invalidate(r.OrgID())
}

// IsAgentOwned reports whether agentID is in the owned set of the current
// organization.
func (r *Resolver) IsAgentOwned(ctx context.Context, agentID string) bool {
	owned := r.OwnedAgents(ctx).Has(agentID)
	if owned {
		metrics.OwnershipDecisions.WithLabelValues("owned").Inc()
	} else {
		metrics.OwnershipDecisions.WithLabelValues("denied").Inc()
	}
	return owned
}

// OwnedAgents returns the owned set of the current organization, computing
// it on first use. A failed computation yields an empty set that is not
// cached; an authentication failure also drops every cached set.
func (r *Resolver) OwnedAgents(ctx context.Context) AgentSet {
	orgID := r.OrgID()
	if set, ok := r.cache.Get(orgID); ok {
		return set
	}

	in, err := r.gather(ctx, orgID)
	if err != nil {
		slog.Warn("build owned agents failed, denying all", "org_id", orgID, "error", err)
		metrics.OwnershipBuildFailures.Inc()
		if chatapi.Classify(err) == chatapi.ClassAuth {
			// Sets cached for other organizations came from the same
			// credentials.
			r.cache.InvalidateAll()
		}
		return AgentSet{}
	}

	set := in.owned()
	// The organization may have been switched while fetching.
	if r.OrgID() == orgID {
		r.cache.Put(orgID, set)
	}
	slog.Debug("owned agents computed", "org_id", orgID, "count", len(set))
	return set
}

// inputs are the two remote sources of an ownership decision.
type inputs struct {
	agents []chatapi.Agent
	user   *chatapi.UserProfile
}

func (r *Resolver) gather(ctx context.Context, orgID string) (*inputs, error) {
	var in inputs
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		agents, err := r.gw.ListAgents(gctx, orgID)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}
		in.agents = agents
		return nil
	})
	g.Go(func() error {
		user, err := r.gw.CurrentUser(gctx)
		if err != nil {
			return fmt.Errorf("current user: %w", err)
		}
		in.user = user
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if in.user == nil {
		return nil, fmt.Errorf("current user: %w", chatapi.ErrMalformed)
	}
	return &in, nil
}

// userIDs returns the identifiers the user may appear under in createdBy
// and editors. Empty identifiers never match.
func (in *inputs) userIDs() []string {
	var ids []string
	for _, id := range []string{in.user.ID, in.user.ProxyID} {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (in *inputs) owned() AgentSet {
	set := AgentSet{}
	ids := in.userIDs()
	for _, a := range in.agents {
		if createdBy(a, ids) || isEditor(a, ids) {
			set.add(a.ID)
		}
	}
	for _, agentID := range in.user.OrgAgentMap {
		set.add(agentID)
	}
	return set
}

func createdBy(a chatapi.Agent, ids []string) bool {
	return a.CreatedBy != "" && slices.Contains(ids, a.CreatedBy)
}

func isEditor(a chatapi.Agent, ids []string) bool {
	for _, e := range a.Editors {
		if e != "" && slices.Contains(ids, e) {
			return true
		}
	}
	return false
}

// Explanation details an ownership decision.
type Explanation struct {
	AgentID    string `json:"agent_id"`
	OrgID      string `json:"org_id"`
	IsOwned    bool   `json:"is_owned"`
	Creator    bool   `json:"creator"`
	Editor     bool   `json:"editor"`
	OrgDefault bool   `json:"org_default"`

	// NameMatch compares the agent's owner name with the user's name. It is
	// informational and never grants ownership.
	NameMatch bool   `json:"name_match"`
	Error     string `json:"error,omitempty"`
}

// Explain recomputes the decision for agentID from fresh data and reports
// which signals matched.
func (r *Resolver) Explain(ctx context.Context, agentID string) Explanation {
	orgID := r.OrgID()
	ex := Explanation{AgentID: agentID, OrgID: orgID}

	in, err := r.gather(ctx, orgID)
	if err != nil {
		ex.Error = err.Error()
		return ex
	}

	ids := in.userIDs()
	for _, a := range in.agents {
		if a.ID != agentID {
			continue
		}
		ex.Creator = createdBy(a, ids)
		ex.Editor = isEditor(a, ids)
		ex.NameMatch = nameMatches(a.OwnerName, in.user.Name)
	}
	for _, id := range in.user.OrgAgentMap {
		if id == agentID {
			ex.OrgDefault = true
		}
	}
	ex.IsOwned = in.owned().Has(agentID)
	return ex
}

func nameMatches(owner, user string) bool {
	owner = strings.TrimSpace(owner)
	user = strings.TrimSpace(user)
	return owner != "" && strings.EqualFold(owner, user)
}

// UpdateResult is the outcome of UpdateAgentModel.
type UpdateResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

const (
	msgDenied       = "You do not have permission to change this agent's model."
	msgForbidden    = "You are not authorized to change this agent's model."
	msgNotFound     = "Agent not found. It may have been deleted."
	msgUpdateFailed = "Failed to update the agent's model. Please try again."
)

// UpdateAgentModel switches agentID to service/model. Ownership is
// re-validated from fresh data right before the change, and no mutating
// call is made for agents the user does not own.
func (r *Resolver) UpdateAgentModel(ctx context.Context, agentID, model, service string) UpdateResult {
	if agentID == "" || model == "" || service == "" {
		return UpdateResult{Message: "Agent, service and model are required."}
	}

	r.Invalidate()
	if !r.IsAgentOwned(ctx, agentID) {
		slog.Info("model change denied", "agent_id", agentID, "org_id", r.OrgID())
		return UpdateResult{Message: msgDenied}
	}

	opt := chatapi.ModelOption{Service: service, Model: model}
	models, err := r.gw.ListModels(ctx)
	if err != nil {
		slog.Warn("list models failed, skipping availability check", "error", err)
	} else if len(models) > 0 && !slices.Contains(models, opt) {
		return UpdateResult{Message: fmt.Sprintf("Model %s is not available for service %s.", model, service)}
	}

	if err := r.gw.UpdateAgentModel(ctx, agentID, opt); err != nil {
		slog.Warn("update agent model", "agent_id", agentID, "service", service, "model", model, "error", err)
		switch chatapi.Classify(err) {
		case chatapi.ClassForbidden:
			return UpdateResult{Message: msgForbidden}
		case chatapi.ClassNotFound:
			return UpdateResult{Message: msgNotFound}
		case chatapi.ClassRateLimited, chatapi.ClassAuth:
			return UpdateResult{Message: chatapi.UserMessage(err)}
		default:
			return UpdateResult{Message: msgUpdateFailed}
		}
	}

	slog.Info("agent model updated", "agent_id", agentID, "service", service, "model", model)
	return UpdateResult{Success: true, Message: fmt.Sprintf("Model updated to %s (%s).", model, service)}
}

// AvailableModels lists the service/model combinations agents can use.
func (r *Resolver) AvailableModels(ctx context.Context) ([]chatapi.ModelOption, error) {
	models, err := r.gw.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}
