package ownership

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/user/agentchat/internal/chattest"
	"github.com/user/agentchat/pkg/chatapi"
)

var testAgents = []chatapi.Agent{
	{ID: "created", CreatedBy: "u1"},
	{ID: "edited", CreatedBy: "u2", Editors: []string{"u3", "u1"}},
	{ID: "named", CreatedBy: "u2", OwnerName: "Ada Lovelace"},
	{ID: "other", CreatedBy: "u2"},
}

var testUser = &chatapi.UserProfile{
	ID:          "u1",
	Name:        "Ada Lovelace",
	OrgAgentMap: map[string]string{"org-a": "personal", "org-b": "personal-b"},
}

func newTestResolver(orgID string) (*Resolver, *chattest.MockGateway) {
	gw := new(chattest.MockGateway)
	return NewResolver(gw, NewCache(), orgID), gw
}

func TestIsAgentOwnedSignals(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)
	ctx := context.Background()

	assert.True(t, r.IsAgentOwned(ctx, "created"), "creator")
	assert.True(t, r.IsAgentOwned(ctx, "edited"), "editor")
	assert.True(t, r.IsAgentOwned(ctx, "personal"), "org default agent")
	assert.False(t, r.IsAgentOwned(ctx, "named"), "name match must not grant ownership")
	assert.False(t, r.IsAgentOwned(ctx, "other"))
	assert.False(t, r.IsAgentOwned(ctx, "unknown"))

	// Computed once and reused.
	gw.AssertNumberOfCalls(t, "ListAgents", 1)
	gw.AssertNumberOfCalls(t, "CurrentUser", 1)
}

func TestEmptyUserIDNeverMatches(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return([]chatapi.Agent{
		{ID: "blank", CreatedBy: "", Editors: []string{""}},
	}, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(&chatapi.UserProfile{Name: "Nobody"}, nil)

	assert.False(t, r.IsAgentOwned(context.Background(), "blank"))
}

func TestOwnershipFailsClosed(t *testing.T) {
	r, gw := newTestResolver("org-a")
	failing := gw.On("ListAgents", chattest.Ctx, "org-a").Return(nil, errors.New("connection refused"))
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)
	ctx := context.Background()

	for _, id := range []string{"created", "edited", "personal", "other"} {
		assert.False(t, r.IsAgentOwned(ctx, id), id)
	}

	// The failure is not cached; a later check recomputes.
	failing.Unset()
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	assert.True(t, r.IsAgentOwned(ctx, "created"))
}

func TestOwnershipFailsClosedOnUserError(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(nil, &chatapi.StatusError{Op: "current user", StatusCode: 401})

	assert.False(t, r.IsAgentOwned(context.Background(), "created"))
	assert.Empty(t, r.OwnedAgents(context.Background()))
}

func TestAuthFailureDropsEveryCachedSet(t *testing.T) {
	cache := NewCache()
	cache.Put("org-b", AgentSet{"kept": {}})
	gw := new(chattest.MockGateway)
	r := NewResolver(gw, cache, "org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(nil, &chatapi.StatusError{Op: "list agents", StatusCode: 401})
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)

	assert.False(t, r.IsAgentOwned(context.Background(), "created"))
	_, ok := cache.Get("org-b")
	assert.False(t, ok, "sets cached under the old credentials must be dropped")
}

func TestTransientFailureKeepsOtherCachedSets(t *testing.T) {
	cache := NewCache()
	cache.Put("org-b", AgentSet{"kept": {}})
	gw := new(chattest.MockGateway)
	r := NewResolver(gw, cache, "org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(nil, errors.New("connection reset"))
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)

	assert.False(t, r.IsAgentOwned(context.Background(), "created"))
	set, ok := cache.Get("org-b")
	assert.True(t, ok)
	assert.True(t, set.Has("kept"))
}

func TestSwitchOrganizationInvalidatesCache(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return([]chatapi.Agent{{ID: "x", CreatedBy: "u1"}}, nil)
	gw.On("ListAgents", chattest.Ctx, "org-b").Return([]chatapi.Agent{{ID: "x", CreatedBy: "someone"}}, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(&chatapi.UserProfile{ID: "u1"}, nil)
	ctx := context.Background()

	assert.True(t, r.IsAgentOwned(ctx, "x"))

	r.SwitchOrganization("org-b")
	assert.Equal(t, "org-b", r.OrgID())
	assert.False(t, r.IsAgentOwned(ctx, "x"), "result from org-a must not leak into org-b")

	r.SwitchOrganization("org-a")
	assert.True(t, r.IsAgentOwned(ctx, "x"))
	gw.AssertNumberOfCalls(t, "ListAgents", 3)
}

func TestCache(t *testing.T) {
	c := NewCache()
	c.Put("a", AgentSet{"x": {}})
	c.Put("b", AgentSet{"y": {}})

	set, ok := c.Get("a")
	assert.True(t, ok)
	assert.True(t, set.Has("x"))

	c.Invalidate("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.InvalidateAll()
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestExplain(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)
	ctx := context.Background()

	ex := r.Explain(ctx, "named")
	assert.False(t, ex.IsOwned)
	assert.True(t, ex.NameMatch)

	ex = r.Explain(ctx, "edited")
	assert.True(t, ex.IsOwned)
	assert.True(t, ex.Editor)
	assert.False(t, ex.Creator)

	ex = r.Explain(ctx, "personal")
	assert.True(t, ex.IsOwned)
	assert.True(t, ex.OrgDefault)
}

func TestUpdateAgentModelDeniedWithoutMutation(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)

	res := r.UpdateAgentModel(context.Background(), "other", "gpt-4o", "openai")
	assert.False(t, res.Success)
	assert.Equal(t, msgDenied, res.Message)
	gw.AssertNotCalled(t, "UpdateAgentModel", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateAgentModelRevalidates(t *testing.T) {
	r, gw := newTestResolver("org-a")
	// Owned when first checked, revoked by the time the change is made.
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil).Once()
	gw.On("ListAgents", chattest.Ctx, "org-a").Return([]chatapi.Agent{{ID: "created", CreatedBy: "u2"}}, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(&chatapi.UserProfile{ID: "u1"}, nil)
	ctx := context.Background()

	assert.True(t, r.IsAgentOwned(ctx, "created"))
	res := r.UpdateAgentModel(ctx, "created", "gpt-4o", "openai")
	assert.False(t, res.Success)
	gw.AssertNotCalled(t, "UpdateAgentModel", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateAgentModelOutcomes(t *testing.T) {
	opt := chatapi.ModelOption{Service: "openai", Model: "gpt-4o"}
	tests := []struct {
		name    string
		err     error
		success bool
		message string
	}{
		{"success", nil, true, "Model updated to gpt-4o (openai)."},
		{"forbidden", &chatapi.StatusError{StatusCode: 403}, false, msgForbidden},
		{"not found", &chatapi.StatusError{StatusCode: 404}, false, msgNotFound},
		{"rate limited", &chatapi.StatusError{StatusCode: 429}, false, "Too many requests. Please slow down and try again in a moment."},
		{"server error", &chatapi.StatusError{StatusCode: 500}, false, msgUpdateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, gw := newTestResolver("org-a")
			gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
			gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)
			gw.On("ListModels", chattest.Ctx).Return([]chatapi.ModelOption{opt}, nil)
			gw.On("UpdateAgentModel", chattest.Ctx, "created", opt).Return(tt.err)

			res := r.UpdateAgentModel(context.Background(), "created", "gpt-4o", "openai")
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, tt.message, res.Message)
			gw.AssertCalled(t, "UpdateAgentModel", chattest.Ctx, "created", opt)
		})
	}
}

func TestUpdateAgentModelRejectsUnknownModel(t *testing.T) {
	r, gw := newTestResolver("org-a")
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)
	gw.On("ListModels", chattest.Ctx).Return([]chatapi.ModelOption{{Service: "openai", Model: "gpt-4o"}}, nil)

	res := r.UpdateAgentModel(context.Background(), "created", "claude-x", "anthropic")
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "not available")
	gw.AssertNotCalled(t, "UpdateAgentModel", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateAgentModelUnknownModelListProceeds(t *testing.T) {
	r, gw := newTestResolver("org-a")
	opt := chatapi.ModelOption{Service: "anthropic", Model: "claude-x"}
	gw.On("ListAgents", chattest.Ctx, "org-a").Return(testAgents, nil)
	gw.On("CurrentUser", chattest.Ctx).Return(testUser, nil)
	gw.On("ListModels", chattest.Ctx).Return(nil, errors.New("timeout"))
	gw.On("UpdateAgentModel", chattest.Ctx, "personal", opt).Return(nil)

	res := r.UpdateAgentModel(context.Background(), "personal", "claude-x", "anthropic")
	assert.True(t, res.Success)
}
