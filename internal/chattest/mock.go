// Package chattest provides a testify mock of chatapi.Gateway shared by the
// package tests.
package chattest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/user/agentchat/pkg/chatapi"
)

// MockGateway is a mock chatapi.Gateway. Expectations are set with On; a
// nil first return value is returned as a typed nil.
type MockGateway struct {
	mock.Mock
}

var _ chatapi.Gateway = (*MockGateway)(nil)

func (m *MockGateway) GetAgent(ctx context.Context, agentID string) (*chatapi.Agent, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chatapi.Agent), args.Error(1)
}

func (m *MockGateway) ListThreads(ctx context.Context, agentID string) ([]chatapi.ThreadEntry, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chatapi.ThreadEntry), args.Error(1)
}

func (m *MockGateway) ListMessages(ctx context.Context, remoteID string) ([]chatapi.MessageRecord, error) {
	args := m.Called(ctx, remoteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chatapi.MessageRecord), args.Error(1)
}

func (m *MockGateway) SendMessage(ctx context.Context, req chatapi.SendRequest) (*chatapi.SendResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chatapi.SendResponse), args.Error(1)
}

func (m *MockGateway) DeleteThread(ctx context.Context, localID string) error {
	return m.Called(ctx, localID).Error(0)
}

func (m *MockGateway) ListAgents(ctx context.Context, orgID string) ([]chatapi.Agent, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chatapi.Agent), args.Error(1)
}

func (m *MockGateway) CurrentUser(ctx context.Context) (*chatapi.UserProfile, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chatapi.UserProfile), args.Error(1)
}

func (m *MockGateway) ListModels(ctx context.Context) ([]chatapi.ModelOption, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chatapi.ModelOption), args.Error(1)
}

func (m *MockGateway) UpdateAgentModel(ctx context.Context, agentID string, opt chatapi.ModelOption) error {
	return m.Called(ctx, agentID, opt).Error(0)
}

func (m *MockGateway) SwitchOrganization(ctx context.Context, orgID string) (*chatapi.UserProfile, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*chatapi.UserProfile), args.Error(1)
}

func (m *MockGateway) ListOrganizations(ctx context.Context) ([]chatapi.Organization, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]chatapi.Organization), args.Error(1)
}

// Ctx matches any context argument.
var Ctx = mock.Anything
