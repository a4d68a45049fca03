package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/user/agentchat/internal/chattest"
	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/ownership"
	"github.com/user/agentchat/internal/state"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/internal/types"
	"github.com/user/agentchat/pkg/chatapi"
)

func setupServer(t *testing.T) (*Server, *chattest.MockGateway) {
	t.Helper()
	remote := new(chattest.MockGateway)
	kv := state.NewMemoryKV()
	store := threads.NewStore(remote, kv)
	owners := ownership.NewResolver(remote, nil, "org-a")
	gw := gateway.New(remote, store, owners, state.NewConversationStore(kv))
	return NewServer(gw), remote
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	w := do(t, srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
	if resp["org_id"] != "org-a" {
		t.Errorf("expected org_id org-a, got %s", resp["org_id"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupServer(t)

	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default Go collectors in metrics output")
	}
}

func TestListThreads(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{
		{ID: "r1", MiddlewareID: "m1", Name: "Hello", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}, nil)

	w := do(t, srv, http.MethodGet, "/api/agents/a1/threads", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp []threadResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(resp))
	}
	if resp[0].LocalID != "m1" || resp[0].RemoteID != "r1" {
		t.Errorf("expected m1/r1, got %s/%s", resp[0].LocalID, resp[0].RemoteID)
	}
	if resp[0].Name != "Hello" {
		t.Errorf("expected name Hello, got %q", resp[0].Name)
	}
}

func TestThreadMessagesUsesRemoteID(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("ListMessages", chattest.Ctx, "r1").Return([]chatapi.MessageRecord{
		{ID: "x", Role: "user", Content: "hi"},
		{ID: "y", Role: "assistant", Content: "hello"},
	}, nil)

	w := do(t, srv, http.MethodGet, "/api/agents/a1/threads/m1/messages?remote_id=r1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Messages []struct {
			Text   string `json:"text"`
			IsUser bool   `json:"isUser"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 2 || !resp.Messages[0].IsUser || resp.Messages[1].Text != "hello" {
		t.Errorf("unexpected messages %+v", resp.Messages)
	}
}

func TestSendStartsThread(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "hi", AgentID: "a1"}).
		Return(&chatapi.SendResponse{Message: "hello", ThreadID: "r1"}, nil).Once()

	w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"hi","conversation":"c1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp sendResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.NewThread {
		t.Error("expected new_thread")
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if resp.Thread == nil || resp.Thread.RemoteID != "r1" {
		t.Errorf("expected thread r1, got %+v", resp.Thread)
	}
	remote.AssertExpectations(t)
}

func TestSendFailureReportsNotice(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("SendMessage", chattest.Ctx, mock.Anything).
		Return(nil, &chatapi.StatusError{Op: "send message", StatusCode: http.StatusServiceUnavailable})

	w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp sendResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == "" {
		t.Error("expected error notice")
	}
	if len(resp.Messages) != 2 || resp.Messages[1].Text != threads.ErrorReply {
		t.Errorf("expected apology as last message, got %+v", resp.Messages)
	}
	if resp.Thread == nil || !resp.Thread.Draft {
		t.Errorf("expected draft thread, got %+v", resp.Thread)
	}
}

func TestSendBadRequests(t *testing.T) {
	srv, remote := setupServer(t)

	w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for invalid JSON, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for empty text, got %d", w.Code)
	}

	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{}, nil)
	w = do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"hi","thread_id":"missing"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown thread, got %d", w.Code)
	}
	remote.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything)
}

func TestSendWhileBusyConflicts(t *testing.T) {
	srv, remote := setupServer(t)

	started := make(chan struct{})
	unblock := make(chan struct{})
	remote.On("SendMessage", chattest.Ctx, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-unblock
		}).
		Return(&chatapi.SendResponse{Message: "done", ThreadID: "r1"}, nil).Once()

	done := make(chan int, 1)
	go func() {
		w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"first"}`)
		done <- w.Code
	}()

	<-started
	w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"second"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}

	close(unblock)
	if code := <-done; code != http.StatusOK {
		t.Errorf("expected first send to succeed, got %d", code)
	}
	remote.AssertNumberOfCalls(t, "SendMessage", 1)
}

func TestSendOnListedThread(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("ListThreads", chattest.Ctx, "a1").Return([]chatapi.ThreadEntry{
		{ID: "r1", MiddlewareID: "m1", Name: "Hello", CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}, nil)
	remote.On("ListMessages", chattest.Ctx, "r1").Return([]chatapi.MessageRecord{
		{ID: "x1", Role: "user", Content: "q1"},
		{ID: "x2", Role: "assistant", Content: "a1"},
	}, nil)
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "hello", AgentID: "a1", ThreadID: "r1"}).
		Return(&chatapi.SendResponse{Message: "a2"}, nil)

	w := do(t, srv, http.MethodGet, "/api/agents/a1/threads", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 listing threads, got %d", w.Code)
	}

	w = do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"hello","thread_id":"m1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp sendResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Messages) != 4 {
		t.Errorf("expected server history plus the new exchange, got %d messages", len(resp.Messages))
	}
	if resp.NewThread {
		t.Error("expected the listed thread to be continued")
	}
	if resp.Thread == nil || resp.Thread.LocalID != "m1" || resp.Thread.RemoteID != "r1" {
		t.Errorf("expected thread m1/r1, got %+v", resp.Thread)
	}
}

func TestSendWithRemoteIDSkipsLookup(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("ListMessages", chattest.Ctx, "r1").Return([]chatapi.MessageRecord{}, nil)
	remote.On("SendMessage", chattest.Ctx, chatapi.SendRequest{Message: "hello", AgentID: "a1", ThreadID: "r1"}).
		Return(&chatapi.SendResponse{Message: "hi"}, nil)

	w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"hello","thread_id":"m1","remote_id":"r1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	remote.AssertNotCalled(t, "ListThreads", mock.Anything, mock.Anything)
}

func TestBusyConflictKeepsConversationThread(t *testing.T) {
	srv, remote := setupServer(t)

	started := make(chan struct{})
	unblock := make(chan struct{})
	remote.On("SendMessage", chattest.Ctx, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-unblock
		}).
		Return(&chatapi.SendResponse{Message: "done", ThreadID: "r1"}, nil).Once()

	done := make(chan int, 1)
	go func() {
		w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"first","conversation":"c1"}`)
		done <- w.Code
	}()

	<-started
	w := do(t, srv, http.MethodPost, "/api/agents/a1/messages", `{"text":"second","conversation":"c1","thread_id":"m9","remote_id":"r9"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("expected status 409, got %d", w.Code)
	}

	close(unblock)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first send to succeed, got %d", code)
	}

	conv, err := srv.gw.Conversation(context.Background(), types.NewConversationKey("api", "c1"))
	if err != nil {
		t.Fatal(err)
	}
	if conv.LocalID != "r1" {
		t.Errorf("expected conversation to stay on the first send's thread, got %q", conv.LocalID)
	}
}

func TestDeleteThread(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("DeleteThread", chattest.Ctx, "m1").Return(nil).Once()

	w := do(t, srv, http.MethodDelete, "/api/threads/m1?agent_id=a1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	remote.On("DeleteThread", chattest.Ctx, "m2").Return(&chatapi.StatusError{Op: "delete thread", StatusCode: http.StatusInternalServerError}).Once()
	w = do(t, srv, http.MethodDelete, "/api/threads/m2", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", w.Code)
	}
}

func TestOwnershipAndModelUpdate(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("ListAgents", chattest.Ctx, "org-a").Return([]chatapi.Agent{
		{ID: "mine", CreatedBy: "u1"},
		{ID: "theirs", CreatedBy: "u2"},
	}, nil)
	remote.On("CurrentUser", chattest.Ctx).Return(&chatapi.UserProfile{ID: "u1"}, nil)
	remote.On("ListModels", chattest.Ctx).Return([]chatapi.ModelOption{{Service: "openai", Model: "gpt-4o"}}, nil)
	remote.On("UpdateAgentModel", chattest.Ctx, "mine", chatapi.ModelOption{Service: "openai", Model: "gpt-4o"}).Return(nil).Once()

	w := do(t, srv, http.MethodGet, "/api/agents/mine/ownership", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var ex ownership.Explanation
	if err := json.NewDecoder(w.Body).Decode(&ex); err != nil {
		t.Fatal(err)
	}
	if !ex.IsOwned || !ex.Creator {
		t.Errorf("expected owned by creator, got %+v", ex)
	}

	w = do(t, srv, http.MethodPut, "/api/agents/theirs/model", `{"service":"openai","model":"gpt-4o"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected status 403 for unowned agent, got %d", w.Code)
	}
	remote.AssertNotCalled(t, "UpdateAgentModel", mock.Anything, "theirs", mock.Anything)

	w = do(t, srv, http.MethodPut, "/api/agents/mine/model", `{"service":"openai","model":"gpt-4o"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var res ownership.UpdateResult
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("expected success, got %+v", res)
	}

	w = do(t, srv, http.MethodPut, "/api/agents/mine/model", `{"service":"openai"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for missing model, got %d", w.Code)
	}
	remote.AssertExpectations(t)
}

func TestSwitchOrganization(t *testing.T) {
	srv, remote := setupServer(t)
	remote.On("SwitchOrganization", chattest.Ctx, "org-b").Return(&chatapi.UserProfile{ID: "u1"}, nil).Once()

	w := do(t, srv, http.MethodPost, "/api/org", `{"org_id":"org-b"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	w = do(t, srv, http.MethodGet, "/health", "")
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["org_id"] != "org-b" {
		t.Errorf("expected org_id org-b, got %s", resp["org_id"])
	}

	w = do(t, srv, http.MethodPost, "/api/org", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}
