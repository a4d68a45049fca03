// internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/agentchat/internal/gateway"
	"github.com/user/agentchat/internal/threads"
	"github.com/user/agentchat/internal/types"
)

// Server is the local JSON API over the conversation gateway.
type Server struct {
	gw  *gateway.Gateway
	mux *http.ServeMux
}

// NewServer creates a Server serving gw.
func NewServer(gw *gateway.Gateway) *Server {
	s := &Server{
		gw:  gw,
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /api/agents/{agentID}/threads", s.handleListThreads)
	s.mux.HandleFunc("GET /api/agents/{agentID}/threads/{localID}/messages", s.handleMessages)
	s.mux.HandleFunc("POST /api/agents/{agentID}/messages", s.handleSend)
	s.mux.HandleFunc("DELETE /api/threads/{localID}", s.handleDeleteThread)
	s.mux.HandleFunc("GET /api/agents/{agentID}/ownership", s.handleOwnership)
	s.mux.HandleFunc("PUT /api/agents/{agentID}/model", s.handleUpdateModel)
	s.mux.HandleFunc("POST /api/org", s.handleSwitchOrg)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "org_id": s.gw.OrgID()})
}

type threadResponse struct {
	LocalID   string `json:"local_id"`
	RemoteID  string `json:"remote_id,omitempty"`
	Name      string `json:"name"`
	AgentID   string `json:"agent_id"`
	Draft     bool   `json:"draft,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toThreadResponse(th *types.Thread) threadResponse {
	return threadResponse{
		LocalID:   th.LocalID,
		RemoteID:  th.RemoteID,
		Name:      th.Title(),
		AgentID:   th.AgentID,
		Draft:     th.IsDraft(),
		CreatedAt: th.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	list, err := s.gw.ListThreads(r.Context(), agentID)
	if err != nil {
		slog.Error("list threads failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result := make([]threadResponse, 0, len(list))
	for i := range list {
		result = append(result, toThreadResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")
	localID := r.PathValue("localID")
	remoteID := r.URL.Query().Get("remote_id")

	msgs, err := s.gw.Messages(r.Context(), agentID, localID, remoteID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"messages": msgs, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// sendRequest is the JSON body for POST /api/agents/{agentID}/messages.
type sendRequest struct {
	Text         string `json:"text"`
	Conversation string `json:"conversation"`
	ThreadID     string `json:"thread_id"`
	RemoteID     string `json:"remote_id"`
}

type sendResponse struct {
	Messages  []types.Message `json:"messages"`
	Thread    *threadResponse `json:"thread,omitempty"`
	NewThread bool            `json:"new_thread"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentID")

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	key := types.NewConversationKey("api", agentID)
	if req.Conversation != "" {
		key = types.NewConversationKey("api", req.Conversation)
	}

	ctx := r.Context()
	var (
		res *threads.SendResult
		err error
	)
	if req.ThreadID == "" {
		res, err = s.gw.Send(ctx, key, agentID, req.Text)
	} else {
		th, ok := s.lookupThread(w, r, agentID, req.ThreadID, req.RemoteID)
		if !ok {
			return
		}
		res, err = s.gw.SendOnThread(ctx, key, th, req.Text)
	}
	if errors.Is(err, gateway.ErrBusy) {
		writeError(w, http.StatusConflict, "conversation busy")
		return
	}
	if err != nil {
		slog.Error("send failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := sendResponse{
		Messages:  res.Messages,
		NewThread: res.NewThread != nil,
		Error:     res.Notice,
	}
	if res.Thread != nil {
		tr := toThreadResponse(res.Thread)
		out.Thread = &tr
	}
	writeJSON(w, http.StatusOK, out)
}

// lookupThread resolves the thread a send names. A caller that supplies the
// remote id needs no lookup. Writes the error response and returns false
// when the thread cannot be resolved.
func (s *Server) lookupThread(w http.ResponseWriter, r *http.Request, agentID, localID, remoteID string) (types.Thread, bool) {
	if remoteID != "" {
		return types.Thread{LocalID: localID, RemoteID: remoteID, AgentID: agentID}, true
	}
	th, ok, err := s.gw.ResolveThread(r.Context(), agentID, localID)
	if err != nil {
		slog.Error("resolve thread failed", "agent_id", agentID, "local_id", localID, "error", err)
		writeError(w, http.StatusBadGateway, "thread directory unavailable")
		return types.Thread{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return types.Thread{}, false
	}
	return th, true
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	localID := r.PathValue("localID")
	agentID := r.URL.Query().Get("agent_id")
	if !s.gw.DeleteThread(r.Context(), agentID, localID) {
		writeError(w, http.StatusBadGateway, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleOwnership(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gw.Explain(r.Context(), r.PathValue("agentID")))
}

// modelRequest is the JSON body for PUT /api/agents/{agentID}/model.
type modelRequest struct {
	Service string `json:"service"`
	Model   string `json:"model"`
}

func (s *Server) handleUpdateModel(w http.ResponseWriter, r *http.Request) {
	var req modelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Service == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "service and model are required")
		return
	}

	res := s.gw.UpdateAgentModel(r.Context(), r.PathValue("agentID"), req.Model, req.Service)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusForbidden
	}
	writeJSON(w, status, res)
}

// orgRequest is the JSON body for POST /api/org.
type orgRequest struct {
	OrgID string `json:"org_id"`
}

func (s *Server) handleSwitchOrg(w http.ResponseWriter, r *http.Request) {
	var req orgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		writeError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	if _, err := s.gw.SwitchOrganization(r.Context(), req.OrgID); err != nil {
		slog.Error("switch organization failed", "org_id", req.OrgID, "error", err)
		writeError(w, http.StatusBadGateway, "switch organization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"org_id": req.OrgID})
}
