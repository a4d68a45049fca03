package chatapi

import (
	"strconv"
	"time"
)

// Agent is an agent assistant as listed by the agent directory.
type Agent struct {
	ID           string   `json:"_id"`
	Name         string   `json:"name"`
	BridgeID     string   `json:"bridgeId,omitempty"`
	Logo         string   `json:"logo,omitempty"`
	OrgID        string   `json:"orgId,omitempty"`
	OwnerName    string   `json:"ownerName,omitempty"`
	CreatedBy    string   `json:"createdBy,omitempty"`
	Editors      []string `json:"editors,omitempty"`
	LLM          LLM      `json:"llm"`
	Instructions string   `json:"instructions,omitempty"`
}

// LLM names the service and model an agent runs on.
type LLM struct {
	Service string `json:"service"`
	Model   string `json:"model"`
}

// ThreadEntry is one row of the thread directory for an agent. The
// directory and the message endpoints use different identifier spaces:
// MiddlewareID is the lightweight handle, ID is the internal key.
type ThreadEntry struct {
	ID           string    `json:"_id"`
	MiddlewareID string    `json:"middleware_id"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// MessageRecord is a message as returned by the message-history endpoint.
type MessageRecord struct {
	ID        string    `json:"_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsUser reports whether the record was authored by the user.
func (m MessageRecord) IsUser() bool {
	return m.Role == "user"
}

// SendRequest is a message to post to an agent. ThreadID is empty to start a
// new thread.
type SendRequest struct {
	Message  string
	AgentID  string
	ThreadID string
}

// SendResponse is the agent reply. ThreadID is the internal key of the
// thread the message landed in; for new threads it is freshly assigned.
type SendResponse struct {
	Message  string
	ThreadID string
}

// UserProfile is the signed-in user including the default agent per
// organization the user belongs to.
type UserProfile struct {
	ID          string            `json:"_id"`
	ProxyID     string            `json:"proxyId,omitempty"`
	Name        string            `json:"name"`
	Email       string            `json:"email,omitempty"`
	OrgAgentMap map[string]string `json:"orgAgentMap,omitempty"`
	Avatar      string            `json:"avatar,omitempty"`
}

// ModelOption is a service/model combination an agent can be switched to.
type ModelOption struct {
	Service string `json:"service"`
	Model   string `json:"model"`
}

// Organization is a company the user is a member of.
type Organization struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	UniqueName string `json:"company_uname,omitempty"`
	Email      string `json:"email,omitempty"`
	RoleName   string `json:"role_name,omitempty"`
}

// DisplayName returns the best available label for the organization.
func (o Organization) DisplayName() string {
	if o.Name != "" {
		return o.Name
	}
	if o.UniqueName != "" {
		return o.UniqueName
	}
	return "Company " + strconv.FormatInt(o.ID, 10)
}
