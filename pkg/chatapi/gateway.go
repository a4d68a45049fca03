package chatapi

import "context"

// Gateway is the remote call surface of the agents platform. Implementations
// handle transport details such as authentication, URL layout and response
// decoding. Errors that carry an HTTP status are returned as *StatusError.
type Gateway interface {
	// GetAgent fetches a single agent profile.
	GetAgent(ctx context.Context, agentID string) (*Agent, error)

	// ListThreads fetches the thread directory for an agent.
	ListThreads(ctx context.Context, agentID string) ([]ThreadEntry, error)

	// ListMessages fetches the message history of a thread by its internal key.
	ListMessages(ctx context.Context, remoteID string) ([]MessageRecord, error)

	// SendMessage posts a message, optionally scoped to an existing thread.
	SendMessage(ctx context.Context, req SendRequest) (*SendResponse, error)

	// DeleteThread deletes a thread by its lightweight handle.
	DeleteThread(ctx context.Context, localID string) error

	// ListAgents fetches the agents visible to the given organization.
	ListAgents(ctx context.Context, orgID string) ([]Agent, error)

	// CurrentUser fetches the signed-in user's profile.
	CurrentUser(ctx context.Context) (*UserProfile, error)

	// ListModels fetches the available service/model combinations.
	ListModels(ctx context.Context) ([]ModelOption, error)

	// UpdateAgentModel switches the model an agent runs on.
	UpdateAgentModel(ctx context.Context, agentID string, opt ModelOption) error

	// SwitchOrganization makes orgID the server-side current organization.
	SwitchOrganization(ctx context.Context, orgID string) (*UserProfile, error)

	// ListOrganizations fetches the organizations the user belongs to.
	ListOrganizations(ctx context.Context) ([]Organization, error)
}

// TokenSource supplies the proxy auth token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}
