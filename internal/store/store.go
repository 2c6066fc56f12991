// Package store defines the Persistence Contracts (C11): the interfaces
// through which the Session Orchestrator (C9) and Repository Engine (C4)
// see storage. Exact method names are this package's choice; the spec
// only fixes the semantics, per §4.11.
//
// Grounded on the shape of the teacher's internal/task/repository and
// internal/github.Store (writer/reader split, List returning a page
// envelope) generalized away from tasks/boards to sessions/agents/
// repositories.
package store

import (
	"context"
	"time"

	"github.com/kandev/orchestratorhub/internal/model"
)

// Pagination is an alias of model.Pagination, so callers can name the
// page/limit pair as store.Pagination.
type Pagination = model.Pagination

// SessionFilter narrows a Sessions.ListByUser call.
type SessionFilter struct {
	Status model.SessionStatus
	AITool string
}

// Sessions is the persistence contract for session state and its message
// log (§4.11).
type Sessions interface {
	Create(ctx context.Context, s *model.Session) error
	Update(ctx context.Context, s *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	ListByUser(ctx context.Context, userID string, filter SessionFilter, page Pagination) (model.Page[*model.Session], error)
	AppendMessage(ctx context.Context, msg *model.Message) error
	ListMessages(ctx context.Context, sessionID string, page Pagination) (model.Page[*model.Message], error)
}

// RepositoryFilter narrows a Repositories.Search call (§4.11).
type RepositoryFilter struct {
	Query   string // matched against name/url substrings
	Type    model.RepositoryType
	Enabled *bool
	SortBy  string // "updatedAt" | "name" | "type"
}

// Repositories is the persistence contract for repository records.
type Repositories interface {
	Create(ctx context.Context, r *model.Repository) error
	Update(ctx context.Context, r *model.Repository) error
	UpdateMetadata(ctx context.Context, id string, meta model.RepositoryMetadata) error
	FindByID(ctx context.Context, id string) (*model.Repository, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, filter RepositoryFilter, page Pagination) (model.Page[*model.Repository], error)
}

// AgentFilter narrows an Agents.ListByFilter call.
type AgentFilter struct {
	Status model.AgentStatus
	Tag    string
}

// Agents is the persistence contract for registered agent records.
type Agents interface {
	Create(ctx context.Context, a *model.Agent) error
	Update(ctx context.Context, a *model.Agent) error
	UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error
	FindByID(ctx context.Context, id string) (*model.Agent, error)
	ListByFilter(ctx context.Context, filter AgentFilter, page Pagination) (model.Page[*model.Agent], error)
}

// AuditEntry is one append-only audit record (§4.11, optional).
type AuditEntry struct {
	Actor      string                 `json:"actor"`
	Action     string                 `json:"action"`
	ResourceID string                 `json:"resourceId"`
	Timestamp  time.Time              `json:"timestamp"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// AuditLog is the optional append-only audit contract (§4.11).
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// Store bundles the three load-bearing contracts plus the optional audit
// log, the shape C9/C4 are constructed against.
type Store interface {
	Sessions() Sessions
	Repositories() Repositories
	Agents() Agents
	AuditLog() AuditLog
}
