// Package memstore is an in-memory implementation of the store.Store
// contracts (C11), used by tests. cmd/hub does not select it: its database
// driver is always sqlite or postgres.
//
// Grounded on the general shape of the teacher's in-memory test fakes
// (e.g. internal/events/bus.MemoryBus's mutex-guarded map-of-slices) applied
// to sessions/messages/repositories/agents instead of bus subscriptions.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/store"
)

// Store is an in-memory store.Store.
type Store struct {
	mu sync.RWMutex

	sessions map[string]*model.Session
	messages map[string][]*model.Message // sessionID -> messages, append order

	repositories map[string]*model.Repository

	agents map[string]*model.Agent

	audit []store.AuditEntry
}

// New builds an empty in-memory Store.
func New() *Store {
	return &Store{
		sessions:     make(map[string]*model.Session),
		messages:     make(map[string][]*model.Message),
		repositories: make(map[string]*model.Repository),
		agents:       make(map[string]*model.Agent),
	}
}

func (s *Store) Sessions() store.Sessions         { return sessionStore{s} }
func (s *Store) Repositories() store.Repositories { return repositoryStore{s} }
func (s *Store) Agents() store.Agents             { return agentStore{s} }
func (s *Store) AuditLog() store.AuditLog         { return auditStore{s} }

// --- sessions ---------------------------------------------------------

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(ctx context.Context, sess *model.Session) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (ss sessionStore) Update(ctx context.Context, sess *model.Session) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; !exists {
		return fmt.Errorf("session %s not found", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (ss sessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	s := ss.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	cp := *sess
	return &cp, nil
}

func (ss sessionStore) ListByUser(ctx context.Context, userID string, filter store.SessionFilter, page store.Pagination) (model.Page[*model.Session], error) {
	s := ss.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Session
	for _, sess := range s.sessions {
		if sess.OwnerUserID != userID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		if filter.AITool != "" && sess.AITool != filter.AITool {
			continue
		}
		cp := *sess
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].LastActivity.After(matched[j].LastActivity) })

	return paginateSlice(matched, page), nil
}

func (ss sessionStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	s := ss.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[msg.SessionID]; !exists {
		return fmt.Errorf("session %s not found", msg.SessionID)
	}
	cp := *msg
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &cp)
	return nil
}

func (ss sessionStore) ListMessages(ctx context.Context, sessionID string, page store.Pagination) (model.Page[*model.Message], error) {
	s := ss.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.messages[sessionID]
	return paginateSlice(all, page), nil
}

// --- repositories -------------------------------------------------------

type repositoryStore struct{ s *Store }

func (rs repositoryStore) Create(ctx context.Context, r *model.Repository) error {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.repositories[r.ID] = &cp
	return nil
}

func (rs repositoryStore) Update(ctx context.Context, r *model.Repository) error {
	return rs.Create(ctx, r)
}

func (rs repositoryStore) UpdateMetadata(ctx context.Context, id string, meta model.RepositoryMetadata) error {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repositories[id]
	if !ok {
		return fmt.Errorf("repository %s not found", id)
	}
	r.Metadata = meta
	return nil
}

func (rs repositoryStore) FindByID(ctx context.Context, id string) (*model.Repository, error) {
	s := rs.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.repositories[id]
	if !ok {
		return nil, fmt.Errorf("repository %s not found", id)
	}
	cp := *r
	return &cp, nil
}

func (rs repositoryStore) Delete(ctx context.Context, id string) error {
	s := rs.s
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.repositories, id)
	return nil
}

func (rs repositoryStore) Search(ctx context.Context, filter store.RepositoryFilter, page store.Pagination) (model.Page[*model.Repository], error) {
	s := rs.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Repository
	q := strings.ToLower(filter.Query)
	for _, r := range s.repositories {
		if filter.Type != "" && r.Type != filter.Type {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(r.Name), q) &&
			!strings.Contains(strings.ToLower(r.URL), q) {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	switch filter.SortBy {
	case "name":
		sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	case "type":
		sort.Slice(matched, func(i, j int) bool { return matched[i].Type < matched[j].Type })
	default:
		sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	}

	return paginateSlice(matched, page), nil
}

// --- agents ---------------------------------------------------------

type agentStore struct{ s *Store }

func (as agentStore) Create(ctx context.Context, a *model.Agent) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
	return nil
}

func (as agentStore) Update(ctx context.Context, a *model.Agent) error {
	return as.Create(ctx, a)
}

func (as agentStore) UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error {
	s := as.s
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return fmt.Errorf("agent %s not found", id)
	}
	a.Status = status
	return nil
}

func (as agentStore) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	s := as.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (as agentStore) ListByFilter(ctx context.Context, filter store.AgentFilter, page store.Pagination) (model.Page[*model.Agent], error) {
	s := as.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*model.Agent
	for _, a := range s.agents {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Tag != "" {
			found := false
			for _, t := range a.Tags {
				if t == filter.Tag {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		cp := *a
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginateSlice(matched, page), nil
}

// --- audit ---------------------------------------------------------

type auditStore struct{ s *Store }

func (au auditStore) Append(ctx context.Context, entry store.AuditEntry) error {
	s := au.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func paginateSlice[T any](items []T, page store.Pagination) model.Page[T] {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}
	pageNum := page.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	total := len(items)
	start := (pageNum - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return model.Page[T]{Items: items[start:end], Total: total, Page: pageNum, Limit: limit}
}
