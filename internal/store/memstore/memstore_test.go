package memstore

import (
	"context"
	"testing"

	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/store"
)

func TestSessionsCreateFindUpdate(t *testing.T) {
	ctx := context.Background()
	s := New()

	sess := &model.Session{ID: "s1", OwnerUserID: "u1", AITool: "claude", Status: model.SessionStatusActive}
	if err := s.Sessions().Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Sessions().FindByID(ctx, "s1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if got.OwnerUserID != "u1" {
		t.Errorf("OwnerUserID = %q, want u1", got.OwnerUserID)
	}

	got.Status = model.SessionStatusPaused
	if err := s.Sessions().Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	reread, _ := s.Sessions().FindByID(ctx, "s1")
	if reread.Status != model.SessionStatusPaused {
		t.Errorf("Status after update = %q, want paused", reread.Status)
	}
}

func TestSessionsListByUserFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		s.Sessions().Create(ctx, &model.Session{ID: id, OwnerUserID: "u1", AITool: "claude", Status: model.SessionStatusActive})
	}
	s.Sessions().Create(ctx, &model.Session{ID: "other-user", OwnerUserID: "u2", AITool: "claude", Status: model.SessionStatusActive})

	page, err := s.Sessions().ListByUser(ctx, "u1", store.SessionFilter{}, store.Pagination{Page: 1, Limit: 2})
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("Total = %d, want 5", page.Total)
	}
	if len(page.Items) != 2 {
		t.Errorf("len(Items) = %d, want 2", len(page.Items))
	}
}

func TestAppendAndListMessages(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Sessions().Create(ctx, &model.Session{ID: "s1", OwnerUserID: "u1"})

	for i := 0; i < 3; i++ {
		if err := s.Sessions().AppendMessage(ctx, &model.Message{ID: string(rune('a' + i)), SessionID: "s1", Content: "hi"}); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	page, err := s.Sessions().ListMessages(ctx, "s1", store.Pagination{Page: 1, Limit: 50})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(page.Items))
	}
	if page.Items[0].ID != "a" || page.Items[2].ID != "c" {
		t.Errorf("messages out of append order: %v", page.Items)
	}
}

func TestAgentsUpdateStatus(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Agents().Create(ctx, &model.Agent{ID: "a1", Status: model.AgentStatusPending})

	if err := s.Agents().UpdateStatus(ctx, "a1", model.AgentStatusConnected); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	got, _ := s.Agents().FindByID(ctx, "a1")
	if got.Status != model.AgentStatusConnected {
		t.Errorf("Status = %q, want connected", got.Status)
	}
}

func TestRepositoriesSearchByQuery(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Repositories().Create(ctx, &model.Repository{ID: "r1", Name: "frontend-app", Type: model.RepositoryTypeGit})
	s.Repositories().Create(ctx, &model.Repository{ID: "r2", Name: "backend-svc", Type: model.RepositoryTypeGit})

	page, err := s.Repositories().Search(ctx, store.RepositoryFilter{Query: "front"}, store.Pagination{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if page.Total != 1 || page.Items[0].ID != "r1" {
		t.Errorf("Search(front) = %+v, want just r1", page)
	}
}
