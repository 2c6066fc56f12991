package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/agentlink/agentlinktest"
	"github.com/kandev/orchestratorhub/internal/eventbus"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/protocol"
	"github.com/kandev/orchestratorhub/internal/store"
	"github.com/kandev/orchestratorhub/internal/store/memstore"
)

func setupOrchestrator(t *testing.T) (*Orchestrator, *agentlink.Hub, *agentlinktest.Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	bus := eventbus.NewMemoryBus(nil)

	var orch *Orchestrator
	hub := agentlink.NewHub(NewSecretVerifier(st), bus, 200*time.Millisecond, nil)
	orch = New(st, hub, bus, nil)

	srv := agentlinktest.NewServer(hub, orch.HandleAgentFrame, orch.HandleAgentOffline)
	t.Cleanup(srv.Close)
	return orch, hub, srv, st
}

func mustCreateAgent(t *testing.T, st *memstore.Store, id string, tools ...string) {
	t.Helper()
	ctx := context.Background()
	if err := st.Agents().Create(ctx, &model.Agent{
		ID: id, Name: id, Secret: "s3cret", MaxWorkers: 2,
		Status: model.AgentStatusPending, AllowedTools: tools,
	}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
}

func TestStartAssignsConnectedAgentAndSendsWorkerStart(t *testing.T) {
	ctx := context.Background()
	orch, hub, srv, st := setupOrchestrator(t)
	mustCreateAgent(t, st, "agent-1", "claude")

	fake, err := agentlinktest.Connect(ctx, srv.WSURL(), "agent-1", "agent-1", "s3cret")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer fake.Close()

	received := make(chan *protocol.Message, 1)
	fake.Run(ctx, func(msg *protocol.Message) { received <- msg })

	if !agentlinktest.WaitConnected(hub, "agent-1", time.Second) {
		t.Fatal("agent never registered")
	}

	sess := &model.Session{ID: "s1", OwnerUserID: "u1", AITool: "claude", Status: model.SessionStatusArchived}
	if err := st.Sessions().Create(ctx, sess); err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := orch.Start(ctx, sess, StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != model.SessionStatusActive {
		t.Errorf("session status = %q, want active", sess.Status)
	}
	if sess.AgentID != "agent-1" {
		t.Errorf("session.AgentID = %q, want agent-1", sess.AgentID)
	}

	select {
	case msg := <-received:
		if msg.Action != protocol.ActionWorkerStart {
			t.Errorf("action = %q, want worker:start", msg.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker:start frame")
	}
}

func TestStartFailsWithNoAgentWhenNoneEligible(t *testing.T) {
	ctx := context.Background()
	orch, _, _, st := setupOrchestrator(t)
	mustCreateAgent(t, st, "agent-1", "cursor") // wrong tool

	sess := &model.Session{ID: "s1", OwnerUserID: "u1", AITool: "claude"}
	st.Sessions().Create(ctx, sess)

	err := orch.Start(ctx, sess, StartOptions{})
	if err != ErrNoAgent {
		t.Fatalf("err = %v, want ErrNoAgent", err)
	}
}

func TestWorkerEventAppendsMessageAndAccumulatesUsage(t *testing.T) {
	ctx := context.Background()
	orch, hub, srv, st := setupOrchestrator(t)
	mustCreateAgent(t, st, "agent-1", "claude")

	fake, _ := agentlinktest.Connect(ctx, srv.WSURL(), "agent-1", "agent-1", "s3cret")
	defer fake.Close()
	fake.Run(ctx, func(msg *protocol.Message) {})
	agentlinktest.WaitConnected(hub, "agent-1", time.Second)

	sess := &model.Session{ID: "s1", OwnerUserID: "u1", AITool: "claude"}
	st.Sessions().Create(ctx, sess)
	if err := orch.Start(ctx, sess, StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var taskID string
	orch.mu.Lock()
	taskID = orch.sessionTask["s1"]
	orch.mu.Unlock()

	orch.HandleAgentFrame("agent-1", mustFrame(t, protocol.ActionWorkerEvent, protocol.WorkerEventPayload{
		TaskID: taskID,
		Event:  map[string]interface{}{"type": "text", "delta": "hello"},
	}))

	time.Sleep(20 * time.Millisecond)
	page, err := st.Sessions().ListMessages(ctx, "s1", store.Pagination{Page: 1, Limit: 50})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Content != "hello" {
		t.Fatalf("messages = %+v, want one message with content=hello", page.Items)
	}
}

func TestCancelTransitionsToPausedAndWaitsForStop(t *testing.T) {
	ctx := context.Background()
	orch, hub, srv, st := setupOrchestrator(t)
	mustCreateAgent(t, st, "agent-1", "claude")

	fake, _ := agentlinktest.Connect(ctx, srv.WSURL(), "agent-1", "agent-1", "s3cret")
	defer fake.Close()

	var taskID string
	fake.Run(ctx, func(msg *protocol.Message) {
		if msg.Action == protocol.ActionWorkerStop {
			var p protocol.WorkerStopPayload
			msg.ParsePayload(&p)
			taskID = p.TaskID
			fake.SendEvent(protocol.ActionWorkerState, protocol.WorkerStatusPayload{TaskID: taskID, State: "stopped"})
		}
	})
	agentlinktest.WaitConnected(hub, "agent-1", time.Second)

	sess := &model.Session{ID: "s1", OwnerUserID: "u1", AITool: "claude"}
	st.Sessions().Create(ctx, sess)
	orch.Start(ctx, sess, StartOptions{})

	if err := orch.Cancel(ctx, "s1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, _ := st.Sessions().FindByID(ctx, "s1")
	if got.Status != model.SessionStatusPaused {
		t.Errorf("status = %q, want paused", got.Status)
	}
}

func mustFrame(t *testing.T, action protocol.Action, payload interface{}) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewNotification(action, payload)
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	return msg
}
