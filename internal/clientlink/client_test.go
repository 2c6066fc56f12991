package clientlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/eventbus"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/orchestrator"
	"github.com/kandev/orchestratorhub/internal/protocol"
	"github.com/kandev/orchestratorhub/internal/store/memstore"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, userID string) (*httptest.Server, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	bus := eventbus.NewMemoryBus(nil)
	hubAgents := agentlink.NewHub(orchestrator.NewSecretVerifier(st), bus, time.Second, nil)
	orch := orchestrator.New(st, hubAgents, bus, nil)
	hub := NewHub(bus, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(uuid.New().String(), userID, conn, orch, st, bus, nil)
		client.Run(r.Context(), hub)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	return &msg
}

func TestSessionOpenRejectsForeignOwner(t *testing.T) {
	srv, st := newTestServer(t, "user-1")
	ctx := context.Background()
	st.Sessions().Create(ctx, &model.Session{ID: "s1", OwnerUserID: "someone-else", Status: model.SessionStatusActive})

	conn := dial(t, srv)
	defer conn.Close()

	open, _ := protocol.NewRequest("req-1", protocol.ActionSessionOpen, protocol.SessionOpenPayload{SessionID: "s1"})
	data, _ := json.Marshal(open)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	reply := readFrame(t, conn, time.Second)
	if reply.Type != protocol.FrameError {
		t.Fatalf("type = %q, want error", reply.Type)
	}
}

func TestSessionOpenReturnsSnapshotForOwner(t *testing.T) {
	srv, st := newTestServer(t, "user-1")
	ctx := context.Background()
	st.Sessions().Create(ctx, &model.Session{ID: "s1", OwnerUserID: "user-1", Status: model.SessionStatusActive})
	st.Sessions().AppendMessage(ctx, &model.Message{ID: "m1", SessionID: "s1", Content: "hi", Direction: model.MessageDirectionUser})

	conn := dial(t, srv)
	defer conn.Close()

	open, _ := protocol.NewRequest("req-1", protocol.ActionSessionOpen, protocol.SessionOpenPayload{SessionID: "s1"})
	data, _ := json.Marshal(open)
	conn.WriteMessage(websocket.TextMessage, data)

	reply := readFrame(t, conn, time.Second)
	if reply.Action != protocol.ActionSessionSnapshot {
		t.Fatalf("action = %q, want session:snapshot", reply.Action)
	}
	var payload protocol.SessionSnapshotPayload
	if err := reply.ParsePayload(&payload); err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if len(payload.Messages) != 1 {
		t.Errorf("len(Messages) = %d, want 1", len(payload.Messages))
	}
	if payload.Status != string(model.SessionStatusActive) {
		t.Errorf("status = %q, want active", payload.Status)
	}
}
