// Package agentlinktest provides in-process Agent Link transport fakes for
// tests, per the spec's testable-properties section: an httptest-backed
// hub endpoint plus a thin fake agent dialer, so C9/C8 integration tests
// don't need a real network or a real CLI subprocess.
package agentlinktest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/protocol"
)

func fakeAgentModel(agentID, name, secret string) *model.Agent {
	return &model.Agent{ID: agentID, Name: name, Secret: secret, MaxWorkers: 4, Host: model.HostDescriptor{Platform: "test"}}
}

// Server wraps an httptest.Server that upgrades every request to a
// websocket and hands the connection to a Hub for registration.
type Server struct {
	HTTP *httptest.Server
	hub  *agentlink.Hub
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewServer starts an httptest server that registers every inbound
// connection against hub and serves it with onFrame/onOffline.
func NewServer(hub *agentlink.Hub, onFrame agentlink.FrameHandler, onOffline func(agentID string)) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle, err := hub.Register(r.Context(), conn)
		if err != nil {
			return
		}
		hub.Serve(handle, onFrame, onOffline)
	})
	return &Server{HTTP: httptest.NewServer(mux), hub: hub}
}

// WSURL returns the server's address as a ws:// URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/agent"
}

// Close shuts down the underlying httptest.Server.
func (s *Server) Close() { s.HTTP.Close() }

// FakeAgent is a minimal agent-side stub: it registers, then lets the test
// push/assert on frames directly.
type FakeAgent struct {
	Side *agentlink.AgentSide
}

// Connect dials a Server and completes the §4.8 registration handshake.
func Connect(ctx context.Context, wsURL, agentID, name, secret string) (*FakeAgent, error) {
	side, err := agentlink.Dial(ctx, wsURL, fakeAgentModel(agentID, name, secret), logging.Default())
	if err != nil {
		return nil, err
	}
	return &FakeAgent{Side: side}, nil
}

// Run starts the fake agent's pumps in the background and dispatches
// inbound control frames to handle.
func (f *FakeAgent) Run(ctx context.Context, handle agentlink.ControlHandler) {
	go f.Side.Run(ctx, 0, handle)
}

// SendEvent relays a worker:event/worker:status/heartbeat frame as the
// fake agent.
func (f *FakeAgent) SendEvent(action protocol.Action, payload interface{}) error {
	return f.Side.SendEvent(action, payload)
}

// Close tears down the fake agent's connection.
func (f *FakeAgent) Close() { f.Side.Close() }

// WaitConnected polls hub.Get until the agent is registered or the timeout
// elapses, since registration completes asynchronously from the client's
// perspective.
func WaitConnected(hub *agentlink.Hub, agentID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, ok := hub.Get(agentID); ok {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
