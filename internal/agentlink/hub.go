package agentlink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kandev/orchestratorhub/internal/eventbus"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/protocol"
)

// SubjectAgentConnected / SubjectAgentOffline are the eventbus subjects the
// hub-side Registry publishes on (§4.8 "broadcasts agent:connected").
const (
	SubjectAgentConnected = "agent.connected"
	SubjectAgentOffline   = "agent.offline"
)

// SecretVerifier authenticates an agent's registration handshake against
// the stored agent record (§4.8).
type SecretVerifier func(ctx context.Context, agentID, secret string) (*model.Agent, error)

// FrameHandler receives every inbound frame from a connected agent, tagged
// by the agent it came from. The Session Orchestrator (C9) is the handler.
type FrameHandler func(agentID string, msg *protocol.Message)

// Handle is the hub's live view of one connected agent.
type Handle struct {
	Agent *model.Agent
	link  *Link
}

// SendControl sends a hub->agent control frame (worker:start/input/stop).
func (h *Handle) SendControl(action protocol.Action, payload interface{}) error {
	msg, err := protocol.NewRequest("", action, payload)
	if err != nil {
		return err
	}
	return h.link.Send(msg)
}

// Hub is the hub-side registry of Agent Links (C8).
type Hub struct {
	verifier     SecretVerifier
	bus          eventbus.Bus
	offlineGrace time.Duration
	logger       *logging.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	timers  map[string]*time.Timer
}

// NewHub builds a Hub. offlineGrace defaults to 30s per §4.8/§5.
func NewHub(verifier SecretVerifier, bus eventbus.Bus, offlineGrace time.Duration, logger *logging.Logger) *Hub {
	if offlineGrace <= 0 {
		offlineGrace = 30 * time.Second
	}
	return &Hub{
		verifier:     verifier,
		bus:          bus,
		offlineGrace: offlineGrace,
		logger:       logger,
		handles:      make(map[string]*Handle),
		timers:       make(map[string]*time.Timer),
	}
}

// Get returns the live Handle for an agent, if connected.
func (h *Hub) Get(agentID string) (*Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handle, ok := h.handles[agentID]
	return handle, ok
}

// Connected returns every currently connected agent, for agent:list.
func (h *Hub) Connected() []*model.Agent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	agents := make([]*model.Agent, 0, len(h.handles))
	for _, handle := range h.handles {
		agents = append(agents, handle.Agent)
	}
	return agents
}

// Register performs the §4.8 handshake synchronously: it reads exactly one
// frame from conn, verifies it is a valid register request, and either
// returns a live Handle (caller should then call Serve) or closes conn and
// returns an error.
func (h *Hub) Register(ctx context.Context, conn *websocket.Conn) (*Handle, error) {
	link := NewLink(conn, h.logger)

	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read register frame: %w", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil || msg.Action != protocol.ActionRegister {
		_ = conn.Close()
		return nil, fmt.Errorf("expected register frame")
	}
	var payload protocol.RegisterPayload
	if err := msg.ParsePayload(&payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("invalid register payload: %w", err)
	}

	agent, err := h.verifier(ctx, payload.AgentID, payload.Secret)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("registration rejected: %w", err)
	}
	agent.Status = model.AgentStatusConnected
	agent.LastHeartbeat = time.Now()

	handle := &Handle{Agent: agent, link: link}

	h.mu.Lock()
	h.handles[agent.ID] = handle
	if timer, ok := h.timers[agent.ID]; ok {
		timer.Stop()
		delete(h.timers, agent.ID)
	}
	h.mu.Unlock()

	if h.bus != nil {
		_ = h.bus.Publish(ctx, SubjectAgentConnected, eventbus.NewEvent("agent:connected", "agentlink", map[string]interface{}{
			"agentId": agent.ID, "name": agent.Name,
		}))
	}
	return handle, nil
}

// Serve runs handle's link pumps and feeds every subsequent frame to
// onFrame until the connection closes, at which point it marks the agent
// offline after the configured grace period unless it reconnects first
// (§4.8 disconnect semantics).
func (h *Hub) Serve(handle *Handle, onFrame FrameHandler, onOffline func(agentID string)) {
	link := handle.link
	go func() {
		for msg := range link.Inbox() {
			if msg.Action == protocol.ActionHeartbeat {
				h.mu.Lock()
				handle.Agent.LastHeartbeat = time.Now()
				h.mu.Unlock()
				continue
			}
			onFrame(handle.Agent.ID, msg)
		}
	}()
	link.Run()

	h.mu.Lock()
	delete(h.handles, handle.Agent.ID)
	agentID := handle.Agent.ID
	timer := time.AfterFunc(h.offlineGrace, func() {
		h.mu.Lock()
		_, reconnected := h.handles[agentID]
		h.mu.Unlock()
		if reconnected {
			return
		}
		handle.Agent.Status = model.AgentStatusOffline
		if h.bus != nil {
			_ = h.bus.Publish(context.Background(), SubjectAgentOffline, eventbus.NewEvent("agent:disconnected", "agentlink", map[string]interface{}{
				"agentId": agentID, "name": handle.Agent.Name,
			}))
		}
		if onOffline != nil {
			onOffline(agentID)
		}
	})
	h.timers[agentID] = timer
	h.mu.Unlock()
}
