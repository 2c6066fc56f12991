package clientlink

import (
	"context"
	"sync"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/eventbus"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/protocol"
)

// Hub is the registry of connected browser clients, grounded on the
// teacher's internal/gateway/websocket.Hub: Register/Unregister plus a
// broadcast of agent:connected/agent:disconnected to every client (§6).
type Hub struct {
	bus    eventbus.Bus
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub builds a Hub and subscribes it to the agent-connectivity subjects
// published by the Agent Link hub-side registry (C8).
func NewHub(bus eventbus.Bus, logger *logging.Logger) *Hub {
	h := &Hub{bus: bus, logger: logger, clients: make(map[string]*Client)}
	if bus != nil {
		_, _ = bus.Subscribe(agentlink.SubjectAgentConnected, h.onAgentEvent(protocol.ActionAgentConnected))
		_, _ = bus.Subscribe(agentlink.SubjectAgentOffline, h.onAgentEvent(protocol.ActionAgentOffline))
	}
	return h
}

func (h *Hub) onAgentEvent(action protocol.Action) eventbus.Handler {
	return func(ctx context.Context, ev *eventbus.Event) error {
		agentID, _ := ev.Data["agentId"].(string)
		name, _ := ev.Data["name"].(string)
		h.broadcast(action, protocol.AgentConnectedPayload{AgentID: agentID, Name: name})
		return nil
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
}

func (h *Hub) broadcast(action protocol.Action, payload interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.sendNotification(action, payload)
	}
}
