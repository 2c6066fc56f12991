package agentlink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/protocol"
)

// AgentSide is the agent process's end of the Agent Link: it dials the hub,
// performs the §4.8 registration handshake, then relays control frames to
// a ControlHandler and lets the caller push worker:status/worker:event/
// heartbeat frames back.
type AgentSide struct {
	link   *Link
	logger *logging.Logger
}

// ControlHandler processes one hub->agent control frame (worker:start,
// worker:input, worker:stop).
type ControlHandler func(msg *protocol.Message)

// Dial connects to the hub at hubURL and registers as agent.
func Dial(ctx context.Context, hubURL string, agent *model.Agent, logger *logging.Logger) (*AgentSide, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, hubURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}

	link := NewLink(conn, logger)

	msg, err := protocol.NewRequest("", protocol.ActionRegister, protocol.RegisterPayload{
		AgentID: agent.ID,
		Name:    agent.Name,
		Secret:  agent.Secret,
		Host:    protocol.RegisterHostPayload{Platform: agent.Host.Platform, Resources: agent.Host.Resources},
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send register frame: %w", err)
	}

	return &AgentSide{link: link, logger: logger}, nil
}

// Run starts the link's read/write pumps and dispatches inbound control
// frames to handle, periodically sending heartbeat frames. It blocks until
// the connection drops.
func (a *AgentSide) Run(ctx context.Context, heartbeatInterval time.Duration, handle ControlHandler) {
	go func() {
		if heartbeatInterval <= 0 {
			heartbeatInterval = 10 * time.Second
		}
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = a.SendEvent(protocol.ActionHeartbeat, protocol.HeartbeatPayload{Timestamp: time.Now()})
			}
		}
	}()

	go func() {
		for msg := range a.link.Inbox() {
			handle(msg)
		}
	}()

	a.link.Run()
}

// SendEvent sends an agent->hub event frame (worker:status, worker:event,
// heartbeat).
func (a *AgentSide) SendEvent(action protocol.Action, payload interface{}) error {
	msg, err := protocol.NewNotification(action, payload)
	if err != nil {
		return err
	}
	return a.link.Send(msg)
}

// Close tears down the connection.
func (a *AgentSide) Close() {
	a.link.Close()
}
