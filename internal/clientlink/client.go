// Package clientlink implements the Client Link (C10): the per-browser
// channel translating session:open/session:input/session:cancel control
// frames into Session Orchestrator calls and streaming session:event/
// session:status frames back.
//
// Grounded directly on the teacher's internal/gateway/websocket.Client:
// the same ReadPump/WritePump/send-channel shape and per-client
// subscription bookkeeping, narrowed from task/session/user subscriptions
// to session-only subscriptions and backed by internal/eventbus instead of
// the teacher's direct hub broadcast.
package clientlink

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
	"github.com/kandev/orchestratorhub/internal/orchestrator"
	"github.com/kandev/orchestratorhub/internal/protocol"
	"github.com/kandev/orchestratorhub/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256

	// replayCount is §4.10's default replay window.
	replayCount = 50
)

// Client is one authenticated browser connection.
type Client struct {
	ID     string
	UserID string

	conn   *websocket.Conn
	hub    *Hub
	orch   *orchestrator.Orchestrator
	store  store.Store
	bus    eventbus.Bus
	logger *logging.Logger

	send chan *protocol.Message

	mu     sync.Mutex
	closed bool
	subs   map[string][]eventbus.Subscription // sessionID -> [event sub, status sub]
}

// NewClient builds a Client bound to an already-authenticated connection;
// token verification itself happens before this call, per §4.10/§6.
func NewClient(id, userID string, conn *websocket.Conn, orch *orchestrator.Orchestrator, st store.Store, bus eventbus.Bus, logger *logging.Logger) *Client {
	return &Client{
		ID: id, UserID: userID, conn: conn, orch: orch, store: st, bus: bus, logger: logger,
		send: make(chan *protocol.Message, sendBufferSize),
		subs: make(map[string][]eventbus.Subscription),
	}
}

// Run registers the client with hub, starts its pumps, and blocks until
// the connection closes.
func (c *Client) Run(ctx context.Context, hub *Hub) {
	c.hub = hub
	hub.register(c)
	defer hub.unregister(c)
	defer c.unsubscribeAll()

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	c.readPump(ctx)

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.send)
	<-done
}

func (c *Client) readPump(ctx context.Context) {
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "", "bad_request", "invalid message format")
			continue
		}
		go c.handle(ctx, &msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, msg *protocol.Message) {
	switch msg.Action {
	case protocol.ActionSessionOpen:
		c.handleOpen(ctx, msg)
	case protocol.ActionSessionInput:
		c.handleInput(ctx, msg)
	case protocol.ActionSessionCancel:
		c.handleCancel(ctx, msg)
	case protocol.ActionAgentList:
		c.handleAgentList(ctx, msg)
	default:
		c.sendError(msg.ID, msg.Action, "unknown_action", "unknown action: "+string(msg.Action))
	}
}

// ownedSession enforces §4.10 "Enforce ownership": a client may only act on
// sessions whose userId matches.
func (c *Client) ownedSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := c.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.OwnerUserID != c.UserID {
		return nil, fmt.Errorf("session %s is not owned by this client", sessionID)
	}
	return sess, nil
}

// handleOpen implements §4.10: snapshot + replay, then live event
// streaming for the session.
func (c *Client) handleOpen(ctx context.Context, msg *protocol.Message) {
	var payload protocol.SessionOpenPayload
	if err := msg.ParsePayload(&payload); err != nil {
		c.sendError(msg.ID, msg.Action, "bad_request", "invalid session:open payload")
		return
	}
	if _, err := c.ownedSession(ctx, payload.SessionID); err != nil {
		c.sendError(msg.ID, msg.Action, "forbidden", err.Error())
		return
	}

	messages, status, err := c.orch.Snapshot(ctx, payload.SessionID)
	if err != nil {
		c.sendError(msg.ID, msg.Action, "not_found", err.Error())
		return
	}
	items := make([]interface{}, len(messages))
	for i, m := range messages {
		items[i] = m
	}
	c.sendNotification(protocol.ActionSessionSnapshot, protocol.SessionSnapshotPayload{
		SessionID: payload.SessionID, Messages: items, Status: string(status),
	})

	c.subscribeToSession(payload.SessionID)
}

func (c *Client) handleInput(ctx context.Context, msg *protocol.Message) {
	var payload protocol.SessionInputPayload
	if err := msg.ParsePayload(&payload); err != nil {
		c.sendError(msg.ID, msg.Action, "bad_request", "invalid session:input payload")
		return
	}
	if _, err := c.ownedSession(ctx, payload.SessionID); err != nil {
		c.sendError(msg.ID, msg.Action, "forbidden", err.Error())
		return
	}
	if err := c.orch.Input(ctx, payload.SessionID, payload.Content); err != nil {
		c.sendError(msg.ID, msg.Action, "internal", err.Error())
	}
}

func (c *Client) handleCancel(ctx context.Context, msg *protocol.Message) {
	var payload protocol.SessionCancelPayload
	if err := msg.ParsePayload(&payload); err != nil {
		c.sendError(msg.ID, msg.Action, "bad_request", "invalid session:cancel payload")
		return
	}
	if _, err := c.ownedSession(ctx, payload.SessionID); err != nil {
		c.sendError(msg.ID, msg.Action, "forbidden", err.Error())
		return
	}
	if err := c.orch.Cancel(ctx, payload.SessionID); err != nil {
		c.sendError(msg.ID, msg.Action, "internal", err.Error())
	}
}

func (c *Client) handleAgentList(ctx context.Context, msg *protocol.Message) {
	page, err := c.store.Agents().ListByFilter(ctx, store.AgentFilter{}, store.Pagination{Page: 1, Limit: 200})
	if err != nil {
		c.sendError(msg.ID, msg.Action, "internal", err.Error())
		return
	}
	c.sendNotification(protocol.ActionAgentList, map[string]interface{}{"agents": page.Items})
}

// subscribeToSession wires the session's eventbus subjects to this
// client's outbound frames, tagged by sessionId (§4.9 step 4 / §4.10).
func (c *Client) subscribeToSession(sessionID string) {
	c.mu.Lock()
	if _, already := c.subs[sessionID]; already {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	eventSub, _ := c.bus.Subscribe(orchestrator.EventSubject(sessionID), func(ctx context.Context, ev *eventbus.Event) error {
		c.sendNotification(protocol.ActionSessionEvent, protocol.SessionEventPayload{
			SessionID: sessionID, Event: ev.Data["event"],
		})
		return nil
	})
	statusSub, _ := c.bus.Subscribe(orchestrator.StatusSubject(sessionID), func(ctx context.Context, ev *eventbus.Event) error {
		status, _ := ev.Data["status"].(string)
		errMsg, _ := ev.Data["error"].(string)
		c.sendNotification(protocol.ActionSessionStatus, protocol.SessionStatusPayload{
			SessionID: sessionID, Status: status, Error: errMsg,
		})
		return nil
	})

	c.mu.Lock()
	c.subs[sessionID] = []eventbus.Subscription{eventSub, statusSub}
	c.mu.Unlock()
}

func (c *Client) unsubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, subs := range c.subs {
		for _, s := range subs {
			if s != nil {
				_ = s.Unsubscribe()
			}
		}
	}
	c.subs = make(map[string][]eventbus.Subscription)
}

func (c *Client) sendNotification(action protocol.Action, payload interface{}) {
	msg, err := protocol.NewNotification(action, payload)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *Client) sendError(id string, action protocol.Action, code, message string) {
	msg, err := protocol.NewError(id, action, code, message)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *Client) enqueue(msg *protocol.Message) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		if c.logger != nil {
			c.logger.Warn("clientlink: dropping frame, send buffer full")
		}
	}
}
