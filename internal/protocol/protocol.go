// Package protocol defines the frame envelope and §6 action taxonomy shared
// by both links the hub speaks: the browser-facing Client Link (C10) and the
// agent-facing Agent Link (C8).
//
// Grounded on the teacher's pkg/websocket.Message envelope and
// pkg/websocket.Dispatcher, renamed and extended with the closed action set
// spec.md §6 requires instead of the teacher's open-ended REST-style actions.
package protocol

import (
	"context"
	"encoding/json"
	"time"
)

// FrameType is the coarse kind of a protocol.Message.
type FrameType string

const (
	FrameRequest      FrameType = "request"
	FrameResponse     FrameType = "response"
	FrameNotification FrameType = "notification"
	FrameError        FrameType = "error"
)

// Action is the closed set of §6 frame actions, shared by both links.
type Action string

const (
	// Browser <-> hub (§6 table 1)
	ActionSessionOpen     Action = "session:open"
	ActionSessionInput    Action = "session:input"
	ActionSessionCancel   Action = "session:cancel"
	ActionSessionSnapshot Action = "session:snapshot"
	ActionSessionEvent    Action = "session:event"
	ActionSessionStatus   Action = "session:status"
	ActionAgentList       Action = "agent:list"
	ActionAgentConnected  Action = "agent:connected"
	ActionAgentOffline    Action = "agent:disconnected"

	// Hub <-> agent (§4.8)
	ActionRegister    Action = "register"
	ActionWorkerStart Action = "worker:start"
	ActionWorkerInput Action = "worker:input"
	ActionWorkerStop  Action = "worker:stop"
	ActionWorkerState Action = "worker:status"
	ActionWorkerEvent Action = "worker:event"
	ActionHeartbeat   Action = "heartbeat"
)

// Message is the base envelope for every frame exchanged over a Link.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      FrameType       `json:"type"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ParsePayload decodes the frame's payload into v.
func (m *Message) ParsePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

func build(typ FrameType, id string, action Action, payload interface{}) (*Message, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = encoded
	}
	return &Message{ID: id, Type: typ, Action: action, Payload: data, Timestamp: time.Now().UTC()}, nil
}

// NewRequest builds a request frame.
func NewRequest(id string, action Action, payload interface{}) (*Message, error) {
	return build(FrameRequest, id, action, payload)
}

// NewResponse builds a response frame correlated to a prior request id.
func NewResponse(id string, action Action, payload interface{}) (*Message, error) {
	return build(FrameResponse, id, action, payload)
}

// NewNotification builds a server/agent-pushed frame with no request id.
func NewNotification(action Action, payload interface{}) (*Message, error) {
	return build(FrameNotification, "", action, payload)
}

// ErrorPayload is the payload carried by a FrameError message. Per spec §7,
// the Message field is always derived from an errkind.Kind — never a raw
// error string.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds an error frame correlated to a prior request id.
func NewError(id string, action Action, code, message string) (*Message, error) {
	return build(FrameError, id, action, ErrorPayload{Code: code, Message: message})
}

// --- §6/§4.8 typed payloads -------------------------------------------------

// SessionOpenPayload is session:open's payload.
type SessionOpenPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionInputPayload is session:input's payload.
type SessionInputPayload struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

// SessionCancelPayload is session:cancel's payload.
type SessionCancelPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionSnapshotPayload is session:snapshot's payload (replay + status on open).
type SessionSnapshotPayload struct {
	SessionID string        `json:"sessionId"`
	Messages  []interface{} `json:"messages"`
	Status    string        `json:"status"`
}

// SessionEventPayload is session:event's payload: a single C6 event, tagged
// by the session it belongs to.
type SessionEventPayload struct {
	SessionID string      `json:"sessionId"`
	Event     interface{} `json:"event"`
}

// SessionStatusPayload is session:status's payload.
type SessionStatusPayload struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// AgentConnectedPayload is agent:connected / agent:disconnected's payload.
type AgentConnectedPayload struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

// RegisterPayload is the agent->hub registration handshake payload.
type RegisterPayload struct {
	AgentID string              `json:"agentId"`
	Name    string              `json:"name"`
	Secret  string              `json:"secret"`
	Host    RegisterHostPayload `json:"host"`
}

// RegisterHostPayload mirrors model.HostDescriptor on the wire.
type RegisterHostPayload struct {
	Platform  string            `json:"platform"`
	Resources map[string]string `json:"resources,omitempty"`
}

// RepoSpec describes the repository a worker:start frame clones/prepares.
type RepoSpec struct {
	RepositoryID          string `json:"repositoryId"`
	Type                  string `json:"type"`
	URL                   string `json:"url,omitempty"`
	LocalPath             string `json:"localPath,omitempty"`
	Branch                string `json:"branch,omitempty"`
	EncryptedCredentials  string `json:"encryptedCredentials,omitempty"`
}

// WorkerStartPayload is worker:start's payload (hub -> agent).
type WorkerStartPayload struct {
	TaskID            string            `json:"taskId"`
	SessionID         string            `json:"sessionId"`
	Tool              string            `json:"tool"`
	WorkingDirectory  string            `json:"workingDirectory,omitempty"`
	Model             string            `json:"model,omitempty"`
	MaxTokens         int               `json:"maxTokens,omitempty"`
	Temperature       float64           `json:"temperature,omitempty"`
	InitialPrompt     string            `json:"initialPrompt,omitempty"`
	ResumeID          string            `json:"resumeId,omitempty"`
	ToolResumeKind    string            `json:"toolResumeKind,omitempty"`
	APIKeyEnv         map[string]string `json:"apiKeyEnv,omitempty"`
	BaseURL           string            `json:"baseUrl,omitempty"`
	Repo              *RepoSpec         `json:"repo,omitempty"`
}

// WorkerInputPayload is worker:input's payload (hub -> agent).
type WorkerInputPayload struct {
	TaskID  string `json:"taskId"`
	Content string `json:"content"`
}

// WorkerStopPayload is worker:stop's payload (hub -> agent).
type WorkerStopPayload struct {
	TaskID string `json:"taskId"`
}

// WorkerStatusPayload is worker:status's payload (agent -> hub).
type WorkerStatusPayload struct {
	TaskID string `json:"taskId"`
	State  string `json:"state"`
	Error  string `json:"error,omitempty"`
}

// WorkerEventPayload is worker:event's payload (agent -> hub): one C6 event.
type WorkerEventPayload struct {
	TaskID string      `json:"taskId"`
	Event  interface{} `json:"event"`
}

// HeartbeatPayload is heartbeat's payload (agent -> hub).
type HeartbeatPayload struct {
	Timestamp time.Time `json:"ts"`
}

// Handler processes one inbound frame and optionally returns a reply.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes inbound frames to a registered Handler by Action,
// identical in shape to the teacher's pkg/websocket.Dispatcher.
type Dispatcher struct {
	handlers map[Action]Handler
}

// NewDispatcher builds an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Action]Handler)}
}

// Register binds a Handler to an Action.
func (d *Dispatcher) Register(action Action, h Handler) {
	d.handlers[action] = h
}

// RegisterFunc binds a HandlerFunc to an Action.
func (d *Dispatcher) RegisterFunc(action Action, h HandlerFunc) {
	d.handlers[action] = h
}

// Dispatch routes msg to its handler, or a FrameError if none is registered.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	h, ok := d.handlers[msg.Action]
	if !ok {
		return NewError(msg.ID, msg.Action, "unknown_action", "unknown action: "+string(msg.Action))
	}
	return h.Handle(ctx, msg)
}
