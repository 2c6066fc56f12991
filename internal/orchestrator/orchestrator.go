// Package orchestrator implements the Session Orchestrator (C9): the
// server-side session state machine, agent assignment policy, and
// worker-event fan-out described in spec §4.9.
//
// Grounded on the teacher's internal/orchestrator/scheduler (process loop,
// round-robin-style retry/requeue policy) and internal/agent/registry
// (capability/tag matching against connected agents), generalized from
// task/workflow scheduling to single-session/single-worker assignment.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/clistream"
	"github.com/kandev/orchestratorhub/internal/errkind"
	"github.com/kandev/orchestratorhub/internal/eventbus"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/protocol"
	"github.com/kandev/orchestratorhub/internal/store"
	"github.com/kandev/orchestratorhub/internal/tracing"
)

// ErrNoAgent is returned by the assignment policy when no connected agent
// is eligible (§4.9).
var ErrNoAgent = fmt.Errorf("no_agent")

const (
	// defaultReplayCount is C10's default replay window (§4.10); kept here
	// too since Snapshot is the orchestrator-side half of that operation.
	defaultReplayCount = 50
	forceStopGrace     = 5 * time.Second
)

// StartOptions configures a session start/resume beyond what is already on
// the model.Session record.
type StartOptions struct {
	WorkingDirectory string
	Model            string
	MaxTokens        int
	Temperature      float64
	APIKeyEnv        map[string]string
	BaseURL          string
	Repo             *protocol.RepoSpec
}

// liveWorker is the orchestrator's live-worker index entry (§4.9 "map
// taskId -> session via the live-worker index").
type liveWorker struct {
	sessionID string
	agentID   string
	taskID    string
}

// Orchestrator owns session state transitions and worker assignment.
type Orchestrator struct {
	store  store.Store
	hub    *agentlink.Hub
	bus    eventbus.Bus
	logger *logging.Logger

	mu          sync.Mutex
	live        map[string]*liveWorker // taskID -> live worker
	sessionTask map[string]string      // sessionID -> taskID
	rrCursor    int
	pendingStop map[string]chan struct{} // sessionID -> closed on worker:status{stopped}
}

// New builds an Orchestrator bound to a store, the hub-side agent registry,
// and an event bus used to fan events out to client links (§4.9 step 4).
func New(st store.Store, hub *agentlink.Hub, bus eventbus.Bus, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:       st,
		hub:         hub,
		bus:         bus,
		logger:      logger,
		live:        make(map[string]*liveWorker),
		sessionTask: make(map[string]string),
		pendingStop: make(map[string]chan struct{}),
	}
}

// EventSubject is the eventbus subject a session's events are published on,
// for the Client Link (C10) to subscribe to when it opens that session.
func EventSubject(sessionID string) string { return "session." + sessionID + ".event" }

// StatusSubject is the eventbus subject a session's status transitions are
// published on.
func StatusSubject(sessionID string) string { return "session." + sessionID + ".status" }

// pickAgent applies the §4.9 assignment policy: connected, tool-allowed,
// spare-capacity agents, round-robin tie-break.
func (o *Orchestrator) pickAgent(tool string) (*model.Agent, error) {
	candidates := o.hub.Connected()
	var eligible []*model.Agent
	for _, a := range candidates {
		if a.Status != model.AgentStatusConnected {
			continue
		}
		if !a.AllowsTool(tool) {
			continue
		}
		live := 0
		o.mu.Lock()
		for _, lw := range o.live {
			if lw.agentID == a.ID {
				live++
			}
		}
		o.mu.Unlock()
		if !a.HasCapacity(live) {
			continue
		}
		eligible = append(eligible, a)
	}
	if len(eligible) == 0 {
		return nil, ErrNoAgent
	}

	o.mu.Lock()
	idx := o.rrCursor % len(eligible)
	o.rrCursor++
	o.mu.Unlock()
	return eligible[idx], nil
}

// Start implements §4.9 "Start": assign an agent, allocate a workerId,
// persist status=active, and send worker:start.
func (o *Orchestrator) Start(ctx context.Context, sess *model.Session, opts StartOptions) error {
	return o.startOrResume(ctx, sess, opts, "")
}

// Resume implements §4.9 "Resume": identical to Start but passes the
// session's externalSessionId as resumeId; the chosen agent need not be
// the original one.
func (o *Orchestrator) Resume(ctx context.Context, sess *model.Session, opts StartOptions) error {
	if sess.ExternalSessionID == "" {
		return fmt.Errorf("session %s has no externalSessionId to resume from", sess.ID)
	}
	return o.startOrResume(ctx, sess, opts, sess.ExternalSessionID)
}

func (o *Orchestrator) startOrResume(ctx context.Context, sess *model.Session, opts StartOptions, resumeID string) error {
	_, assignSpan := tracing.TraceSessionAssign(ctx, sess.ID, sess.AITool)
	agent, err := o.pickAgent(sess.AITool)
	if err != nil {
		tracing.TraceSessionAssignResult(assignSpan, "", err)
		return err
	}
	tracing.TraceSessionAssignResult(assignSpan, agent.ID, nil)

	workerID := uuid.New().String()
	taskID := uuid.New().String()

	sess.Status = model.SessionStatusActive
	sess.AgentID = agent.ID
	sess.WorkerID = workerID
	sess.LastActivity = time.Now().UTC()
	if err := o.store.Sessions().Update(ctx, sess); err != nil {
		return fmt.Errorf("persist session start: %w", err)
	}

	handle, ok := o.hub.Get(agent.ID)
	if !ok {
		return fmt.Errorf("agent %s is not connected", agent.ID)
	}

	o.mu.Lock()
	o.live[taskID] = &liveWorker{sessionID: sess.ID, agentID: agent.ID, taskID: taskID}
	o.sessionTask[sess.ID] = taskID
	o.mu.Unlock()

	payload := protocol.WorkerStartPayload{
		TaskID: taskID, SessionID: sess.ID, Tool: sess.AITool,
		WorkingDirectory: opts.WorkingDirectory, Model: opts.Model, MaxTokens: opts.MaxTokens,
		Temperature: opts.Temperature, ResumeID: resumeID, APIKeyEnv: opts.APIKeyEnv,
		BaseURL: opts.BaseURL, Repo: opts.Repo,
	}
	if err := handle.SendControl(protocol.ActionWorkerStart, payload); err != nil {
		o.mu.Lock()
		delete(o.live, taskID)
		delete(o.sessionTask, sess.ID)
		o.mu.Unlock()
		return fmt.Errorf("send worker:start: %w", err)
	}

	o.publishStatus(ctx, sess.ID, string(model.SessionStatusActive), "")
	return nil
}

// Input sends user input to a session's live worker (client→hub
// session:input translated by C10, routed here).
func (o *Orchestrator) Input(ctx context.Context, sessionID, content string) error {
	taskID, handle, err := o.liveHandleFor(sessionID)
	if err != nil {
		return err
	}
	msg := &model.Message{
		ID: uuid.New().String(), SessionID: sessionID, Direction: model.MessageDirectionUser,
		Content: content, CreatedAt: time.Now().UTC(),
	}
	if err := o.store.Sessions().AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	sess, err := o.store.Sessions().FindByID(ctx, sessionID)
	if err == nil {
		sess.MessageCount++
		sess.LastActivity = time.Now().UTC()
		_ = o.store.Sessions().Update(ctx, sess)
	}
	return handle.SendControl(protocol.ActionWorkerInput, protocol.WorkerInputPayload{TaskID: taskID, Content: content})
}

// Cancel implements §4.9 "Cancellation": pause the session, send
// worker:stop, and wait up to forceStopGrace for worker:status{stopped}.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) error {
	ctx, cancelSpan := tracing.TraceSessionCancel(ctx, sessionID)
	defer cancelSpan.End()

	taskID, handle, err := o.liveHandleFor(sessionID)
	if err != nil {
		return err
	}

	sess, err := o.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = model.SessionStatusPaused
	if err := o.store.Sessions().Update(ctx, sess); err != nil {
		return fmt.Errorf("persist cancel: %w", err)
	}
	o.publishStatus(ctx, sessionID, string(model.SessionStatusPaused), "")

	done := make(chan struct{})
	o.mu.Lock()
	o.pendingStop[sessionID] = done
	o.mu.Unlock()

	if err := handle.SendControl(protocol.ActionWorkerStop, protocol.WorkerStopPayload{TaskID: taskID}); err != nil {
		return fmt.Errorf("send worker:stop: %w", err)
	}

	select {
	case <-done:
	case <-time.After(forceStopGrace):
		if o.logger != nil {
			o.logger.WithSessionID(sessionID).Warn("orchestrator: worker:stop grace expired, treating as stopped")
		}
	}
	return nil
}

func (o *Orchestrator) liveHandleFor(sessionID string) (string, *agentlink.Handle, error) {
	o.mu.Lock()
	taskID, ok := o.sessionTask[sessionID]
	var agentID string
	if ok {
		if lw, ok2 := o.live[taskID]; ok2 {
			agentID = lw.agentID
		}
	}
	o.mu.Unlock()
	if !ok || agentID == "" {
		return "", nil, fmt.Errorf("session %s has no live worker", sessionID)
	}
	handle, connected := o.hub.Get(agentID)
	if !connected {
		return "", nil, fmt.Errorf("agent %s is not connected", agentID)
	}
	return taskID, handle, nil
}

// HandleAgentFrame is wired as the agentlink.FrameHandler: every inbound
// frame from a connected agent arrives here, tagged by agent id.
func (o *Orchestrator) HandleAgentFrame(agentID string, msg *protocol.Message) {
	ctx := context.Background()
	switch msg.Action {
	case protocol.ActionWorkerEvent:
		var payload protocol.WorkerEventPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		o.handleWorkerEvent(ctx, payload)
	case protocol.ActionWorkerState:
		var payload protocol.WorkerStatusPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		o.handleWorkerStatus(ctx, payload)
	}
}

// handleWorkerEvent implements §4.9 "Event fan-out".
func (o *Orchestrator) handleWorkerEvent(ctx context.Context, payload protocol.WorkerEventPayload) {
	o.mu.Lock()
	lw, ok := o.live[payload.TaskID]
	o.mu.Unlock()
	if !ok {
		return
	}

	var ev clistream.Event
	raw, err := json.Marshal(payload.Event)
	if err == nil {
		_ = json.Unmarshal(raw, &ev)
	}

	sess, err := o.store.Sessions().FindByID(ctx, lw.sessionID)
	if err != nil {
		return
	}

	if text := eventText(ev); text != "" {
		msg := &model.Message{
			ID: uuid.New().String(), SessionID: lw.sessionID, Direction: model.MessageDirectionAssistant,
			Content: text, CreatedAt: time.Now().UTC(),
		}
		_ = o.store.Sessions().AppendMessage(ctx, msg)
		sess.MessageCount++
	}

	if ev.Usage != nil {
		sess.TotalTokens += int64(ev.Usage.InputTokens + ev.Usage.OutputTokens)
	}
	if ev.Type == clistream.EventResult {
		sess.TotalCostUSD += ev.CostUSD
	}

	if ev.Type == clistream.EventAssistant && ev.Message != "" {
		var meta struct {
			ExternalSessionID string `json:"externalSessionId"`
		}
		if json.Unmarshal([]byte(ev.Message), &meta) == nil && meta.ExternalSessionID != "" {
			sess.ExternalSessionID = meta.ExternalSessionID
		}
	}

	sess.LastActivity = time.Now().UTC()
	_ = o.store.Sessions().Update(ctx, sess)

	o.bus.Publish(ctx, EventSubject(lw.sessionID), eventbus.NewEvent("session:event", "orchestrator", map[string]interface{}{
		"sessionId": lw.sessionID,
		"event":     payload.Event,
	}))
}

// eventText extracts the user-visible text delta from an event, or "" if
// the event kind carries none.
func eventText(ev clistream.Event) string {
	switch ev.Type {
	case clistream.EventText:
		return ev.Delta
	case clistream.EventAssistant:
		return assistantText(ev.Message)
	case clistream.EventResult:
		return ev.ResultText
	default:
		return ""
	}
}

// assistantText decodes an assistant event's raw "message" payload, which
// the CLI tools render either as a bare JSON string or as an object
// carrying a "text" field alongside metadata such as externalSessionId.
func assistantText(raw string) string {
	if raw == "" {
		return ""
	}
	var s string
	if json.Unmarshal([]byte(raw), &s) == nil {
		return s
	}
	var obj struct {
		Text string `json:"text"`
	}
	if json.Unmarshal([]byte(raw), &obj) == nil && obj.Text != "" {
		return obj.Text
	}
	return raw
}

// handleWorkerStatus implements §4.9 "Session termination".
func (o *Orchestrator) handleWorkerStatus(ctx context.Context, payload protocol.WorkerStatusPayload) {
	o.mu.Lock()
	lw, ok := o.live[payload.TaskID]
	o.mu.Unlock()
	if !ok {
		return
	}

	sess, err := o.store.Sessions().FindByID(ctx, lw.sessionID)
	if err != nil {
		return
	}

	switch payload.State {
	case "stopped":
		sess.Status = model.SessionStatusPaused
		o.retireWorker(payload.TaskID, lw.sessionID)
	case "error":
		errMsg := errkind.Message(errkind.Classify(payload.Error))
		sess.Status = model.SessionStatusActive
		sess.AgentID = ""
		sess.WorkerID = ""
		o.retireWorker(payload.TaskID, lw.sessionID)
		o.publishStatus(ctx, lw.sessionID, "error", errMsg)
	}
	_ = o.store.Sessions().Update(ctx, sess)
	o.publishStatus(ctx, lw.sessionID, string(sess.Status), "")
}

// Complete marks a session completed and publishes the new status.
// Nothing in this package calls it: HandleAgentFrame never marks a session
// completed, since a worker:status{stopped} always pauses the session, even
// one whose worker emitted a terminal `result` event before exiting cleanly.
func (o *Orchestrator) Complete(ctx context.Context, sessionID string) error {
	sess, err := o.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = model.SessionStatusCompleted
	if err := o.store.Sessions().Update(ctx, sess); err != nil {
		return err
	}
	o.publishStatus(ctx, sessionID, string(model.SessionStatusCompleted), "")
	return nil
}

func (o *Orchestrator) retireWorker(taskID, sessionID string) {
	o.mu.Lock()
	delete(o.live, taskID)
	delete(o.sessionTask, sessionID)
	if done, ok := o.pendingStop[sessionID]; ok {
		close(done)
		delete(o.pendingStop, sessionID)
	}
	o.mu.Unlock()
}

// HandleAgentOffline implements the §4.8 disconnect semantics' orchestrator
// half: every session whose worker lived on the disconnected agent is
// paused, preserving externalSessionId for later resume elsewhere.
func (o *Orchestrator) HandleAgentOffline(agentID string) {
	ctx := context.Background()
	o.mu.Lock()
	var affected []*liveWorker
	for _, lw := range o.live {
		if lw.agentID == agentID {
			affected = append(affected, lw)
		}
	}
	o.mu.Unlock()

	for _, lw := range affected {
		sess, err := o.store.Sessions().FindByID(ctx, lw.sessionID)
		if err != nil {
			continue
		}
		sess.Status = model.SessionStatusPaused
		sess.AgentID = ""
		sess.WorkerID = ""
		_ = o.store.Sessions().Update(ctx, sess)
		o.retireWorker(lw.taskID, lw.sessionID)
		o.publishStatus(ctx, lw.sessionID, string(model.SessionStatusPaused), "agent disconnected")
	}
}

// Snapshot implements the orchestrator-side half of §4.10's "replay of the
// last N messages": the last defaultReplayCount messages plus the
// session's current status.
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) ([]*model.Message, model.SessionStatus, error) {
	sess, err := o.store.Sessions().FindByID(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}

	total, err := o.store.Sessions().ListMessages(ctx, sessionID, store.Pagination{Page: 1, Limit: 1})
	if err != nil {
		return nil, "", err
	}
	all, err := o.store.Sessions().ListMessages(ctx, sessionID, store.Pagination{Page: 1, Limit: total.Total})
	if err != nil {
		return nil, "", err
	}
	latest := all.Items
	if len(latest) > defaultReplayCount {
		latest = latest[len(latest)-defaultReplayCount:]
	}
	return latest, sess.Status, nil
}

func (o *Orchestrator) publishStatus(ctx context.Context, sessionID, status, errMsg string) {
	if o.bus == nil {
		return
	}
	data := map[string]interface{}{"sessionId": sessionID, "status": status}
	if errMsg != "" {
		data["error"] = errMsg
	}
	_ = o.bus.Publish(ctx, StatusSubject(sessionID), eventbus.NewEvent("session:status", "orchestrator", data))
}
