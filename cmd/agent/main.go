// Package main is the entry point for an agent process: it dials the hub,
// registers itself, and spawns/supervises one worker.Worker per task the
// hub assigns it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/clistream"
	"github.com/kandev/orchestratorhub/internal/config"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/protocol"
	"github.com/kandev/orchestratorhub/internal/reposvc"
	"github.com/kandev/orchestratorhub/internal/vault"
	"github.com/kandev/orchestratorhub/internal/worker"
)

var (
	cfgName string
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "orchestratorhub agent - registers with a hub and runs AI CLI workers",
	RunE:  run,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgName, "config", "agent", "config file name (without extension)")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config-path", ".", "directory to search for the config file")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgName, cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Zap().Sync()

	if cfg.Agent.HubURL == "" || cfg.Agent.AgentID == "" {
		return fmt.Errorf("agent.hubUrl and agent.agentId are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mkp, err := vault.NewMasterKeyProvider(vaultDir(cfg.Vault.KeyPath))
	if err != nil {
		log.Fatal("init vault", zap.Error(err))
	}

	repoEngine := reposvc.New(reposvc.Config{WorkspaceBasePath: cfg.Repository.WorkspaceBasePath}, vault.New(mkp.Key()), log)

	agentModel := &model.Agent{
		ID: cfg.Agent.AgentID, Name: cfg.Agent.Name, Secret: cfg.Agent.Secret,
		MaxWorkers: cfg.Agent.MaxWorkers, AllowedTools: cfg.Agent.AllowTools,
		Host: model.HostDescriptor{Platform: hostPlatform()},
	}

	side, err := agentlink.Dial(ctx, cfg.Agent.HubURL, agentModel, log)
	if err != nil {
		log.Fatal("dial hub", zap.Error(err))
	}
	defer side.Close()

	wm := newWorkerManager(side, repoEngine, log)

	go side.Run(ctx, cfg.AgentLink.HeartbeatInterval, wm.handle)
	log.Info("agent registered", zap.String("agentId", cfg.Agent.AgentID), zap.String("hub", cfg.Agent.HubURL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down agent")
	cancel()
	wm.stopAll()
	return nil
}

func vaultDir(keyPath string) string {
	if keyPath == "" {
		return "."
	}
	return keyPath
}

func hostPlatform() string {
	return os.Getenv("HUB_AGENT_PLATFORM")
}

// workerManager dispatches worker:start/input/stop control frames to
// per-task worker.Worker instances and relays their output back to the hub
// over the Agent Link, per §4.7/§4.8.
type workerManager struct {
	side   *agentlink.AgentSide
	repos  *reposvc.Engine
	logger *logging.Logger

	mu      sync.Mutex
	workers map[string]*worker.Worker // taskID -> worker
}

func newWorkerManager(side *agentlink.AgentSide, repos *reposvc.Engine, logger *logging.Logger) *workerManager {
	return &workerManager{side: side, repos: repos, logger: logger, workers: make(map[string]*worker.Worker)}
}

func (m *workerManager) handle(msg *protocol.Message) {
	switch msg.Action {
	case protocol.ActionWorkerStart:
		var payload protocol.WorkerStartPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		m.start(payload)
	case protocol.ActionWorkerInput:
		var payload protocol.WorkerInputPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		m.input(payload)
	case protocol.ActionWorkerStop:
		var payload protocol.WorkerStopPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		m.stop(payload.TaskID)
	}
}

func (m *workerManager) start(payload protocol.WorkerStartPayload) {
	sink := &taskEventSink{taskID: payload.TaskID, side: m.side}
	w := worker.New(payload.TaskID, m.repos, sink, m.logger)

	m.mu.Lock()
	m.workers[payload.TaskID] = w
	m.mu.Unlock()

	cfg := worker.StartConfig{
		Tool:             payload.Tool,
		WorkingDirectory: payload.WorkingDirectory,
		Model:            payload.Model,
		MaxTokens:        payload.MaxTokens,
		Temperature:      payload.Temperature,
		ResumeID:         payload.ResumeID,
		InitialPrompt:    payload.InitialPrompt,
	}
	if spec, err := worker.Lookup(payload.Tool); err == nil {
		if apiKey, ok := payload.APIKeyEnv[spec.APIKeyEnvVar]; ok {
			cfg.APIKey = apiKey
		}
	}
	cfg.BaseURL = payload.BaseURL
	if payload.Repo != nil {
		cfg.RepoCloneSpec = &worker.RepoCloneSpec{
			Repo:     repoFromSpec(payload.Repo),
			WorkerID: payload.TaskID,
		}
	}

	if err := w.Start(context.Background(), cfg); err != nil {
		_ = m.side.SendEvent(protocol.ActionWorkerState, protocol.WorkerStatusPayload{
			TaskID: payload.TaskID, State: "error", Error: err.Error(),
		})
	}
}

func (m *workerManager) input(payload protocol.WorkerInputPayload) {
	w := m.get(payload.TaskID)
	if w == nil {
		return
	}
	_ = w.Input(payload.Content)
}

func (m *workerManager) stop(taskID string) {
	w := m.get(taskID)
	if w == nil {
		return
	}
	_ = w.Stop(5000)
}

func (m *workerManager) stopAll() {
	m.mu.Lock()
	workers := make([]*worker.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	for _, w := range workers {
		_ = w.Stop(5000)
	}
}

func (m *workerManager) get(taskID string) *worker.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workers[taskID]
}

func repoFromSpec(spec *protocol.RepoSpec) *model.Repository {
	return &model.Repository{
		ID:                   spec.RepositoryID,
		Type:                 model.RepositoryType(spec.Type),
		URL:                  spec.URL,
		LocalPath:            spec.LocalPath,
		Branch:               spec.Branch,
		EncryptedCredentials: spec.EncryptedCredentials,
	}
}

// taskEventSink adapts one worker's output to worker:event/worker:status
// frames sent back over the Agent Link.
type taskEventSink struct {
	taskID string
	side   *agentlink.AgentSide
}

func (s *taskEventSink) OnEvent(ev clistream.Event) {
	_ = s.side.SendEvent(protocol.ActionWorkerEvent, protocol.WorkerEventPayload{TaskID: s.taskID, Event: ev})
}

func (s *taskEventSink) OnStateChange(state worker.State, errMsg string) {
	_ = s.side.SendEvent(protocol.ActionWorkerState, protocol.WorkerStatusPayload{
		TaskID: s.taskID, State: string(state), Error: errMsg,
	})
}
