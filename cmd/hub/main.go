// Package main is the entry point for the orchestration hub: the process
// that terminates both the browser-facing Client Link and the agent-facing
// Agent Link, and runs the Session Orchestrator between them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kandev/orchestratorhub/internal/agentlink"
	"github.com/kandev/orchestratorhub/internal/clientlink"
	"github.com/kandev/orchestratorhub/internal/config"
	"github.com/kandev/orchestratorhub/internal/db"
	"github.com/kandev/orchestratorhub/internal/eventbus"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/orchestrator"
	"github.com/kandev/orchestratorhub/internal/store"
	"github.com/kandev/orchestratorhub/internal/store/postgres"
	"github.com/kandev/orchestratorhub/internal/store/sqlite"
)

var (
	cfgName string
	cfgPath string
)

var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "orchestratorhub hub - routes sessions to remote agent workers",
	RunE:  run,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cfgName, "config", "hub", "config file name (without extension)")
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

	log.Info("starting hub", zap.String("database.driver", cfg.Database.Driver))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := openStore(cfg.Database)
	if err != nil {
		log.Fatal("open store", zap.Error(err))
	}
	defer closeStore()

	bus, closeBus := openEventBus(cfg.NATS, log)
	defer closeBus()

	agentHub := agentlink.NewHub(orchestrator.NewSecretVerifier(st), bus, cfg.AgentLink.OfflineGrace, log)
	orch := orchestrator.New(st, agentHub, bus, log)
	clientHub := clientlink.NewHub(bus, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/agent", agentWSHandler(agentHub, orch, log))
	mux.HandleFunc("/ws", clientWSHandler(clientHub, orch, st, bus, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down hub")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("hub stopped")
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func agentWSHandler(hub *agentlink.Hub, orch *orchestrator.Orchestrator, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("agent websocket upgrade failed", zap.Error(err))
			return
		}
		handle, err := hub.Register(r.Context(), conn)
		if err != nil {
			log.Warn("agent registration failed", zap.Error(err))
			_ = conn.Close()
			return
		}
		hub.Serve(handle, orch.HandleAgentFrame, orch.HandleAgentOffline)
	}
}

// clientUserID resolves the authenticated browser user from the request.
// Per §6 the hub trusts an upstream auth proxy to set this header; the hub
// itself does not perform end-user authentication.
func clientUserID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func clientWSHandler(hub *clientlink.Hub, orch *orchestrator.Orchestrator, st store.Store, bus eventbus.Bus, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := clientUserID(r)
		if userID == "" {
			http.Error(w, "missing X-User-Id", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("client websocket upgrade failed", zap.Error(err))
			return
		}
		client := clientlink.NewClient(connID(), userID, conn, orch, st, bus, log)
		client.Run(r.Context(), hub)
	}
}

var connSeq uint64

func connID() string {
	connSeq++
	return fmt.Sprintf("client-%d-%d", time.Now().UnixNano(), connSeq)
}

func openStore(cfg config.DatabaseConfig) (store.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		conn, err := db.OpenPostgres(cfg.DSN, cfg.MaxConns, cfg.MinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		st, err := postgres.New(conn)
		if err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		return st, func() { _ = conn.Close() }, nil
	case "sqlite", "":
		writer, err := db.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite writer: %w", err)
		}
		reader, err := db.OpenSQLiteReader(cfg.Path)
		if err != nil {
			_ = writer.Close()
			return nil, nil, fmt.Errorf("open sqlite reader: %w", err)
		}
		st, err := sqlite.New(writer, reader)
		if err != nil {
			_ = writer.Close()
			_ = reader.Close()
			return nil, nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return st, func() { _ = writer.Close(); _ = reader.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openEventBus(cfg config.NATSConfig, log *logging.Logger) (eventbus.Bus, func()) {
	if cfg.URL == "" {
		bus := eventbus.NewMemoryBus(log)
		return bus, bus.Close
	}
	bus, err := eventbus.NewNATSBus(eventbus.NATSConfig{URL: cfg.URL, ClientID: cfg.ClientID, MaxReconnects: cfg.MaxReconnects}, log)
	if err != nil {
		log.Warn("NATS unavailable, falling back to in-memory bus", zap.Error(err))
		mem := eventbus.NewMemoryBus(log)
		return mem, mem.Close
	}
	return bus, bus.Close
}
