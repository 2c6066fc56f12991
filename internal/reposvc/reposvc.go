// Package reposvc implements the repository engine (C4): single-probe
// connection testing, retried testing with metadata persistence, cached
// branch listing, and workspace materialization.
//
// Grounded on the teacher's internal/repoclone (per-path mutex, clone/fetch
// via exec.CommandContext) and internal/secrets (decrypt-before-use).
package reposvc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kandev/orchestratorhub/internal/branch"
	"github.com/kandev/orchestratorhub/internal/errkind"
	"github.com/kandev/orchestratorhub/internal/logging"
	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/retry"
	"github.com/kandev/orchestratorhub/internal/vault"
)

const branchCacheTTL = time.Hour

// Config configures the Engine.
type Config struct {
	// WorkspaceBasePath is the directory under which workspaces are
	// materialized ("workspaces/workspace-<workerId>-<epochMillis>").
	WorkspaceBasePath string
	// ReposBasePath is the base directory repositories are probed/cloned
	// from, mirroring the teacher's repoclone.Config.BasePath.
	ReposBasePath string
}

// Engine implements C4's public contract.
type Engine struct {
	cfg    Config
	vault  *vault.Vault
	logger *logging.Logger

	// repoMus serializes concurrent workspace materialization of the same
	// repository, matching repoclone.Cloner's per-path mutex.
	repoMus sync.Map
}

// New builds an Engine bound to a credential vault and workspace config.
func New(cfg Config, v *vault.Vault, logger *logging.Logger) *Engine {
	if cfg.WorkspaceBasePath == "" {
		cfg.WorkspaceBasePath = "workspaces"
	}
	return &Engine{cfg: cfg, vault: v, logger: logger}
}

func (e *Engine) mu(key string) *sync.Mutex {
	m, _ := e.repoMus.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Test probes repo once: no retry, no persistence.
func (e *Engine) Test(ctx context.Context, repo *model.Repository) model.TestResult {
	switch repo.Type {
	case model.RepositoryTypeGit:
		return e.testGit(ctx, repo)
	case model.RepositoryTypeLocal:
		return e.testLocal(repo)
	default:
		return failureResult(errkind.InvalidFormat, "unsupported type")
	}
}

// TestWithRetry wraps Test in the retry engine (C2), then persists
// metadata.lastTestResult/.lastTestDate and, on success, the resolved
// branches/defaultBranch. If the repo's stored branch was absent or
// invalid, it is updated to the resolved actual branch; a branch the user
// already set validly is left untouched.
func (e *Engine) TestWithRetry(ctx context.Context, repo *model.Repository, override *retry.Config) model.TestResult {
	cfg := e.retryConfigFor(repo)
	if override != nil {
		cfg = *override
	}

	result, err := retry.Do(ctx, cfg, func(ctx context.Context) (model.TestResult, error) {
		r := e.Test(ctx, repo)
		if !r.Success {
			return r, fmt.Errorf("%s", r.Details.RawError)
		}
		return r, nil
	})

	var final model.TestResult
	if err != nil {
		if rerr, ok := err.(*retry.Error); ok {
			final = model.TestResult{
				Success: false,
				Message: errkind.Message(rerr.Kind),
				Timestamp: time.Now(),
				// Attempts includes the initial attempt; retryCount counts
				// only the attempts after it, so a single-attempt (never
				// retried) failure reports 0 (§8: "non-retryable error
				// records 0 retries").
				RetryCount: len(rerr.Attempts) - 1,
				Retries:    rerr.Attempts,
				Details:    model.TestResultDetails{ErrorKind: string(rerr.Kind), RawError: rerr.Err.Error()},
			}
		} else {
			final = failureResult(errkind.Unknown, err.Error())
		}
	} else {
		final = result
		// Per spec §8 scenario 2: a result reached only after retries
		// still reports retryCount=0 — only the failure path carries
		// attempt history.
		final.RetryCount = 0
		final.Retries = nil
	}

	final.Timestamp = time.Now()
	repo.Metadata.LastTestResult = &final
	repo.Metadata.LastTestDate = final.Timestamp

	if final.Success {
		repo.Metadata.AvailableBranches = final.Details.Branches
		repo.Metadata.DefaultBranch = final.Details.DefaultBranch
		if repo.Branch == "" || !branch.Validate(repo.Branch, final.Details.Branches).IsValid {
			repo.Branch = final.Details.ActualBranch
		}
	}

	return final
}

// Branches returns cached branches when the last test succeeded within the
// cache TTL; otherwise it re-probes, falling back to any cached list on
// failure.
func (e *Engine) Branches(ctx context.Context, repo *model.Repository) ([]string, string, error) {
	if repo.Metadata.LastTestResult != nil && repo.Metadata.LastTestResult.Success &&
		time.Since(repo.Metadata.LastTestDate) < branchCacheTTL {
		return repo.Metadata.AvailableBranches, repo.Metadata.DefaultBranch, nil
	}

	result := e.TestWithRetry(ctx, repo, nil)
	if !result.Success {
		if len(repo.Metadata.AvailableBranches) > 0 {
			return repo.Metadata.AvailableBranches, repo.Metadata.DefaultBranch, nil
		}
		return nil, "", fmt.Errorf("%s", result.Message)
	}
	return result.Details.Branches, result.Details.DefaultBranch, nil
}

// CreateWorkspace allocates workspaces/workspace-<workerId>-<epochMillis>
// and populates it: clone for git, copy for local.
func (e *Engine) CreateWorkspace(ctx context.Context, repo *model.Repository, workerID string) (string, error) {
	dir := fmt.Sprintf("workspace-%s-%d", workerID, time.Now().UnixMilli())
	path := filepath.Join(e.cfg.WorkspaceBasePath, dir)

	m := e.mu(repo.ID)
	m.Lock()
	defer m.Unlock()

	switch repo.Type {
	case model.RepositoryTypeGit:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("create workspace parent: %w", err)
		}
		url, env, err := e.cloneURLAndEnv(repo)
		if err != nil {
			return "", err
		}
		branchName := repo.Branch
		if branchName == "" {
			branchName = "main"
		}
		cmd := exec.CommandContext(ctx, "git", "clone", "--branch", branchName, url, path)
		cmd.Env = append(os.Environ(), env...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return "", fmt.Errorf("git clone failed: %s: %w", string(out), err)
		}
		return path, nil
	case model.RepositoryTypeLocal:
		if err := copyTree(repo.LocalPath, path); err != nil {
			return "", err
		}
		return path, nil
	default:
		return "", fmt.Errorf("unsupported type")
	}
}

func (e *Engine) retryConfigFor(repo *model.Repository) retry.Config {
	cfg := retry.DefaultConfig()
	if repo.Settings.RetryCount > 0 {
		cfg.MaxAttempts = repo.Settings.RetryCount
	}
	if repo.Settings.ConnectionTimeout > 0 {
		cfg.TotalTimeout = time.Duration(repo.Settings.ConnectionTimeout) * time.Millisecond
	}
	return cfg
}

func (e *Engine) connectionTimeout(repo *model.Repository) time.Duration {
	if repo.Settings.ConnectionTimeout > 0 {
		return time.Duration(repo.Settings.ConnectionTimeout) * time.Millisecond
	}
	return 10 * time.Second
}

// testGit constructs an in-memory credentialed URL, disables interactive
// auth prompts via environment, and probes with a bounded-timeout
// `git ls-remote`.
func (e *Engine) testGit(ctx context.Context, repo *model.Repository) model.TestResult {
	url, env, err := e.cloneURLAndEnv(repo)
	if err != nil {
		kind := errkind.Classify(err.Error())
		return failureResult(kind, err.Error())
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.connectionTimeout(repo))
	defer cancel()

	cmd := exec.CommandContext(probeCtx, "git", "ls-remote", "--heads", url)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := string(out)
		if msg == "" {
			msg = err.Error()
		}
		kind := errkind.Classify(msg)
		return failureResult(kind, msg)
	}

	branches := branch.ParseBranches(string(out))
	def := branch.DefaultBranch(branches)
	actual, _ := branch.OptimalBranch(repo.Branch, branches)
	validation := branch.Validate(repo.Branch, branches)

	return model.TestResult{
		Success: true,
		Message: "connection successful",
		Details: model.TestResultDetails{
			Branches:         branches,
			DefaultBranch:    def,
			ActualBranch:     actual,
			BranchValidation: &validation,
			IsGitRepo:        true,
		},
	}
}

func (e *Engine) testLocal(repo *model.Repository) model.TestResult {
	info, err := os.Stat(repo.LocalPath)
	if err != nil || !info.IsDir() {
		return failureResult(errkind.NotFound, "path not accessible")
	}
	_, gitErr := os.Stat(filepath.Join(repo.LocalPath, ".git"))
	return model.TestResult{
		Success: true,
		Message: "path accessible",
		Details: model.TestResultDetails{IsGitRepo: gitErr == nil},
	}
}

// cloneURLAndEnv builds the credentialed clone URL (in-memory only, never
// logged) and the environment variables that disable interactive auth
// prompts. SSH is rejected with invalid_format: only HTTPS credentials are
// supported.
func (e *Engine) cloneURLAndEnv(repo *model.Repository) (string, []string, error) {
	url := repo.URL
	env := []string{
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=/bin/true",
		"GCM_INTERACTIVE=never",
	}

	if repo.EncryptedCredentials == "" {
		return url, env, nil
	}
	if strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "ssh://") {
		return "", nil, fmt.Errorf("invalid format: ssh credentials are not supported")
	}

	plaintext, err := e.vault.Decrypt(repo.EncryptedCredentials)
	if err != nil {
		return "", nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	username, password := vault.SplitCredential(plaintext)

	trimmed := strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	credentialed := fmt.Sprintf("https://%s:%s@%s", username, password, trimmed)
	return credentialed, env, nil
}

func failureResult(kind errkind.Kind, raw string) model.TestResult {
	return model.TestResult{
		Success: false,
		Message: errkind.Message(kind),
		Details: model.TestResultDetails{ErrorKind: string(kind), RawError: raw},
	}
}

// copyTree copies a local source tree into dst, used for "local" repository
// workspaces.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
