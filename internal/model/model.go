// Package model holds the data types shared across the orchestration hub:
// agents, sessions, messages, repositories and their test results.
package model

import "time"

// AgentStatus is the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusConnected AgentStatus = "connected"
	AgentStatusOffline   AgentStatus = "offline"
)

// HostDescriptor describes the machine an agent runs on.
type HostDescriptor struct {
	Platform  string            `json:"platform"`
	Resources map[string]string `json:"resources,omitempty"`
}

// Agent is a remote process that exposes a host's local CLI tools to the hub.
type Agent struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Secret           string          `json:"-"`
	MaxWorkers       int             `json:"maxWorkers"`
	Status           AgentStatus     `json:"status"`
	Host             HostDescriptor  `json:"host"`
	Tags             []string        `json:"tags,omitempty"`
	AllowedTools     []string        `json:"allowedTools"`
	LastHeartbeat    time.Time       `json:"lastHeartbeat,omitempty"`
	LastValidatedAt  time.Time       `json:"lastValidatedAt,omitempty"`
}

// HasCapacity returns true if the agent can accept another worker, given
// its current number of live workers.
func (a *Agent) HasCapacity(liveWorkers int) bool {
	return liveWorkers < a.MaxWorkers
}

// AllowsTool reports whether the agent is permitted to run the given AI tool kind.
func (a *Agent) AllowsTool(tool string) bool {
	for _, t := range a.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusArchived  SessionStatus = "archived"
)

// Session is the user-facing unit of work pairing a repository with an AI tool.
type Session struct {
	ID                 string                 `json:"id"`
	OwnerUserID        string                 `json:"ownerUserId"`
	Name               string                 `json:"name"`
	AITool             string                 `json:"aiTool"`
	Status             SessionStatus          `json:"status"`
	RepositoryID       string                 `json:"repositoryId"`
	AgentID            string                 `json:"agentId,omitempty"`
	WorkerID           string                 `json:"workerId,omitempty"`
	ExternalSessionID  string                 `json:"externalSessionId,omitempty"`
	ToolResumeKind     string                 `json:"toolResumeKind,omitempty"`
	MessageCount       int                    `json:"messageCount"`
	TotalTokens        int64                  `json:"totalTokens"`
	TotalCostUSD       float64                `json:"totalCostUsd"`
	LastActivity       time.Time              `json:"lastActivity"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// HasLiveWorker reports whether the session currently owns an assigned worker.
func (s *Session) HasLiveWorker() bool {
	return s.AgentID != "" && s.WorkerID != ""
}

// IsResumable reports whether the session can be restarted on any agent.
func (s *Session) IsResumable() bool {
	return s.ExternalSessionID != ""
}

// MessageDirection identifies who produced a message.
type MessageDirection string

const (
	MessageDirectionUser      MessageDirection = "user"
	MessageDirectionAssistant MessageDirection = "assistant"
	MessageDirectionSystem    MessageDirection = "system"
)

// Message is one append-only entry in a session's log.
type Message struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"sessionId"`
	Direction MessageDirection       `json:"direction"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// RepositoryType is the kind of source control a Repository wraps.
type RepositoryType string

const (
	RepositoryTypeGit   RepositoryType = "git"
	RepositoryTypeLocal RepositoryType = "local"
	RepositoryTypeSVN   RepositoryType = "svn"
)

// RepositorySettings holds the recognized, user-tunable §6 settings keys.
type RepositorySettings struct {
	RetryCount        int  `json:"retryCount,omitempty"`
	ConnectionTimeout int  `json:"connectionTimeout,omitempty"` // milliseconds
	AutoUpdate        bool `json:"autoUpdate,omitempty"`
}

// RepositoryMetadata holds the server-managed §6 metadata keys.
type RepositoryMetadata struct {
	LastTestDate      time.Time  `json:"lastTestDate,omitempty"`
	LastTestResult    *TestResult `json:"lastTestResult,omitempty"`
	AvailableBranches []string   `json:"availableBranches,omitempty"`
	DefaultBranch     string     `json:"defaultBranch,omitempty"`
}

// Repository is a source repository bound to zero or more sessions.
type Repository struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Type                RepositoryType      `json:"type"`
	URL                 string              `json:"url,omitempty"`
	LocalPath           string              `json:"localPath,omitempty"`
	Branch              string              `json:"branch,omitempty"`
	EncryptedCredentials string             `json:"-"`
	Settings            RepositorySettings  `json:"settings"`
	Metadata            RepositoryMetadata  `json:"metadata"`
}

// RetryAttempt records one failed attempt made by the retry engine.
type RetryAttempt struct {
	AttemptIndex int           `json:"attemptIndex"`
	ErrorMessage string        `json:"errorMessage"`
	Elapsed      time.Duration `json:"elapsed"`
	Timestamp    time.Time     `json:"timestamp"`
}

// TestResultDetails carries either failure details (ErrorKind) or success
// details (branch discovery), never both.
type TestResultDetails struct {
	ErrorKind        string   `json:"errorKind,omitempty"`
	Branches         []string `json:"branches,omitempty"`
	DefaultBranch    string   `json:"defaultBranch,omitempty"`
	ActualBranch     string   `json:"actualBranch,omitempty"`
	BranchValidation *BranchValidation `json:"branchValidation,omitempty"`
	IsGitRepo        bool     `json:"isGitRepo,omitempty"`
	RawError         string   `json:"error,omitempty"`
}

// TestResult is the outcome of probing a repository.
type TestResult struct {
	Success    bool               `json:"success"`
	Message    string             `json:"message"`
	Timestamp  time.Time          `json:"timestamp"`
	RetryCount int                `json:"retryCount"`
	Retries    []RetryAttempt     `json:"retries,omitempty"`
	Details    TestResultDetails  `json:"details"`
}

// BranchValidation is the result of checking a requested branch against a
// remote's advertised branches.
type BranchValidation struct {
	IsValid           bool     `json:"isValid"`
	Message           string   `json:"message"`
	SuggestedBranch   string   `json:"suggestedBranch,omitempty"`
	AvailableBranches []string `json:"availableBranches"`
}

// Pagination is the shared request/response envelope for list operations.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// Page is a generic paginated result envelope.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}
