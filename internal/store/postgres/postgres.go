// Package postgres is the reference PostgreSQL implementation of the C11
// persistence contracts, used when HUB_DATABASE_DRIVER=postgres.
//
// Grounded on the same internal/github.Store shape as internal/store/sqlite,
// adapted to pgx's positional placeholders and native JSONB/TIMESTAMPTZ
// column types instead of SQLite's TEXT-encoded JSON and DATETIME.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/orchestratorhub/internal/model"
	"github.com/kandev/orchestratorhub/internal/store"
)

const createTablesSQL = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		ai_tool TEXT NOT NULL,
		status TEXT NOT NULL,
		repository_id TEXT NOT NULL DEFAULT '',
		agent_id TEXT NOT NULL DEFAULT '',
		worker_id TEXT NOT NULL DEFAULT '',
		external_session_id TEXT NOT NULL DEFAULT '',
		tool_resume_kind TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		total_tokens BIGINT NOT NULL DEFAULT 0,
		total_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_activity TIMESTAMPTZ NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS repositories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT '',
		encrypted_credentials TEXT NOT NULL DEFAULT '',
		settings JSONB NOT NULL DEFAULT '{}',
		metadata JSONB NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT true,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		max_workers INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		host JSONB NOT NULL DEFAULT '{}',
		tags JSONB NOT NULL DEFAULT '[]',
		allowed_tools JSONB NOT NULL DEFAULT '[]',
		last_heartbeat TIMESTAMPTZ,
		last_validated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGSERIAL PRIMARY KEY,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		timestamp TIMESTAMPTZ NOT NULL,
		context JSONB NOT NULL DEFAULT '{}'
	);
`

// Store is a PostgreSQL-backed store.Store, built on a single pgx pool
// (reader and writer share one *sql.DB since pgx handles pooling itself,
// matching internal/db.OpenPostgres's doc comment).
type Store struct {
	db *sqlx.DB
}

// New wraps a pgx-backed *sql.DB (as produced by internal/db.OpenPostgres)
// and ensures the schema exists.
func New(conn *sql.DB) (*Store, error) {
	s := &Store{db: sqlx.NewDb(conn, "pgx")}
	if _, err := s.db.Exec(createTablesSQL); err != nil {
		return nil, fmt.Errorf("postgres schema init: %w", err)
	}
	return s, nil
}

func (s *Store) Sessions() store.Sessions         { return sessionStore{s} }
func (s *Store) Repositories() store.Repositories { return repositoryStore{s} }
func (s *Store) Agents() store.Agents             { return agentStore{s} }
func (s *Store) AuditLog() store.AuditLog         { return auditStore{s} }

type sessionRow struct {
	ID                string    `db:"id"`
	OwnerUserID       string    `db:"owner_user_id"`
	Name              string    `db:"name"`
	AITool            string    `db:"ai_tool"`
	Status            string    `db:"status"`
	RepositoryID      string    `db:"repository_id"`
	AgentID           string    `db:"agent_id"`
	WorkerID          string    `db:"worker_id"`
	ExternalSessionID string    `db:"external_session_id"`
	ToolResumeKind    string    `db:"tool_resume_kind"`
	MessageCount      int       `db:"message_count"`
	TotalTokens       int64     `db:"total_tokens"`
	TotalCostUSD      float64   `db:"total_cost_usd"`
	LastActivity      time.Time `db:"last_activity"`
	Metadata          []byte    `db:"metadata"`
}

func (r sessionRow) toModel() *model.Session {
	var meta map[string]interface{}
	_ = json.Unmarshal(r.Metadata, &meta)
	return &model.Session{
		ID: r.ID, OwnerUserID: r.OwnerUserID, Name: r.Name, AITool: r.AITool,
		Status: model.SessionStatus(r.Status), RepositoryID: r.RepositoryID,
		AgentID: r.AgentID, WorkerID: r.WorkerID, ExternalSessionID: r.ExternalSessionID,
		ToolResumeKind: r.ToolResumeKind, MessageCount: r.MessageCount,
		TotalTokens: r.TotalTokens, TotalCostUSD: r.TotalCostUSD,
		LastActivity: r.LastActivity, Metadata: meta,
	}
}

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(ctx context.Context, sess *model.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return err
	}
	_, err = ss.s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_user_id, name, ai_tool, status, repository_id, agent_id, worker_id,
			external_session_id, tool_resume_kind, message_count, total_tokens, total_cost_usd, last_activity, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		sess.ID, sess.OwnerUserID, sess.Name, sess.AITool, string(sess.Status), sess.RepositoryID, sess.AgentID,
		sess.WorkerID, sess.ExternalSessionID, sess.ToolResumeKind, sess.MessageCount, sess.TotalTokens,
		sess.TotalCostUSD, sess.LastActivity, meta)
	return err
}

func (ss sessionStore) Update(ctx context.Context, sess *model.Session) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return err
	}
	_, err = ss.s.db.ExecContext(ctx, `
		UPDATE sessions SET owner_user_id=$1, name=$2, ai_tool=$3, status=$4, repository_id=$5, agent_id=$6,
			worker_id=$7, external_session_id=$8, tool_resume_kind=$9, message_count=$10, total_tokens=$11,
			total_cost_usd=$12, last_activity=$13, metadata=$14 WHERE id=$15`,
		sess.OwnerUserID, sess.Name, sess.AITool, string(sess.Status), sess.RepositoryID, sess.AgentID,
		sess.WorkerID, sess.ExternalSessionID, sess.ToolResumeKind, sess.MessageCount, sess.TotalTokens,
		sess.TotalCostUSD, sess.LastActivity, meta, sess.ID)
	return err
}

func (ss sessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	err := ss.s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (ss sessionStore) ListByUser(ctx context.Context, userID string, filter store.SessionFilter, page store.Pagination) (model.Page[*model.Session], error) {
	limit, offset := pageBounds(page)

	clauses := []string{"owner_user_id = $1"}
	args := []interface{}{userID}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.AITool != "" {
		args = append(args, filter.AITool)
		clauses = append(clauses, fmt.Sprintf("ai_tool = $%d", len(args)))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := ss.s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM sessions "+where, args...); err != nil {
		return model.Page[*model.Session]{}, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT * FROM sessions %s ORDER BY last_activity DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args))
	var rows []sessionRow
	if err := ss.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return model.Page[*model.Session]{}, err
	}

	items := make([]*model.Session, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return model.Page[*model.Session]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

func (ss sessionStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = ss.s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, direction, content, metadata, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		msg.ID, msg.SessionID, string(msg.Direction), msg.Content, meta, msg.CreatedAt)
	return err
}

func (ss sessionStore) ListMessages(ctx context.Context, sessionID string, page store.Pagination) (model.Page[*model.Message], error) {
	limit, offset := pageBounds(page)

	var total int
	if err := ss.s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE session_id = $1`, sessionID); err != nil {
		return model.Page[*model.Message]{}, err
	}

	type row struct {
		ID        string    `db:"id"`
		SessionID string    `db:"session_id"`
		Direction string    `db:"direction"`
		Content   string    `db:"content"`
		Metadata  []byte    `db:"metadata"`
		CreatedAt time.Time `db:"created_at"`
	}
	var rows []row
	if err := ss.s.db.SelectContext(ctx, &rows, `
		SELECT * FROM messages WHERE session_id = $1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset); err != nil {
		return model.Page[*model.Message]{}, err
	}

	items := make([]*model.Message, len(rows))
	for i, r := range rows {
		var meta map[string]interface{}
		_ = json.Unmarshal(r.Metadata, &meta)
		items[i] = &model.Message{
			ID: r.ID, SessionID: r.SessionID, Direction: model.MessageDirection(r.Direction),
			Content: r.Content, Metadata: meta, CreatedAt: r.CreatedAt,
		}
	}
	return model.Page[*model.Message]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

type repositoryRow struct {
	ID                   string `db:"id"`
	Name                 string `db:"name"`
	Type                 string `db:"type"`
	URL                  string `db:"url"`
	LocalPath            string `db:"local_path"`
	Branch               string `db:"branch"`
	EncryptedCredentials string `db:"encrypted_credentials"`
	Settings             []byte `db:"settings"`
	Metadata             []byte `db:"metadata"`
}

func (r repositoryRow) toModel() *model.Repository {
	var settings model.RepositorySettings
	var meta model.RepositoryMetadata
	_ = json.Unmarshal(r.Settings, &settings)
	_ = json.Unmarshal(r.Metadata, &meta)
	return &model.Repository{
		ID: r.ID, Name: r.Name, Type: model.RepositoryType(r.Type), URL: r.URL,
		LocalPath: r.LocalPath, Branch: r.Branch, EncryptedCredentials: r.EncryptedCredentials,
		Settings: settings, Metadata: meta,
	}
}

type repositoryStore struct{ s *Store }

func (rs repositoryStore) Create(ctx context.Context, r *model.Repository) error {
	settings, _ := json.Marshal(r.Settings)
	meta, _ := json.Marshal(r.Metadata)
	_, err := rs.s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, type, url, local_path, branch, encrypted_credentials, settings, metadata, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())`,
		r.ID, r.Name, string(r.Type), r.URL, r.LocalPath, r.Branch, r.EncryptedCredentials, settings, meta)
	return err
}

func (rs repositoryStore) Update(ctx context.Context, r *model.Repository) error {
	settings, _ := json.Marshal(r.Settings)
	meta, _ := json.Marshal(r.Metadata)
	_, err := rs.s.db.ExecContext(ctx, `
		UPDATE repositories SET name=$1, type=$2, url=$3, local_path=$4, branch=$5, encrypted_credentials=$6,
			settings=$7, metadata=$8, updated_at=now() WHERE id=$9`,
		r.Name, string(r.Type), r.URL, r.LocalPath, r.Branch, r.EncryptedCredentials, settings, meta, r.ID)
	return err
}

func (rs repositoryStore) UpdateMetadata(ctx context.Context, id string, meta model.RepositoryMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = rs.s.db.ExecContext(ctx, `UPDATE repositories SET metadata=$1, updated_at=now() WHERE id=$2`, data, id)
	return err
}

func (rs repositoryStore) FindByID(ctx context.Context, id string) (*model.Repository, error) {
	var row repositoryRow
	err := rs.s.db.GetContext(ctx, &row, `SELECT * FROM repositories WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (rs repositoryStore) Delete(ctx context.Context, id string) error {
	_, err := rs.s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = $1`, id)
	return err
}

func (rs repositoryStore) Search(ctx context.Context, filter store.RepositoryFilter, page store.Pagination) (model.Page[*model.Repository], error) {
	limit, offset := pageBounds(page)

	clauses := []string{"1=1"}
	var args []interface{}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		clauses = append(clauses, fmt.Sprintf("(name ILIKE $%d OR url ILIKE $%d)", len(args), len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		clauses = append(clauses, fmt.Sprintf("enabled = $%d", len(args)))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := rs.s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM repositories "+where, args...); err != nil {
		return model.Page[*model.Repository]{}, err
	}

	orderBy := "updated_at DESC"
	switch filter.SortBy {
	case "name":
		orderBy = "name ASC"
	case "type":
		orderBy = "type ASC"
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT * FROM repositories %s ORDER BY %s LIMIT $%d OFFSET $%d",
		where, orderBy, len(args)-1, len(args))
	var rows []repositoryRow
	if err := rs.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return model.Page[*model.Repository]{}, err
	}

	items := make([]*model.Repository, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return model.Page[*model.Repository]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

type agentRow struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	Secret          string     `db:"secret"`
	MaxWorkers      int        `db:"max_workers"`
	Status          string     `db:"status"`
	Host            []byte     `db:"host"`
	Tags            []byte     `db:"tags"`
	AllowedTools    []byte     `db:"allowed_tools"`
	LastHeartbeat   *time.Time `db:"last_heartbeat"`
	LastValidatedAt *time.Time `db:"last_validated_at"`
}

func (r agentRow) toModel() *model.Agent {
	var host model.HostDescriptor
	var tags, allowed []string
	_ = json.Unmarshal(r.Host, &host)
	_ = json.Unmarshal(r.Tags, &tags)
	_ = json.Unmarshal(r.AllowedTools, &allowed)
	a := &model.Agent{
		ID: r.ID, Name: r.Name, Secret: r.Secret, MaxWorkers: r.MaxWorkers,
		Status: model.AgentStatus(r.Status), Host: host, Tags: tags, AllowedTools: allowed,
	}
	if r.LastHeartbeat != nil {
		a.LastHeartbeat = *r.LastHeartbeat
	}
	if r.LastValidatedAt != nil {
		a.LastValidatedAt = *r.LastValidatedAt
	}
	return a
}

type agentStore struct{ s *Store }

func (as agentStore) Create(ctx context.Context, a *model.Agent) error {
	host, _ := json.Marshal(a.Host)
	tags, _ := json.Marshal(a.Tags)
	allowed, _ := json.Marshal(a.AllowedTools)
	_, err := as.s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, secret, max_workers, status, host, tags, allowed_tools, last_heartbeat, last_validated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.Name, a.Secret, a.MaxWorkers, string(a.Status), host, tags, allowed,
		nullableTime(a.LastHeartbeat), nullableTime(a.LastValidatedAt))
	return err
}

func (as agentStore) Update(ctx context.Context, a *model.Agent) error {
	host, _ := json.Marshal(a.Host)
	tags, _ := json.Marshal(a.Tags)
	allowed, _ := json.Marshal(a.AllowedTools)
	_, err := as.s.db.ExecContext(ctx, `
		UPDATE agents SET name=$1, secret=$2, max_workers=$3, status=$4, host=$5, tags=$6, allowed_tools=$7,
			last_heartbeat=$8, last_validated_at=$9 WHERE id=$10`,
		a.Name, a.Secret, a.MaxWorkers, string(a.Status), host, tags, allowed,
		nullableTime(a.LastHeartbeat), nullableTime(a.LastValidatedAt), a.ID)
	return err
}

func (as agentStore) UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error {
	_, err := as.s.db.ExecContext(ctx, `UPDATE agents SET status=$1 WHERE id=$2`, string(status), id)
	return err
}

func (as agentStore) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	var row agentRow
	err := as.s.db.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (as agentStore) ListByFilter(ctx context.Context, filter store.AgentFilter, page store.Pagination) (model.Page[*model.Agent], error) {
	limit, offset := pageBounds(page)

	clauses := []string{"1=1"}
	var args []interface{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Tag != "" {
		args = append(args, "%\""+filter.Tag+"\"%")
		clauses = append(clauses, fmt.Sprintf("tags::text LIKE $%d", len(args)))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := as.s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM agents "+where, args...); err != nil {
		return model.Page[*model.Agent]{}, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf("SELECT * FROM agents %s ORDER BY id LIMIT $%d OFFSET $%d", where, len(args)-1, len(args))
	var rows []agentRow
	if err := as.s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return model.Page[*model.Agent]{}, err
	}

	items := make([]*model.Agent, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return model.Page[*model.Agent]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

type auditStore struct{ s *Store }

func (au auditStore) Append(ctx context.Context, entry store.AuditEntry) error {
	data, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	_, err = au.s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, resource_id, timestamp, context) VALUES ($1,$2,$3,$4,$5)`,
		entry.Actor, entry.Action, entry.ResourceID, entry.Timestamp, data)
	return err
}

func pageBounds(page store.Pagination) (limit, offset int) {
	limit = page.Limit
	if limit <= 0 {
		limit = 50
	}
	pageNum := page.Page
	if pageNum <= 0 {
		pageNum = 1
	}
	return limit, (pageNum - 1) * limit
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
