// Package sqlite is the reference SQLite implementation of the C11
// persistence contracts, the default when HUB_DATABASE_DRIVER=sqlite.
//
// Grounded directly on internal/github.Store: the same writer/reader
// sqlx.DB split from internal/db, the same createTablesSQL-on-NewStore
// schema initialization, and the same GetContext/SelectContext query
// style, applied to sessions/messages/repositories/agents instead of
// GitHub PR watches.
package sqlite

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
		total_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost_usd REAL NOT NULL DEFAULT 0,
		last_activity DATETIME NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
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
		settings TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}',
		enabled BOOLEAN NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		secret TEXT NOT NULL DEFAULT '',
		max_workers INTEGER NOT NULL DEFAULT 1,
		status TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		last_heartbeat DATETIME,
		last_validated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_id TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		context TEXT NOT NULL DEFAULT '{}'
	);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

// New wraps writer/reader *sql.DB connections (as produced by
// internal/db.OpenSQLite / OpenSQLiteReader) and ensures the schema exists.
func New(writer, reader *sql.DB) (*Store, error) {
	s := &Store{
		db: sqlx.NewDb(writer, "sqlite3"),
		ro: sqlx.NewDb(reader, "sqlite3"),
	}
	if _, err := s.db.Exec(createTablesSQL); err != nil {
		return nil, fmt.Errorf("sqlite schema init: %w", err)
	}
	return s, nil
}

func (s *Store) Sessions() store.Sessions         { return sessionStore{s} }
func (s *Store) Repositories() store.Repositories { return repositoryStore{s} }
func (s *Store) Agents() store.Agents             { return agentStore{s} }
func (s *Store) AuditLog() store.AuditLog         { return auditStore{s} }

// --- row shapes ---------------------------------------------------------

type sessionRow struct {
	ID                 string    `db:"id"`
	OwnerUserID        string    `db:"owner_user_id"`
	Name               string    `db:"name"`
	AITool             string    `db:"ai_tool"`
	Status             string    `db:"status"`
	RepositoryID       string    `db:"repository_id"`
	AgentID            string    `db:"agent_id"`
	WorkerID           string    `db:"worker_id"`
	ExternalSessionID  string    `db:"external_session_id"`
	ToolResumeKind     string    `db:"tool_resume_kind"`
	MessageCount       int       `db:"message_count"`
	TotalTokens        int64     `db:"total_tokens"`
	TotalCostUSD       float64   `db:"total_cost_usd"`
	LastActivity       time.Time `db:"last_activity"`
	Metadata           string    `db:"metadata"`
}

func (r sessionRow) toModel() *model.Session {
	var meta map[string]interface{}
	_ = json.Unmarshal([]byte(r.Metadata), &meta)
	return &model.Session{
		ID: r.ID, OwnerUserID: r.OwnerUserID, Name: r.Name, AITool: r.AITool,
		Status: model.SessionStatus(r.Status), RepositoryID: r.RepositoryID,
		AgentID: r.AgentID, WorkerID: r.WorkerID, ExternalSessionID: r.ExternalSessionID,
		ToolResumeKind: r.ToolResumeKind, MessageCount: r.MessageCount,
		TotalTokens: r.TotalTokens, TotalCostUSD: r.TotalCostUSD,
		LastActivity: r.LastActivity, Metadata: meta,
	}
}

func fromSession(sess *model.Session) (sessionRow, error) {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return sessionRow{}, err
	}
	if len(meta) == 0 {
		meta = []byte("{}")
	}
	return sessionRow{
		ID: sess.ID, OwnerUserID: sess.OwnerUserID, Name: sess.Name, AITool: sess.AITool,
		Status: string(sess.Status), RepositoryID: sess.RepositoryID, AgentID: sess.AgentID,
		WorkerID: sess.WorkerID, ExternalSessionID: sess.ExternalSessionID,
		ToolResumeKind: sess.ToolResumeKind, MessageCount: sess.MessageCount,
		TotalTokens: sess.TotalTokens, TotalCostUSD: sess.TotalCostUSD,
		LastActivity: sess.LastActivity, Metadata: string(meta),
	}, nil
}

// --- sessions ---------------------------------------------------------

type sessionStore struct{ s *Store }

func (ss sessionStore) Create(ctx context.Context, sess *model.Session) error {
	row, err := fromSession(sess)
	if err != nil {
		return err
	}
	_, err = ss.s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_user_id, name, ai_tool, status, repository_id, agent_id, worker_id,
			external_session_id, tool_resume_kind, message_count, total_tokens, total_cost_usd, last_activity, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.OwnerUserID, row.Name, row.AITool, row.Status, row.RepositoryID, row.AgentID, row.WorkerID,
		row.ExternalSessionID, row.ToolResumeKind, row.MessageCount, row.TotalTokens, row.TotalCostUSD, row.LastActivity, row.Metadata)
	return err
}

func (ss sessionStore) Update(ctx context.Context, sess *model.Session) error {
	row, err := fromSession(sess)
	if err != nil {
		return err
	}
	_, err = ss.s.db.ExecContext(ctx, `
		UPDATE sessions SET owner_user_id=?, name=?, ai_tool=?, status=?, repository_id=?, agent_id=?, worker_id=?,
			external_session_id=?, tool_resume_kind=?, message_count=?, total_tokens=?, total_cost_usd=?,
			last_activity=?, metadata=? WHERE id=?`,
		row.OwnerUserID, row.Name, row.AITool, row.Status, row.RepositoryID, row.AgentID, row.WorkerID,
		row.ExternalSessionID, row.ToolResumeKind, row.MessageCount, row.TotalTokens, row.TotalCostUSD,
		row.LastActivity, row.Metadata, row.ID)
	return err
}

func (ss sessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var row sessionRow
	err := ss.s.ro.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
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

	query := "SELECT * FROM sessions WHERE owner_user_id = ?"
	countQuery := "SELECT COUNT(*) FROM sessions WHERE owner_user_id = ?"
	args := []interface{}{userID}
	if filter.Status != "" {
		query += " AND status = ?"
		countQuery += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.AITool != "" {
		query += " AND ai_tool = ?"
		countQuery += " AND ai_tool = ?"
		args = append(args, filter.AITool)
	}
	query += " ORDER BY last_activity DESC LIMIT ? OFFSET ?"

	var total int
	if err := ss.s.ro.GetContext(ctx, &total, countQuery, args...); err != nil {
		return model.Page[*model.Session]{}, err
	}

	var rows []sessionRow
	if err := ss.s.ro.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
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
		INSERT INTO messages (id, session_id, direction, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Direction), msg.Content, string(meta), msg.CreatedAt)
	return err
}

func (ss sessionStore) ListMessages(ctx context.Context, sessionID string, page store.Pagination) (model.Page[*model.Message], error) {
	limit, offset := pageBounds(page)

	var total int
	if err := ss.s.ro.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return model.Page[*model.Message]{}, err
	}

	type row struct {
		ID        string    `db:"id"`
		SessionID string    `db:"session_id"`
		Direction string    `db:"direction"`
		Content   string    `db:"content"`
		Metadata  string    `db:"metadata"`
		CreatedAt time.Time `db:"created_at"`
	}
	var rows []row
	if err := ss.s.ro.SelectContext(ctx, &rows, `
		SELECT * FROM messages WHERE session_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`,
		sessionID, limit, offset); err != nil {
		return model.Page[*model.Message]{}, err
	}

	items := make([]*model.Message, len(rows))
	for i, r := range rows {
		var meta map[string]interface{}
		_ = json.Unmarshal([]byte(r.Metadata), &meta)
		items[i] = &model.Message{
			ID: r.ID, SessionID: r.SessionID, Direction: model.MessageDirection(r.Direction),
			Content: r.Content, Metadata: meta, CreatedAt: r.CreatedAt,
		}
	}
	return model.Page[*model.Message]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

// --- repositories -------------------------------------------------------

type repositoryStore struct{ s *Store }

type repositoryRow struct {
	ID                   string `db:"id"`
	Name                 string `db:"name"`
	Type                 string `db:"type"`
	URL                  string `db:"url"`
	LocalPath            string `db:"local_path"`
	Branch               string `db:"branch"`
	EncryptedCredentials string `db:"encrypted_credentials"`
	Settings             string `db:"settings"`
	Metadata             string `db:"metadata"`
	Enabled              bool   `db:"enabled"`
}

func (r repositoryRow) toModel() *model.Repository {
	var settings model.RepositorySettings
	var meta model.RepositoryMetadata
	_ = json.Unmarshal([]byte(r.Settings), &settings)
	_ = json.Unmarshal([]byte(r.Metadata), &meta)
	return &model.Repository{
		ID: r.ID, Name: r.Name, Type: model.RepositoryType(r.Type), URL: r.URL,
		LocalPath: r.LocalPath, Branch: r.Branch, EncryptedCredentials: r.EncryptedCredentials,
		Settings: settings, Metadata: meta,
	}
}

func (rs repositoryStore) Create(ctx context.Context, r *model.Repository) error {
	settings, _ := json.Marshal(r.Settings)
	meta, _ := json.Marshal(r.Metadata)
	_, err := rs.s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, type, url, local_path, branch, encrypted_credentials, settings, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`,
		r.ID, r.Name, string(r.Type), r.URL, r.LocalPath, r.Branch, r.EncryptedCredentials, string(settings), string(meta))
	return err
}

func (rs repositoryStore) Update(ctx context.Context, r *model.Repository) error {
	settings, _ := json.Marshal(r.Settings)
	meta, _ := json.Marshal(r.Metadata)
	_, err := rs.s.db.ExecContext(ctx, `
		UPDATE repositories SET name=?, type=?, url=?, local_path=?, branch=?, encrypted_credentials=?,
			settings=?, metadata=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`,
		r.Name, string(r.Type), r.URL, r.LocalPath, r.Branch, r.EncryptedCredentials, string(settings), string(meta), r.ID)
	return err
}

func (rs repositoryStore) UpdateMetadata(ctx context.Context, id string, meta model.RepositoryMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = rs.s.db.ExecContext(ctx, `UPDATE repositories SET metadata=?, updated_at=CURRENT_TIMESTAMP WHERE id=?`, string(data), id)
	return err
}

func (rs repositoryStore) FindByID(ctx context.Context, id string) (*model.Repository, error) {
	var row repositoryRow
	err := rs.s.ro.GetContext(ctx, &row, `SELECT * FROM repositories WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

func (rs repositoryStore) Delete(ctx context.Context, id string) error {
	_, err := rs.s.db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	return err
}

func (rs repositoryStore) Search(ctx context.Context, filter store.RepositoryFilter, page store.Pagination) (model.Page[*model.Repository], error) {
	limit, offset := pageBounds(page)

	query := strings.Builder{}
	countQuery := strings.Builder{}
	query.WriteString("SELECT * FROM repositories WHERE 1=1")
	countQuery.WriteString("SELECT COUNT(*) FROM repositories WHERE 1=1")
	var args []interface{}

	if filter.Query != "" {
		query.WriteString(" AND (name LIKE ? OR url LIKE ?)")
		countQuery.WriteString(" AND (name LIKE ? OR url LIKE ?)")
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}
	if filter.Type != "" {
		query.WriteString(" AND type = ?")
		countQuery.WriteString(" AND type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Enabled != nil {
		query.WriteString(" AND enabled = ?")
		countQuery.WriteString(" AND enabled = ?")
		args = append(args, *filter.Enabled)
	}

	var total int
	if err := rs.s.ro.GetContext(ctx, &total, countQuery.String(), args...); err != nil {
		return model.Page[*model.Repository]{}, err
	}

	orderBy := "updated_at DESC"
	switch filter.SortBy {
	case "name":
		orderBy = "name ASC"
	case "type":
		orderBy = "type ASC"
	}
	query.WriteString(" ORDER BY " + orderBy + " LIMIT ? OFFSET ?")

	var rows []repositoryRow
	if err := rs.s.ro.SelectContext(ctx, &rows, query.String(), append(args, limit, offset)...); err != nil {
		return model.Page[*model.Repository]{}, err
	}

	items := make([]*model.Repository, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return model.Page[*model.Repository]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

// --- agents ---------------------------------------------------------

type agentStore struct{ s *Store }

type agentRow struct {
	ID              string     `db:"id"`
	Name            string     `db:"name"`
	Secret          string     `db:"secret"`
	MaxWorkers      int        `db:"max_workers"`
	Status          string     `db:"status"`
	Host            string     `db:"host"`
	Tags            string     `db:"tags"`
	AllowedTools    string     `db:"allowed_tools"`
	LastHeartbeat   *time.Time `db:"last_heartbeat"`
	LastValidatedAt *time.Time `db:"last_validated_at"`
}

func (r agentRow) toModel() *model.Agent {
	var host model.HostDescriptor
	var tags, allowed []string
	_ = json.Unmarshal([]byte(r.Host), &host)
	_ = json.Unmarshal([]byte(r.Tags), &tags)
	_ = json.Unmarshal([]byte(r.AllowedTools), &allowed)
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

func (as agentStore) Create(ctx context.Context, a *model.Agent) error {
	host, _ := json.Marshal(a.Host)
	tags, _ := json.Marshal(a.Tags)
	allowed, _ := json.Marshal(a.AllowedTools)
	_, err := as.s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, secret, max_workers, status, host, tags, allowed_tools, last_heartbeat, last_validated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Secret, a.MaxWorkers, string(a.Status), string(host), string(tags), string(allowed),
		nullableTime(a.LastHeartbeat), nullableTime(a.LastValidatedAt))
	return err
}

func (as agentStore) Update(ctx context.Context, a *model.Agent) error {
	host, _ := json.Marshal(a.Host)
	tags, _ := json.Marshal(a.Tags)
	allowed, _ := json.Marshal(a.AllowedTools)
	_, err := as.s.db.ExecContext(ctx, `
		UPDATE agents SET name=?, secret=?, max_workers=?, status=?, host=?, tags=?, allowed_tools=?,
			last_heartbeat=?, last_validated_at=? WHERE id=?`,
		a.Name, a.Secret, a.MaxWorkers, string(a.Status), string(host), string(tags), string(allowed),
		nullableTime(a.LastHeartbeat), nullableTime(a.LastValidatedAt), a.ID)
	return err
}

func (as agentStore) UpdateStatus(ctx context.Context, id string, status model.AgentStatus) error {
	_, err := as.s.db.ExecContext(ctx, `UPDATE agents SET status=? WHERE id=?`, string(status), id)
	return err
}

func (as agentStore) FindByID(ctx context.Context, id string) (*model.Agent, error) {
	var row agentRow
	err := as.s.ro.GetContext(ctx, &row, `SELECT * FROM agents WHERE id = ?`, id)
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

	query := "SELECT * FROM agents WHERE 1=1"
	countQuery := "SELECT COUNT(*) FROM agents WHERE 1=1"
	var args []interface{}
	if filter.Status != "" {
		query += " AND status = ?"
		countQuery += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Tag != "" {
		query += " AND tags LIKE ?"
		countQuery += " AND tags LIKE ?"
		args = append(args, "%\""+filter.Tag+"\"%")
	}
	query += " ORDER BY id LIMIT ? OFFSET ?"

	var total int
	if err := as.s.ro.GetContext(ctx, &total, countQuery, args...); err != nil {
		return model.Page[*model.Agent]{}, err
	}

	var rows []agentRow
	if err := as.s.ro.SelectContext(ctx, &rows, query, append(args, limit, offset)...); err != nil {
		return model.Page[*model.Agent]{}, err
	}

	items := make([]*model.Agent, len(rows))
	for i, r := range rows {
		items[i] = r.toModel()
	}
	return model.Page[*model.Agent]{Items: items, Total: total, Page: page.Page, Limit: limit}, nil
}

// --- audit ---------------------------------------------------------

type auditStore struct{ s *Store }

func (au auditStore) Append(ctx context.Context, entry store.AuditEntry) error {
	data, err := json.Marshal(entry.Context)
	if err != nil {
		return err
	}
	_, err = au.s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, resource_id, timestamp, context) VALUES (?, ?, ?, ?, ?)`,
		entry.Actor, entry.Action, entry.ResourceID, entry.Timestamp, string(data))
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
