package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/conclave-run/conclave/internal/domain"
)

// PostgresConfig tunes the connection pool backing PostgresStore. Field
// names and defaults mirror nexus's Cockroach store config.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane pool defaults for a single-instance
// deployment.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// PostgresStore is a database/sql-backed Store using lib/pq. Tables are
// created by the operator's migration tooling; this type only issues DML.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a pooled connection to dsn and verifies
// connectivity before returning.
func NewPostgresStore(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sessions: dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sessions: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sessions: ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return domain.NewValidationError("session", "required")
	}
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, type, title, system_prompt, model_alias, temperature,
			max_output_tokens, context_window, status, message_count, total_tokens, total_cost_micros,
			metadata, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		session.ID, session.AgentID, session.Type, session.Title, session.SystemPrompt,
		session.ModelAlias, session.Temperature, session.MaxOutputTokens, session.ContextWindow,
		session.Status, session.MessageCount, session.TotalTokens, session.TotalCostMicros,
		meta, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, type, title, system_prompt, model_alias, temperature,
			max_output_tokens, context_window, status, message_count, total_tokens, total_cost_micros,
			metadata, created_at, updated_at, ended_at
		 FROM sessions WHERE id = $1`, id)

	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewSessionError(domain.SessionNotFound, id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, session *domain.Session) error {
	meta, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("sessions: marshal metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title=$2, system_prompt=$3, model_alias=$4, temperature=$5,
			max_output_tokens=$6, context_window=$7, status=$8, message_count=$9,
			total_tokens=$10, total_cost_micros=$11, metadata=$12, updated_at=$13
		 WHERE id=$1`,
		session.ID, session.Title, session.SystemPrompt, session.ModelAlias, session.Temperature,
		session.MaxOutputTokens, session.ContextWindow, session.Status, session.MessageCount,
		session.TotalTokens, session.TotalCostMicros, meta, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("sessions: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewSessionError(domain.SessionNotFound, session.ID, nil)
	}
	return nil
}

func (s *PostgresStore) EndSession(ctx context.Context, id string, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status=$2, ended_at=$3, updated_at=$3 WHERE id=$1`,
		id, domain.SessionEnded, endedAt,
	)
	if err != nil {
		return fmt.Errorf("sessions: end: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewSessionError(domain.SessionNotFound, id, nil)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, agentID string, opts ListOptions) ([]*domain.Session, error) {
	query := `SELECT id, agent_id, type, title, system_prompt, model_alias, temperature,
			max_output_tokens, context_window, status, message_count, total_tokens, total_cost_micros,
			metadata, created_at, updated_at, ended_at
		 FROM sessions WHERE 1=1`
	var args []any
	n := 0
	if agentID != "" {
		n++
		query += fmt.Sprintf(" AND agent_id = $%d", n)
		args = append(args, agentID)
	}
	if opts.Status != "" {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, opts.Status)
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		n++
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan: %w", err)
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) (int64, error) {
	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("sessions: marshal tool calls: %w", err)
	}
	var toolResult []byte
	if msg.ToolResult != nil {
		toolResult, err = json.Marshal(msg.ToolResult)
		if err != nil {
			return 0, fmt.Errorf("sessions: marshal tool result: %w", err)
		}
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("sessions: marshal metadata: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO messages (session_id, role, content, thinking, tool_calls, tool_result,
			model_alias, tokens_in, tokens_out, cost_micros, latency_ms, metadata, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		 RETURNING id`,
		sessionID, msg.Role, msg.Content, msg.Thinking, toolCalls, nullIfEmpty(toolResult),
		msg.ModelAlias, msg.TokensIn, msg.TokensOut, msg.CostMicros, msg.LatencyMS, meta, msg.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("sessions: append message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1,
			total_tokens = total_tokens + $2, updated_at = $3 WHERE id = $1`,
		sessionID, msg.TokensIn+msg.TokensOut, time.Now(),
	)
	if err != nil {
		return id, fmt.Errorf("sessions: update counters: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*domain.Message, error) {
	query := `SELECT id, session_id, role, content, thinking, tool_calls, tool_result,
			model_alias, tokens_in, tokens_out, cost_micros, latency_ms, metadata, created_at
		 FROM messages WHERE session_id = $1 ORDER BY id ASC`
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT $2) sub ORDER BY id ASC`
	}

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query, sessionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: history: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sessions: scan message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) PruneEnded(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	if dryRun {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT count(*) FROM sessions WHERE status = $1 AND ended_at < $2`,
			domain.SessionEnded, cutoff,
		).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("sessions: prune dry-run: %w", err)
		}
		return count, nil
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = $1 AND ended_at < $2`,
		domain.SessionEnded, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sessions: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var meta []byte
	var endedAt sql.NullTime
	err := row.Scan(&s.ID, &s.AgentID, &s.Type, &s.Title, &s.SystemPrompt, &s.ModelAlias,
		&s.Temperature, &s.MaxOutputTokens, &s.ContextWindow, &s.Status, &s.MessageCount,
		&s.TotalTokens, &s.TotalCostMicros, &meta, &s.CreatedAt, &s.UpdatedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &s.Metadata)
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return &s, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	var toolCalls, toolResult, meta []byte
	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Thinking, &toolCalls, &toolResult,
		&m.ModelAlias, &m.TokensIn, &m.TokensOut, &m.CostMicros, &m.LatencyMS, &meta, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(toolCalls) > 0 {
		_ = json.Unmarshal(toolCalls, &m.ToolCalls)
	}
	if len(toolResult) > 0 {
		_ = json.Unmarshal(toolResult, &m.ToolResult)
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &m.Metadata)
	}
	return &m, nil
}

func nullIfEmpty(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
