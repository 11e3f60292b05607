// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// schema is applied on open. Tables carry no foreign keys: deletes are
// orchestrated by the tools so an undo can restore exactly what it removed.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		segment TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		aum REAL NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		due_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_client ON tasks(client_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE TABLE IF NOT EXISTS opportunities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL,
		amount REAL NOT NULL DEFAULT 0,
		close_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_opportunities_client ON opportunities(client_id)`,
}

// SQLiteStore persists entities in a SQLite database.
//
// # Description
//
// Uses the pure-Go modernc.org/sqlite driver in WAL mode with a single open
// connection, since SQLite has one writer.
//
// # Thread Safety
//
// Safe for concurrent use; database/sql serializes on the single connection.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteStore opens or creates the database at path and applies the
// schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
		path,
	))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	slog.Info("workspace sqlite store opened", "path", path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// =============================================================================
// Clients
// =============================================================================

const clientColumns = `id, name, email, phone, company, segment, status, aum, notes, updated_at`

func (s *SQLiteStore) ListClients(ctx context.Context, filter ClientFilter) ([]datatypes.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE 1=1`
	var args []any
	if filter.Segment != "" {
		query += ` AND lower(segment) = lower(?)`
		args = append(args, filter.Segment)
	}
	if filter.Status != "" {
		query += ` AND lower(status) = lower(?)`
		args = append(args, filter.Status)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		query += ` AND instr(lower(name || ' ' || company || ' ' || email), lower(?)) > 0`
		args = append(args, q)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetClient(ctx context.Context, id string) (datatypes.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Client{}, ErrNotFound
	}
	return c, err
}

func (s *SQLiteStore) SaveClient(ctx context.Context, c datatypes.Client) error {
	c.UpdatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			company = excluded.company, segment = excluded.segment, status = excluded.status,
			aum = excluded.aum, notes = excluded.notes, updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Email, c.Phone, c.Company, c.Segment, c.Status, c.AUM, c.Notes, formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save client %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteClient(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "clients", id)
}

// =============================================================================
// Tasks
// =============================================================================

const taskColumns = `id, title, client_id, kind, status, priority, due_date, created_at, updated_at`

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]datatypes.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []any
	for col, val := range map[string]string{
		"client_id": filter.ClientID,
		"status":    filter.Status,
		"kind":      filter.Kind,
		"priority":  filter.Priority,
	} {
		if val != "" {
			query += ` AND ` + col + ` = ?`
			args = append(args, val)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if filter.matches(t) {
			out = append(out, t)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	sortTasks(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (datatypes.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Task{}, ErrNotFound
	}
	return t, err
}

func (s *SQLiteStore) SaveTask(ctx context.Context, t datatypes.Task) error {
	now := s.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, client_id = excluded.client_id, kind = excluded.kind,
			status = excluded.status, priority = excluded.priority, due_date = excluded.due_date,
			updated_at = excluded.updated_at`,
		t.ID, t.Title, t.ClientID, t.Kind, t.Status, t.Priority, nullableTime(t.DueDate),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "tasks", id)
}

// =============================================================================
// Opportunities
// =============================================================================

const opportunityColumns = `id, name, client_id, stage, amount, close_date, created_at, updated_at`

func (s *SQLiteStore) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]datatypes.Opportunity, error) {
	query := `SELECT ` + opportunityColumns + ` FROM opportunities WHERE 1=1`
	var args []any
	if filter.ClientID != "" {
		query += ` AND client_id = ?`
		args = append(args, filter.ClientID)
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, filter.Stage)
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list opportunities: %w", err)
	}
	defer rows.Close()

	var out []datatypes.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetOpportunity(ctx context.Context, id string) (datatypes.Opportunity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE id = ?`, id)
	o, err := scanOpportunity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return datatypes.Opportunity{}, ErrNotFound
	}
	return o, err
}

func (s *SQLiteStore) SaveOpportunity(ctx context.Context, o datatypes.Opportunity) error {
	now := s.now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (`+opportunityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, client_id = excluded.client_id, stage = excluded.stage,
			amount = excluded.amount, close_date = excluded.close_date, updated_at = excluded.updated_at`,
		o.ID, o.Name, o.ClientID, o.Stage, o.Amount, nullableTime(o.CloseDate),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save opportunity %s: %w", o.ID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteOpportunity(ctx context.Context, id string) error {
	return s.deleteByID(ctx, "opportunities", id)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Helpers
// =============================================================================

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) deleteByID(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanClient(r rowScanner) (datatypes.Client, error) {
	var c datatypes.Client
	var updated string
	if err := r.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Company, &c.Segment, &c.Status, &c.AUM, &c.Notes, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c, err
		}
		return c, fmt.Errorf("scan client: %w", err)
	}
	c.UpdatedAt = parseTime(updated)
	return c, nil
}

func scanTask(r rowScanner) (datatypes.Task, error) {
	var t datatypes.Task
	var due sql.NullString
	var created, updated string
	if err := r.Scan(&t.ID, &t.Title, &t.ClientID, &t.Kind, &t.Status, &t.Priority, &due, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan task: %w", err)
	}
	t.DueDate = parseNullableTime(due)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

func scanOpportunity(r rowScanner) (datatypes.Opportunity, error) {
	var o datatypes.Opportunity
	var closeDate sql.NullString
	var created, updated string
	if err := r.Scan(&o.ID, &o.Name, &o.ClientID, &o.Stage, &o.Amount, &closeDate, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("scan opportunity: %w", err)
	}
	o.CloseDate = parseNullableTime(closeDate)
	o.CreatedAt = parseTime(created)
	o.UpdatedAt = parseTime(updated)
	return o, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

var _ Store = (*SQLiteStore)(nil)
