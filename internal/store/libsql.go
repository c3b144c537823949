package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/clienthub/automation/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *Definition) error {
	body, err := json.Marshal(def.Body)
	if err != nil {
		return fmt.Errorf("marshal definition body: %w", err)
	}
	version := def.Version
	if version <= 0 {
		version = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO definitions (id, name, description, body, trigger_type, active, template, version, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		def.ID, def.Name, nullStr(def.Description), string(body), string(def.Body.Trigger),
		boolInt(def.Active), boolInt(def.Template), version, nullStr(def.OwnerID),
		timeOrNow(def.CreatedAt), timeOrNow(def.UpdatedAt),
	)
	return err
}

const definitionColumns = "id, name, description, body, active, template, version, owner_id, created_at, updated_at"

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id)
	def, err := scanDefinition(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("definition", id)
	}
	return def, err
}

func (s *LibSQLStore) UpdateDefinition(ctx context.Context, id string, update DefinitionUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullStr(*update.Description))
	}
	if update.Body != nil {
		body, err := json.Marshal(update.Body)
		if err != nil {
			return fmt.Errorf("marshal definition body: %w", err)
		}
		sets = append(sets, "body = ?", "trigger_type = ?")
		args = append(args, string(body), string(update.Body.Trigger))
	}
	if update.Active != nil {
		sets = append(sets, "active = ?")
		args = append(args, boolInt(*update.Active))
	}
	if update.Version != nil {
		sets = append(sets, "version = ?")
		args = append(args, *update.Version)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE definitions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*Definition, error) {
	var where []string
	var args []any

	if filter.Trigger != nil {
		where = append(where, "trigger_type = ?")
		args = append(args, string(*filter.Trigger))
	}
	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*filter.Active))
	}
	if filter.Template != nil {
		where = append(where, "template = ?")
		args = append(args, boolInt(*filter.Template))
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}

	query := `SELECT ` + definitionColumns + ` FROM definitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		def, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "definition", id)
}

// scanDefinition scans a definition row via the given Scan function.
// The trigger_type column is denormalized from the body and not scanned back.
func scanDefinition(scan func(...any) error) (*Definition, error) {
	def := &Definition{}
	var desc, ownerID sql.NullString
	var bodyJSON string
	var active, template int
	err := scan(&def.ID, &def.Name, &desc, &bodyJSON, &active, &template,
		&def.Version, &ownerID, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}
	def.Description = desc.String
	def.OwnerID = ownerID.String
	def.Active = active != 0
	def.Template = template != 0
	if err := json.Unmarshal([]byte(bodyJSON), &def.Body); err != nil {
		return nil, fmt.Errorf("unmarshal definition body: %w", err)
	}
	return def, nil
}

// --- Executions ---

func (s *LibSQLStore) CreateExecution(ctx context.Context, ex *Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, definition_id, definition_version, trigger_type, status, current_step_index, trigger_snapshot, error, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.DefinitionID, ex.DefinitionVersion, string(ex.TriggerType), string(ex.Status),
		ex.CurrentStepIndex, nullRaw(ex.TriggerSnapshot), nullStr(ex.Error),
		nullTime(ex.StartedAt), nullTime(ex.CompletedAt), timeOrNow(ex.CreatedAt), timeOrNow(ex.UpdatedAt),
	)
	return err
}

const executionColumns = "id, definition_id, definition_version, trigger_type, status, current_step_index, trigger_snapshot, error, started_at, completed_at, created_at, updated_at"

func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	ex, err := scanExecution(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	return ex, err
}

func (s *LibSQLStore) UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStepIndex != nil {
		sets = append(sets, "current_step_index = ?")
		args = append(args, *update.CurrentStepIndex)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE executions SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	var where []string
	var args []any

	if filter.DefinitionID != "" {
		where = append(where, "definition_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Trigger != nil {
		where = append(where, "trigger_type = ?")
		args = append(args, string(*filter.Trigger))
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*Execution
	for rows.Next() {
		ex, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, ex)
	}
	return executions, rows.Err()
}

func (s *LibSQLStore) DeleteExecution(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution", id)
}

func scanExecution(scan func(...any) error) (*Execution, error) {
	ex := &Execution{}
	var triggerType, status string
	var snapshot, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime
	err := scan(&ex.ID, &ex.DefinitionID, &ex.DefinitionVersion, &triggerType, &status,
		&ex.CurrentStepIndex, &snapshot, &errMsg, &startedAt, &completedAt, &ex.CreatedAt, &ex.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ex.TriggerType = schema.TriggerType(triggerType)
	ex.Status = schema.ExecutionStatus(status)
	ex.TriggerSnapshot = rawOrNil(snapshot)
	ex.Error = errMsg.String
	if startedAt.Valid {
		ex.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		ex.CompletedAt = &completedAt.Time
	}
	return ex, nil
}

// --- Execution Logs ---

// AppendLog appends an audit row for one executed step. Step indexes per
// execution must be contiguous starting at 0; the check and the insert run
// in one transaction so concurrent appends cannot leave a gap.
func (s *LibSQLStore) AppendLog(ctx context.Context, entry *ExecutionLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(step_index), -1) + 1 FROM execution_logs WHERE execution_id = ?`, entry.ExecutionID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("get next step index: %w", err)
	}
	if entry.StepIndex != next {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"non-contiguous log append for execution %q: got step %d, expected %d",
			entry.ExecutionID, entry.StepIndex, next)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_logs (execution_id, step_index, action_type, status, input, output, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ExecutionID, entry.StepIndex, string(entry.ActionType), string(entry.Status),
		nullRaw(entry.Input), nullRaw(entry.Output), nullStr(entry.Error), timeOrNow(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execution log: %w", err)
	}
	return nil
}

func (s *LibSQLStore) ListLogs(ctx context.Context, executionID string) ([]*ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_index, action_type, status, input, output, error, created_at
		 FROM execution_logs WHERE execution_id = ? ORDER BY step_index ASC`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ExecutionLog
	for rows.Next() {
		l := &ExecutionLog{}
		var actionType, status string
		var input, output, errMsg sql.NullString
		if err := rows.Scan(&l.ID, &l.ExecutionID, &l.StepIndex, &actionType, &status,
			&input, &output, &errMsg, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.ActionType = schema.ActionType(actionType)
		l.Status = schema.LogStatus(status)
		l.Input = rawOrNil(input)
		l.Output = rawOrNil(output)
		l.Error = errMsg.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Wait Timers ---

func (s *LibSQLStore) CreateWaitTimer(ctx context.Context, timer *WaitTimer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wait_timers (execution_id, next_step_index, resume_at, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET next_step_index=excluded.next_step_index, resume_at=excluded.resume_at`,
		timer.ExecutionID, timer.NextStepIndex, timer.ResumeAt.UTC(), timeOrNow(timer.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) DueWaitTimers(ctx context.Context, limit int) ([]*WaitTimer, error) {
	query := `SELECT execution_id, next_step_index, resume_at, created_at
		 FROM wait_timers WHERE resume_at <= ? ORDER BY resume_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var timers []*WaitTimer
	for rows.Next() {
		t := &WaitTimer{}
		if err := rows.Scan(&t.ExecutionID, &t.NextStepIndex, &t.ResumeAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

func (s *LibSQLStore) DeleteWaitTimer(ctx context.Context, executionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM wait_timers WHERE execution_id = ?`, executionID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "wait_timer", executionID)
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=CURRENT_TIMESTAMP`,
		key, value,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AutomationError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
