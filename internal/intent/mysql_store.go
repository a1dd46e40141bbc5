package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"IntentMCP/deploy/migrations"
	xerrors "IntentMCP/internal/errors"
)

// MySQLStore persists intent records in MySQL.
type MySQLStore struct {
	db *sql.DB
}

// MySQLConfig holds connection pool parameters for the intent store.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore opens a connection pool and ensures the schema exists.
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN must not be empty")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "open MySQL connection")
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "ping MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema applies the embedded migrations in order. Every statement is
// idempotent, so re-running them on start-up is safe.
func (s *MySQLStore) initSchema() error {
	statements, err := migrations.Statements()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "load intent store migrations")
	}
	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "apply intent store migration")
		}
	}
	return nil
}

// Create inserts a new intent record.
func (s *MySQLStore) Create(ctx context.Context, in *Intent) error {
	if in == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent must not be nil")
	}
	if strings.TrimSpace(in.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent id must not be empty")
	}

	now := time.Now().Unix()
	if in.CreatedAt == 0 {
		in.CreatedAt = now
	}
	if in.UpdatedAt == 0 {
		in.UpdatedAt = now
	}

	specValue, err := marshalSpecification(in.Specification)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode intent specification")
	}

	const stmt = `INSERT INTO intent_records
        (id, name, description, specification, state, backend_ref, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		in.ID,
		in.Name,
		in.Description,
		specValue,
		in.State,
		in.BackendRef,
		in.LastError,
		in.ErrorCode,
		in.CreatedAt,
		in.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "insert intent")
	}
	return nil
}

// Get fetches a single intent record.
func (s *MySQLStore) Get(ctx context.Context, id string) (*Intent, error) {
	const stmt = `SELECT id, name, description, specification, state, backend_ref, last_error, error_code, created_at, updated_at
        FROM intent_records WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	return scanIntent(row.Scan)
}

// Update replaces the mutable columns and bumps updated_at so it strictly
// increases even when two mutations share a wall-clock second.
func (s *MySQLStore) Update(ctx context.Context, in *Intent) error {
	if in == nil || strings.TrimSpace(in.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "intent id must not be empty")
	}
	specValue, err := marshalSpecification(in.Specification)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode intent specification")
	}

	const stmt = `UPDATE intent_records SET name = ?, description = ?, specification = ?, state = ?,
        backend_ref = ?, last_error = ?, error_code = ?, updated_at = GREATEST(?, updated_at + 1) WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		in.Name,
		in.Description,
		specValue,
		in.State,
		in.BackendRef,
		in.LastError,
		in.ErrorCode,
		now,
		in.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "update intent")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	refreshed, err := s.Get(ctx, in.ID)
	if err == nil {
		in.UpdatedAt = refreshed.UpdatedAt
		in.CreatedAt = refreshed.CreatedAt
	}
	return nil
}

// Delete removes an intent record.
func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	const stmt = `DELETE FROM intent_records WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "delete intent")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns matching intent records.
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Intent, error) {
	opts.applyDefaults()

	query := `SELECT id, name, description, specification, state, backend_ref, last_error, error_code, created_at, updated_at
        FROM intent_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query intent list")
	}
	defer rows.Close()

	intents := make([]*Intent, 0, opts.Limit)
	for rows.Next() {
		in, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		intents = append(intents, in)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "iterate intent rows")
	}
	return intents, nil
}

// Stats aggregates intent records matching the filters.
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (IntentStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS draft,
        SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS submitted,
        SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS active,
        SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS failed,
        SUM(CASE WHEN state = ? THEN 1 ELSE 0 END) AS terminated,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM intent_records`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StateDraft), string(StateSubmitted), string(StateActive), string(StateFailed), string(StateTerminated)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats IntentStats
	if err := row.Scan(
		&stats.Total,
		&stats.Draft,
		&stats.Submitted,
		&stats.Active,
		&stats.Failed,
		&stats.Terminated,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return IntentStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "query intent stats")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close shuts down the connection pool.
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanIntent(scan func(dest ...any) error) (*Intent, error) {
	var in Intent
	var spec sql.NullString
	if err := scan(
		&in.ID,
		&in.Name,
		&in.Description,
		&spec,
		&in.State,
		&in.BackendRef,
		&in.LastError,
		&in.ErrorCode,
		&in.CreatedAt,
		&in.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "scan intent row")
	}
	decoded, err := unmarshalSpecification(spec)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode intent specification")
	}
	in.Specification = decoded
	return &in, nil
}

func marshalSpecification(spec map[string]any) (sql.NullString, error) {
	if len(spec) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(spec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalSpecification(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var spec map[string]any
	if err := json.Unmarshal([]byte(raw.String), &spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.States) > 0 {
		placeholders := make([]string, 0, len(opts.States))
		for range opts.States {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
		for _, state := range opts.States {
			args = append(args, state)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR name LIKE ? OR description LIKE ? OR backend_ref LIKE ? OR last_error LIKE ?)")
		args = append(args, pattern, pattern, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
