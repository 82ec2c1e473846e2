// Package postgres provides the server SQL storage backend
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadpoint/threadpoint/internal/core/storage"
)

// Backend implements storage.Backend for PostgreSQL. The well-known
// record attributes are projected into indexed columns; the payload is
// stored as BYTEA.
type Backend struct {
	pool      *pgxpool.Pool
	tableName string
	closed    bool
	mu        sync.RWMutex
}

// NewBackend creates a new PostgreSQL backend over a connection pool.
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{
		pool:      pool,
		tableName: "checkpoints",
	}
}

// Connect dials the given DSN, verifies the connection, and prepares the
// records table.
func Connect(ctx context.Context, dsn string) (*Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	b := NewBackend(pool)
	if err := b.CreateTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// CreateTables creates the records table and its indexes.
func (b *Backend) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(64) NOT NULL DEFAULT '',
			type VARCHAR(64) NOT NULL DEFAULT '',
			data BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
		CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at);
		CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at);
	`, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName,
		b.tableName, b.tableName, b.tableName, b.tableName)

	_, err := b.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Put creates or replaces a record.
func (b *Backend) Put(ctx context.Context, rec *storage.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := b.guard(); err != nil {
		return err
	}
	if err := checkAttrKeys(rec.Attrs); err != nil {
		return err
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var expiresAt interface{}
	if exp, ok := rec.Expiry(); ok {
		expiresAt = exp
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, thread_id, status, type, data, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			status = EXCLUDED.status,
			type = EXCLUDED.type,
			data = EXCLUDED.data,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, b.tableName)

	_, err := b.pool.Exec(ctx, query,
		rec.ID,
		rec.Attrs[storage.AttrThreadID],
		rec.Attrs[storage.AttrStatus],
		rec.Attrs[storage.AttrType],
		rec.Data,
		createdAt,
		expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	return nil
}

// Get retrieves a record by id.
func (b *Backend) Get(ctx context.Context, id string) (*storage.Record, error) {
	if id == "" {
		return nil, storage.ErrEmptyRecordID
	}
	if err := b.guard(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, thread_id, status, type, data, created_at, expires_at
		FROM %s
		WHERE id = $1
	`, b.tableName)

	rec, err := scanRecord(b.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return rec, nil
}

// Delete removes a record by id.
func (b *Backend) Delete(ctx context.Context, id string) error {
	if id == "" {
		return storage.ErrEmptyRecordID
	}
	if err := b.guard(); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", b.tableName)
	result, err := b.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return storage.ErrRecordNotFound
	}

	return nil
}

// List returns matching records ordered by created_at descending.
func (b *Backend) List(ctx context.Context, filter storage.Filter) ([]*storage.Record, error) {
	if err := b.guard(); err != nil {
		return nil, err
	}

	where, args, err := b.buildWhere(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT id, thread_id, status, type, data, created_at, expires_at FROM %s%s ORDER BY created_at DESC, id DESC",
		b.tableName, where)

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}

	return records, nil
}

// Count reports how many records match the filter.
func (b *Backend) Count(ctx context.Context, filter storage.Filter) (int, error) {
	if err := b.guard(); err != nil {
		return 0, err
	}

	where, args, err := b.buildWhere(filter)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", b.tableName, where)

	var count int
	if err := b.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

// buildWhere constructs the WHERE clause for a filter.
func (b *Backend) buildWhere(filter storage.Filter) (string, []interface{}, error) {
	clause := " WHERE 1=1"
	args := make([]interface{}, 0)
	argCount := 0

	for key, value := range filter.Attrs {
		argCount++
		switch key {
		case storage.AttrThreadID:
			clause += fmt.Sprintf(" AND thread_id = $%d", argCount)
		case storage.AttrStatus:
			clause += fmt.Sprintf(" AND status = $%d", argCount)
		case storage.AttrType:
			clause += fmt.Sprintf(" AND type = $%d", argCount)
		default:
			return "", nil, fmt.Errorf("%w: %s", storage.ErrUnsupportedAttr, key)
		}
		args = append(args, value)
	}

	if filter.CreatedBefore != nil {
		argCount++
		clause += fmt.Sprintf(" AND created_at < $%d", argCount)
		args = append(args, *filter.CreatedBefore)
	}

	if filter.ExpiresBefore != nil {
		argCount++
		clause += fmt.Sprintf(" AND expires_at IS NOT NULL AND expires_at < $%d", argCount)
		args = append(args, *filter.ExpiresBefore)
	}

	return clause, args, nil
}

func (b *Backend) guard() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return storage.ErrBackendClosed
	}
	return nil
}

// checkAttrKeys rejects attributes that have no column projection.
func checkAttrKeys(attrs map[string]string) error {
	for key := range attrs {
		switch key {
		case storage.AttrThreadID, storage.AttrStatus, storage.AttrType, storage.AttrExpiresAt:
		default:
			return fmt.Errorf("%w: %s", storage.ErrUnsupportedAttr, key)
		}
	}
	return nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	var (
		rec       storage.Record
		threadID  string
		status    string
		typ       string
		createdAt time.Time
		expiresAt *time.Time
	)

	if err := row.Scan(&rec.ID, &threadID, &status, &typ, &rec.Data, &createdAt, &expiresAt); err != nil {
		return nil, err
	}

	rec.CreatedAt = createdAt.UTC()
	rec.Attrs = make(map[string]string)
	if threadID != "" {
		rec.Attrs[storage.AttrThreadID] = threadID
	}
	if status != "" {
		rec.Attrs[storage.AttrStatus] = status
	}
	if typ != "" {
		rec.Attrs[storage.AttrType] = typ
	}
	if expiresAt != nil {
		rec.Attrs[storage.AttrExpiresAt] = expiresAt.UTC().Format(time.RFC3339Nano)
	}

	return &rec, nil
}
