// Package sqlite provides the embedded SQL storage backend
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/threadpoint/threadpoint/internal/core/storage"
)

// Backend implements storage.Backend for SQLite. The well-known record
// attributes are projected into indexed columns; the payload stays an
// opaque blob.
type Backend struct {
	db        *sql.DB
	tableName string
	closed    bool
	mu        sync.RWMutex
}

// NewBackend creates a new SQLite backend over an open database handle.
func NewBackend(db *sql.DB) *Backend {
	return &Backend{
		db:        db,
		tableName: "checkpoints",
	}
}

// Open opens (creating when needed) a SQLite database at path and
// prepares the records table. Use ":memory:" for an ephemeral store.
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	b := NewBackend(db)
	if err := b.CreateTables(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// WithTableName allows overriding the default table name with validation.
// Only alphanumeric and underscore are permitted to prevent SQL injection via identifiers.
func (b *Backend) WithTableName(name string) *Backend {
	if isSafeIdent(name) {
		b.tableName = name
	}
	return b
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// CreateTables creates the records table and its indexes.
func (b *Backend) CreateTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			data BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_%s_thread_id ON %s (thread_id);
		CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (status);
		CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at);
		CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at);
	`, b.tableName, b.tableName, b.tableName, b.tableName, b.tableName,
		b.tableName, b.tableName, b.tableName, b.tableName)

	_, err := b.db.ExecContext(ctx, query)
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
		expiresAt = exp.UnixNano()
	}

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (id, thread_id, status, type, data, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.tableName)

	_, err := b.db.ExecContext(ctx, query,
		rec.ID,
		rec.Attrs[storage.AttrThreadID],
		rec.Attrs[storage.AttrStatus],
		rec.Attrs[storage.AttrType],
		rec.Data,
		createdAt.UnixNano(),
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
		WHERE id = ?
	`, b.tableName)

	rec, err := scanRecord(b.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
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

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", b.tableName)
	result, err := b.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
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

	rows, err := b.db.QueryContext(ctx, query, args...)
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
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// buildWhere constructs the WHERE clause for a filter.
func (b *Backend) buildWhere(filter storage.Filter) (string, []interface{}, error) {
	clause := " WHERE 1=1"
	args := make([]interface{}, 0)

	for key, value := range filter.Attrs {
		switch key {
		case storage.AttrThreadID:
			clause += " AND thread_id = ?"
		case storage.AttrStatus:
			clause += " AND status = ?"
		case storage.AttrType:
			clause += " AND type = ?"
		default:
			return "", nil, fmt.Errorf("%w: %s", storage.ErrUnsupportedAttr, key)
		}
		args = append(args, value)
	}

	if filter.CreatedBefore != nil {
		clause += " AND created_at < ?"
		args = append(args, filter.CreatedBefore.UnixNano())
	}

	if filter.ExpiresBefore != nil {
		clause += " AND expires_at IS NOT NULL AND expires_at < ?"
		args = append(args, filter.ExpiresBefore.UnixNano())
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

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*storage.Record, error) {
	var (
		rec          storage.Record
		threadID     string
		status       string
		typ          string
		createdNanos int64
		expiresNanos sql.NullInt64
	)

	if err := row.Scan(&rec.ID, &threadID, &status, &typ, &rec.Data, &createdNanos, &expiresNanos); err != nil {
		return nil, err
	}

	rec.CreatedAt = time.Unix(0, createdNanos).UTC()
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
	if expiresNanos.Valid {
		rec.Attrs[storage.AttrExpiresAt] = time.Unix(0, expiresNanos.Int64).UTC().Format(time.RFC3339Nano)
	}

	return &rec, nil
}
