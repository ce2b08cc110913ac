// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides type enumeration and keyword search with automatic schema creation

package store

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

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite is the pure-Go modernc.org/sqlite driver
	DriverSQLite = "sqlite"
	// DriverSQLite3 is the cgo github.com/mattn/go-sqlite3 driver
	DriverSQLite3 = "sqlite3"
)

// SQLiteStore implements the Store interface using SQLite for metadata
// and plain files for blob content
type SQLiteStore struct {
	db     *sql.DB
	blobs  *blobFiles
	logger *slog.Logger

	// ownsBlobDir is set when the blob directory is a temporary one created for
	// an in-memory database; it is removed on Close.
	ownsBlobDir bool
}

type sqliteOptions struct {
	driver  string
	blobDir string
}

// Option configures a SQLiteStore
type Option func(*sqliteOptions)

// WithDriver selects the database/sql driver (DriverSQLite or DriverSQLite3)
func WithDriver(driver string) Option {
	return func(o *sqliteOptions) {
		if driver != "" {
			o.driver = driver
		}
	}
}

// WithBlobDir sets the directory blob content is written to
func WithBlobDir(dir string) Option {
	return func(o *sqliteOptions) {
		o.blobDir = dir
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. Blob content lives next to the
// database in a "blobs" directory unless WithBlobDir is given.
func NewSQLiteStore(path string, opts ...Option) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	o := sqliteOptions{driver: DriverSQLite}
	for _, opt := range opts {
		opt(&o)
	}
	if o.driver != DriverSQLite && o.driver != DriverSQLite3 {
		return nil, fmt.Errorf("unsupported database driver %q", o.driver)
	}

	inMemory := path == ":memory:"
	if !inMemory {
		// Ensure parent directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	ownsBlobDir := false
	if o.blobDir == "" {
		if inMemory {
			dir, err := os.MkdirTemp("", "entity-gateway-blobs-*")
			if err != nil {
				return nil, fmt.Errorf("creating temporary blob directory: %w", err)
			}
			o.blobDir = dir
			ownsBlobDir = true
		} else {
			o.blobDir = filepath.Join(filepath.Dir(path), "blobs")
		}
	}

	blobs, err := newBlobFiles(o.blobDir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(o.driver, dataSourceName(o.driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Every connection to ":memory:" is a separate database
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{
		db:          db,
		blobs:       blobs,
		logger:      logger,
		ownsBlobDir: ownsBlobDir,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", o.driver, "blob_dir", o.blobDir)
	return s, nil
}

// dataSourceName builds a DSN that applies WAL mode and the busy timeout to
// every pooled connection. Transactions begin IMMEDIATE so a read followed by
// a write waits for the lock instead of failing with SQLITE_BUSY.
func dataSourceName(driver, path string) string {
	if path == ":memory:" {
		return path
	}
	uri := "file:" + uriPathEscaper.Replace(path)
	if driver == DriverSQLite3 {
		return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", uri, busyTimeoutMillis)
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", uri, busyTimeoutMillis)
}

const busyTimeoutMillis = 5000

var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entity_types (
			type_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);

		-- Per-type id allocation; ids are never reused after deletion
		CREATE TABLE IF NOT EXISTS entity_sequences (
			type_id INTEGER PRIMARY KEY,
			next_id INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entities (
			type_id    INTEGER NOT NULL,
			entity_id  INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (type_id, entity_id)
		);

		CREATE TABLE IF NOT EXISTS properties (
			type_id    INTEGER NOT NULL,
			entity_id  INTEGER NOT NULL,
			name       TEXT NOT NULL,
			value_type TEXT NOT NULL,
			value      TEXT NOT NULL,

			PRIMARY KEY (type_id, entity_id, name),
			CHECK (value_type IN ('string', 'number', 'boolean', 'date'))
		);

		CREATE INDEX IF NOT EXISTS idx_properties_name_value ON properties(type_id, name, value);

		CREATE TABLE IF NOT EXISTS blobs (
			type_id    INTEGER NOT NULL,
			entity_id  INTEGER NOT NULL,
			name       TEXT NOT NULL,
			size       INTEGER NOT NULL,
			path       TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (type_id, entity_id, name)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if s.ownsBlobDir {
		if rmErr := os.RemoveAll(s.blobs.dir); rmErr != nil && err == nil {
			err = fmt.Errorf("removing blob directory: %w", rmErr)
		}
	}
	return err
}

// ListTypes returns all entity types ordered by id
func (s *SQLiteStore) ListTypes(ctx context.Context) ([]EntityType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT type_id, name FROM entity_types ORDER BY type_id`)
	if err != nil {
		return nil, fmt.Errorf("querying types: %w", err)
	}
	defer rows.Close()

	types := []EntityType{}
	for rows.Next() {
		var t EntityType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// CreateType registers a type by name, returning the existing type if the
// name is already known
func (s *SQLiteStore) CreateType(ctx context.Context, name string) (*EntityType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("type name is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_types (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting type: %w", err)
	}

	t := &EntityType{Name: name}
	if err := s.db.QueryRowContext(ctx, `SELECT type_id FROM entity_types WHERE name = ?`, name).Scan(&t.ID); err != nil {
		return nil, fmt.Errorf("querying type: %w", err)
	}
	return t, nil
}

// lookupType returns the name of a type, or a NotFoundError
func lookupType(ctx context.Context, q querier, typeID int) (string, error) {
	var name string
	err := q.QueryRowContext(ctx, `SELECT name FROM entity_types WHERE type_id = ?`, typeID).Scan(&name)
	if err == sql.ErrNoRows {
		return "", typeNotFound(typeID)
	}
	if err != nil {
		return "", fmt.Errorf("querying type: %w", err)
	}
	return name, nil
}

// Search returns a window of entities of one type in ascending id order.
// The count and the window are read in the same transaction.
func (s *SQLiteStore) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	typeName, err := lookupType(ctx, tx, q.TypeID)
	if err != nil {
		return nil, err
	}

	filter, filterArgs := searchFilter(q.Term)
	args := append([]any{q.TypeID}, filterArgs...)

	var total int
	countQuery := `SELECT COUNT(*) FROM entities e WHERE e.type_id = ?` + filter
	if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting entities: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	idQuery := `SELECT e.entity_id FROM entities e WHERE e.type_id = ?` + filter +
		` ORDER BY e.entity_id LIMIT ? OFFSET ?`
	rows, err := tx.QueryContext(ctx, idQuery, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("searching entities: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning entity id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}

	entities, err := loadEntities(ctx, tx, q.TypeID, typeName, ids)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing search: %w", err)
	}

	return &SearchResult{Entities: entities, Total: total}, nil
}

// searchFilter translates a search term into an SQL condition on entities e.
// "name=value" matches a property exactly; any other term matches string
// properties containing it, case-insensitively.
func searchFilter(term string) (string, []any) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", nil
	}

	if name, value, ok := strings.Cut(term, "="); ok && strings.TrimSpace(name) != "" {
		return ` AND EXISTS (SELECT 1 FROM properties p
			WHERE p.type_id = e.type_id AND p.entity_id = e.entity_id
			AND p.name = ? AND p.value = ?)`,
			[]any{strings.TrimSpace(name), strings.TrimSpace(value)}
	}

	return ` AND EXISTS (SELECT 1 FROM properties p
		WHERE p.type_id = e.type_id AND p.entity_id = e.entity_id
		AND p.value_type = 'string' AND p.value LIKE ? ESCAPE '\')`,
		[]any{"%" + escapeLike(term) + "%"}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// placeholders returns "?, ?, ..." for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// loadEntities loads properties and blob metadata for the given ids,
// preserving the order of ids
func loadEntities(ctx context.Context, q querier, typeID int, typeName string, ids []int64) ([]Entity, error) {
	entities := make([]Entity, len(ids))
	index := make(map[int64]*Entity, len(ids))
	for i, id := range ids {
		entities[i] = Entity{
			TypeID:     typeID,
			TypeName:   typeName,
			ID:         id,
			Properties: map[string]Value{},
			Blobs:      []BlobInfo{},
		}
		index[id] = &entities[i]
	}
	if len(ids) == 0 {
		return entities, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, typeID)
	for _, id := range ids {
		args = append(args, id)
	}
	in := placeholders(len(ids))

	rows, err := q.QueryContext(ctx,
		`SELECT entity_id, name, value_type, value FROM properties
		 WHERE type_id = ? AND entity_id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying properties: %w", err)
	}
	for rows.Next() {
		var id int64
		var name, valueType, raw string
		if err := rows.Scan(&id, &name, &valueType, &raw); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		v, err := decodeValue(ValueType(valueType), raw)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding property %q of entity %d/%d: %w", name, typeID, id, err)
		}
		index[id].Properties[name] = v
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}

	rows, err = q.QueryContext(ctx,
		`SELECT entity_id, name, size FROM blobs
		 WHERE type_id = ? AND entity_id IN (`+in+`) ORDER BY name`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying blobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var b BlobInfo
		if err := rows.Scan(&id, &b.Name, &b.Size); err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		e := index[id]
		e.Blobs = append(e.Blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating blobs: %w", err)
	}

	return entities, nil
}
