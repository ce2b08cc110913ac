// ABOUTME: File-backed blob content for the SQLite store
// ABOUTME: Stages uploads to temp files, then renames them into place inside a transaction

package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// blobFiles manages blob content under a root directory laid out as
// <root>/<typeID>/<entityID>/<uuid>.blob, with uploads staged in <root>/.staging
type blobFiles struct {
	dir string
}

func newBlobFiles(dir string) (*blobFiles, error) {
	if err := os.MkdirAll(filepath.Join(dir, ".staging"), 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &blobFiles{dir: dir}, nil
}

// stagedBlob is uploaded content not yet attached to an entity
type stagedBlob struct {
	path string
	size int64
}

func (sb *stagedBlob) discard() {
	if sb != nil && sb.path != "" {
		_ = os.Remove(sb.path)
	}
}

// stage copies r into a staging file without holding it in memory
func (b *blobFiles) stage(r io.Reader) (*stagedBlob, error) {
	tmp, err := os.CreateTemp(filepath.Join(b.dir, ".staging"), "pending-")
	if err != nil {
		return nil, fmt.Errorf("creating staging file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing staging file: %w", err)
	}
	return &stagedBlob{path: tmp.Name(), size: n}, nil
}

func (b *blobFiles) stageBytes(data []byte) (*stagedBlob, error) {
	return b.stage(bytes.NewReader(data))
}

func (b *blobFiles) entityDir(typeID int, entityID int64) string {
	return filepath.Join(b.dir, strconv.Itoa(typeID), strconv.FormatInt(entityID, 10))
}

// place moves a staged file to its final location and returns the path
// relative to the blob root
func (b *blobFiles) place(typeID int, entityID int64, sb *stagedBlob) (string, error) {
	dir := b.entityDir(typeID, entityID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating entity blob directory: %w", err)
	}
	rel := filepath.Join(strconv.Itoa(typeID), strconv.FormatInt(entityID, 10), uuid.New().String()+".blob")
	if err := os.Rename(sb.path, filepath.Join(b.dir, rel)); err != nil {
		return "", fmt.Errorf("moving blob into place: %w", err)
	}
	sb.path = ""
	return rel, nil
}

func (b *blobFiles) removeAll(rels []string) {
	for _, rel := range rels {
		_ = os.Remove(filepath.Join(b.dir, rel))
	}
}

// blobPath returns the stored relative path of a blob, or "" if it does not exist
func blobPath(ctx context.Context, q querier, typeID int, entityID int64, name string) (string, error) {
	var rel string
	err := q.QueryRowContext(ctx,
		`SELECT path FROM blobs WHERE type_id = ? AND entity_id = ? AND name = ?`,
		typeID, entityID, name).Scan(&rel)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying blob %q: %w", name, err)
	}
	return rel, nil
}

// placeBlob attaches staged content to an entity within tx
func (s *SQLiteStore) placeBlob(ctx context.Context, tx *sql.Tx, typeID int, entityID int64, name string, sb *stagedBlob, now string) (string, error) {
	if sb == nil {
		return "", fmt.Errorf("blob %q was not staged", name)
	}
	rel, err := s.blobs.place(typeID, entityID, sb)
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO blobs (type_id, entity_id, name, size, path, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(type_id, entity_id, name) DO UPDATE SET size = excluded.size, path = excluded.path, updated_at = excluded.updated_at`,
		typeID, entityID, name, sb.size, rel, now); err != nil {
		s.blobs.removeAll([]string{rel})
		return "", fmt.Errorf("writing blob %q: %w", name, err)
	}
	return rel, nil
}

// OpenBlob opens the content of a blob for reading. The caller must close it.
func (s *SQLiteStore) OpenBlob(ctx context.Context, typeID int, entityID int64, name string) (io.ReadCloser, *BlobInfo, error) {
	var rel string
	var size int64
	err := s.db.QueryRowContext(ctx,
		`SELECT path, size FROM blobs WHERE type_id = ? AND entity_id = ? AND name = ?`,
		typeID, entityID, name).Scan(&rel, &size)
	if err == sql.ErrNoRows {
		return nil, nil, blobNotFound(typeID, entityID, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("querying blob: %w", err)
	}

	f, err := os.Open(filepath.Join(s.blobs.dir, rel))
	if errors.Is(err, os.ErrNotExist) {
		// Removed by a concurrent delete or replace
		return nil, nil, blobNotFound(typeID, entityID, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}
	return f, &BlobInfo{Name: name, Size: size}, nil
}

// PutBlob streams r into a blob of an existing entity, replacing any previous content
func (s *SQLiteStore) PutBlob(ctx context.Context, typeID int, entityID int64, name string, r io.Reader) (*BlobInfo, error) {
	// Fail fast before consuming the body
	if err := requireEntity(ctx, s.db, typeID, entityID); err != nil {
		return nil, err
	}

	sb, err := s.blobs.stage(r)
	if err != nil {
		return nil, err
	}
	defer sb.discard()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireEntity(ctx, tx, typeID, entityID); err != nil {
		return nil, err
	}
	old, err := blobPath(ctx, tx, typeID, entityID, name)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rel, err := s.placeBlob(ctx, tx, typeID, entityID, name, sb, now)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET updated_at = ? WHERE type_id = ? AND entity_id = ?`, now, typeID, entityID); err != nil {
		s.blobs.removeAll([]string{rel})
		return nil, fmt.Errorf("updating entity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.blobs.removeAll([]string{rel})
		return nil, fmt.Errorf("committing blob: %w", err)
	}
	if old != "" {
		s.blobs.removeAll([]string{old})
	}

	s.logger.Debug("stored blob", "type_id", typeID, "entity_id", entityID, "name", name, "size", sb.size)
	return &BlobInfo{Name: name, Size: sb.size}, nil
}
