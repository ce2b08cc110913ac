// ABOUTME: Entity read/write operations for the SQLite store
// ABOUTME: Applies change summaries transactionally and allocates monotonic entity ids

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"
)

// encodeValue converts a value into its stored textual form
func encodeValue(v Value) (string, error) {
	switch v.Type {
	case ValueTypeString:
		return v.String, nil
	case ValueTypeNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64), nil
	case ValueTypeBoolean:
		return strconv.FormatBool(v.Bool), nil
	case ValueTypeDate:
		return v.Date.UTC().Format(time.RFC3339Nano), nil
	default:
		return "", fmt.Errorf("unsupported value type %q", v.Type)
	}
}

// decodeValue parses a stored textual value
func decodeValue(t ValueType, raw string) (Value, error) {
	switch t {
	case ValueTypeString:
		return StringValue(raw), nil
	case ValueTypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, err
		}
		return NumberValue(n), nil
	case ValueTypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case ValueTypeDate:
		d, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Value{}, err
		}
		return DateValue(d), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %q", t)
	}
}

// GetEntity retrieves a single entity with its properties and blob metadata
func (s *SQLiteStore) GetEntity(ctx context.Context, typeID int, entityID int64) (*Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	e, err := getEntity(ctx, tx, typeID, entityID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing read: %w", err)
	}
	return e, nil
}

func getEntity(ctx context.Context, q querier, typeID int, entityID int64) (*Entity, error) {
	typeName, err := lookupType(ctx, q, typeID)
	if err != nil {
		return nil, err
	}
	if err := requireEntity(ctx, q, typeID, entityID); err != nil {
		return nil, err
	}

	entities, err := loadEntities(ctx, q, typeID, typeName, []int64{entityID})
	if err != nil {
		return nil, err
	}
	return &entities[0], nil
}

// requireEntity returns a NotFoundError if the entity row does not exist
func requireEntity(ctx context.Context, q querier, typeID int, entityID int64) error {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM entities WHERE type_id = ? AND entity_id = ?`, typeID, entityID).Scan(&one)
	if err == sql.ErrNoRows {
		return entityNotFound(typeID, entityID)
	}
	if err != nil {
		return fmt.Errorf("querying entity: %w", err)
	}
	return nil
}

// allocateID returns the next id for a type. Ids start at 0 and are never reused.
func allocateID(ctx context.Context, q querier, typeID int) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO entity_sequences (type_id, next_id) VALUES (?, 0)
		ON CONFLICT(type_id) DO UPDATE SET next_id = next_id + 1
		RETURNING next_id`, typeID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("allocating entity id: %w", err)
	}
	return id, nil
}

// ApplyChange creates (entityID == nil) or updates an entity.
// Blob content is staged to disk before the transaction starts; files that
// become unreachable are removed only after a successful commit.
func (s *SQLiteStore) ApplyChange(ctx context.Context, typeID int, entityID *int64, change *ChangeSummary) (*Entity, error) {
	if change == nil {
		change = &ChangeSummary{}
	}

	staged := make(map[string]*stagedBlob, len(change.Blobs))
	defer func() {
		for _, sb := range staged {
			sb.discard()
		}
	}()
	for name, bc := range change.Blobs {
		if bc == nil {
			continue
		}
		sb, err := s.blobs.stageBytes(bc.Data)
		if err != nil {
			return nil, fmt.Errorf("staging blob %q: %w", name, err)
		}
		staged[name] = sb
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := lookupType(ctx, tx, typeID); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var id int64
	if entityID == nil {
		id, err = allocateID(ctx, tx, typeID)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities (type_id, entity_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			typeID, id, now, now); err != nil {
			return nil, fmt.Errorf("inserting entity: %w", err)
		}
	} else {
		id = *entityID
		res, err := tx.ExecContext(ctx,
			`UPDATE entities SET updated_at = ? WHERE type_id = ? AND entity_id = ?`, now, typeID, id)
		if err != nil {
			return nil, fmt.Errorf("updating entity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, entityNotFound(typeID, id)
		}
	}

	for name, v := range change.Properties {
		if v == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM properties WHERE type_id = ? AND entity_id = ? AND name = ?`,
				typeID, id, name); err != nil {
				return nil, fmt.Errorf("deleting property %q: %w", name, err)
			}
			continue
		}
		raw, err := encodeValue(*v)
		if err != nil {
			return nil, fmt.Errorf("encoding property %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO properties (type_id, entity_id, name, value_type, value) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(type_id, entity_id, name) DO UPDATE SET value_type = excluded.value_type, value = excluded.value`,
			typeID, id, name, string(v.Type), raw); err != nil {
			return nil, fmt.Errorf("writing property %q: %w", name, err)
		}
	}

	var placed, obsolete []string
	for name, bc := range change.Blobs {
		old, err := blobPath(ctx, tx, typeID, id, name)
		if err != nil {
			s.blobs.removeAll(placed)
			return nil, err
		}
		if old != "" {
			obsolete = append(obsolete, old)
		}
		if bc == nil {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM blobs WHERE type_id = ? AND entity_id = ? AND name = ?`,
				typeID, id, name); err != nil {
				s.blobs.removeAll(placed)
				return nil, fmt.Errorf("deleting blob %q: %w", name, err)
			}
			continue
		}
		rel, err := s.placeBlob(ctx, tx, typeID, id, name, staged[name], now)
		if err != nil {
			s.blobs.removeAll(placed)
			return nil, err
		}
		delete(staged, name)
		placed = append(placed, rel)
	}

	e, err := getEntity(ctx, tx, typeID, id)
	if err != nil {
		s.blobs.removeAll(placed)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.blobs.removeAll(placed)
		return nil, fmt.Errorf("committing change: %w", err)
	}
	s.blobs.removeAll(obsolete)

	s.logger.Debug("applied change",
		"type_id", typeID,
		"entity_id", id,
		"created", entityID == nil,
		"properties", len(change.Properties),
		"blobs", len(change.Blobs),
	)
	return e, nil
}

// DeleteEntity removes an entity with its properties and blobs.
// Deleting an entity that does not exist returns ErrNotFound.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, typeID int, entityID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := lookupType(ctx, tx, typeID); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE type_id = ? AND entity_id = ?`, typeID, entityID)
	if err != nil {
		return fmt.Errorf("deleting entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return entityNotFound(typeID, entityID)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM properties WHERE type_id = ? AND entity_id = ?`, typeID, entityID); err != nil {
		return fmt.Errorf("deleting properties: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM blobs WHERE type_id = ? AND entity_id = ?`, typeID, entityID); err != nil {
		return fmt.Errorf("deleting blobs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	if err := os.RemoveAll(s.blobs.entityDir(typeID, entityID)); err != nil {
		s.logger.Warn("failed to remove blob directory", "type_id", typeID, "entity_id", entityID, "error", err)
	}

	s.logger.Debug("deleted entity", "type_id", typeID, "entity_id", entityID)
	return nil
}
