// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite; keeps entities and blob bytes in memory

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

type mockKey struct {
	typeID   int
	entityID int64
}

type mockEntity struct {
	properties map[string]Value
	blobs      map[string][]byte
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	types    []EntityType
	entities map[mockKey]*mockEntity
	nextID   map[int]int64 // next id per type; never decremented

	// Err, when set, is returned by every operation
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		entities: make(map[mockKey]*mockEntity),
		nextID:   make(map[int]int64),
	}
}

// ListTypes returns the registered types ordered by id.
func (m *MockStore) ListTypes(ctx context.Context) ([]EntityType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]EntityType, len(m.types))
	copy(out, m.types)
	return out, nil
}

// CreateType registers a type, returning the existing one for a known name.
func (m *MockStore) CreateType(ctx context.Context, name string) (*EntityType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("type name is required")
	}
	for _, t := range m.types {
		if t.Name == name {
			t := t
			return &t, nil
		}
	}
	t := EntityType{ID: len(m.types) + 1, Name: name}
	m.types = append(m.types, t)
	return &t, nil
}

func (m *MockStore) typeName(typeID int) (string, error) {
	for _, t := range m.types {
		if t.ID == typeID {
			return t.Name, nil
		}
	}
	return "", typeNotFound(typeID)
}

// snapshot builds an Entity copy. Must be called with mu held.
func (m *MockStore) snapshot(typeID int, typeName string, id int64, me *mockEntity) Entity {
	e := Entity{
		TypeID:     typeID,
		TypeName:   typeName,
		ID:         id,
		Properties: make(map[string]Value, len(me.properties)),
		Blobs:      make([]BlobInfo, 0, len(me.blobs)),
	}
	for k, v := range me.properties {
		e.Properties[k] = v
	}
	for name, data := range me.blobs {
		e.Blobs = append(e.Blobs, BlobInfo{Name: name, Size: int64(len(data))})
	}
	sort.Slice(e.Blobs, func(i, j int) bool { return e.Blobs[i].Name < e.Blobs[j].Name })
	return e
}

// matches applies the same term semantics as the SQLite store.
func (me *mockEntity) matches(term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return true
	}
	if name, value, ok := strings.Cut(term, "="); ok && strings.TrimSpace(name) != "" {
		v, exists := me.properties[strings.TrimSpace(name)]
		if !exists {
			return false
		}
		raw, err := encodeValue(v)
		return err == nil && raw == strings.TrimSpace(value)
	}
	needle := strings.ToLower(term)
	for _, v := range me.properties {
		if v.Type == ValueTypeString && strings.Contains(strings.ToLower(v.String), needle) {
			return true
		}
	}
	return false
}

// Search returns matching entities of a type in ascending id order.
func (m *MockStore) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	typeName, err := m.typeName(q.TypeID)
	if err != nil {
		return nil, err
	}

	var ids []int64
	for k, me := range m.entities {
		if k.typeID == q.TypeID && me.matches(q.Term) {
			ids = append(ids, k.entityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := &SearchResult{Entities: []Entity{}, Total: len(ids)}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return result, nil
	}
	end := len(ids)
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}
	for _, id := range ids[offset:end] {
		me := m.entities[mockKey{q.TypeID, id}]
		result.Entities = append(result.Entities, m.snapshot(q.TypeID, typeName, id, me))
	}
	return result, nil
}

// GetEntity retrieves a single entity.
func (m *MockStore) GetEntity(ctx context.Context, typeID int, entityID int64) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	typeName, err := m.typeName(typeID)
	if err != nil {
		return nil, err
	}
	me, ok := m.entities[mockKey{typeID, entityID}]
	if !ok {
		return nil, entityNotFound(typeID, entityID)
	}
	e := m.snapshot(typeID, typeName, entityID, me)
	return &e, nil
}

// ApplyChange creates or merges an entity.
func (m *MockStore) ApplyChange(ctx context.Context, typeID int, entityID *int64, change *ChangeSummary) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	typeName, err := m.typeName(typeID)
	if err != nil {
		return nil, err
	}
	if change == nil {
		change = &ChangeSummary{}
	}

	var id int64
	var target *mockEntity
	if entityID == nil {
		id = m.nextID[typeID]
		m.nextID[typeID] = id + 1
		target = &mockEntity{properties: map[string]Value{}, blobs: map[string][]byte{}}
	} else {
		id = *entityID
		existing, ok := m.entities[mockKey{typeID, id}]
		if !ok {
			return nil, entityNotFound(typeID, id)
		}
		// Apply to a copy so a failure leaves the entity untouched
		target = &mockEntity{
			properties: make(map[string]Value, len(existing.properties)),
			blobs:      make(map[string][]byte, len(existing.blobs)),
		}
		for k, v := range existing.properties {
			target.properties[k] = v
		}
		for k, v := range existing.blobs {
			target.blobs[k] = v
		}
	}

	for name, v := range change.Properties {
		if v == nil {
			delete(target.properties, name)
			continue
		}
		if !v.Type.Valid() {
			return nil, fmt.Errorf("encoding property %q: unsupported value type %q", name, v.Type)
		}
		target.properties[name] = *v
	}
	for name, bc := range change.Blobs {
		if bc == nil {
			delete(target.blobs, name)
			continue
		}
		target.blobs[name] = append([]byte(nil), bc.Data...)
	}

	m.entities[mockKey{typeID, id}] = target
	e := m.snapshot(typeID, typeName, id, target)
	return &e, nil
}

// DeleteEntity removes an entity. Deleting an absent entity returns ErrNotFound.
func (m *MockStore) DeleteEntity(ctx context.Context, typeID int, entityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}
	if _, err := m.typeName(typeID); err != nil {
		return err
	}
	key := mockKey{typeID, entityID}
	if _, ok := m.entities[key]; !ok {
		return entityNotFound(typeID, entityID)
	}
	delete(m.entities, key)
	return nil
}

// OpenBlob returns a reader over a copy-free view of the stored bytes.
func (m *MockStore) OpenBlob(ctx context.Context, typeID int, entityID int64, name string) (io.ReadCloser, *BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, nil, m.Err
	}
	me, ok := m.entities[mockKey{typeID, entityID}]
	if !ok {
		return nil, nil, blobNotFound(typeID, entityID, name)
	}
	data, ok := me.blobs[name]
	if !ok {
		return nil, nil, blobNotFound(typeID, entityID, name)
	}
	// Stored slices are never mutated in place, so sharing is safe
	return io.NopCloser(bytes.NewReader(data)), &BlobInfo{Name: name, Size: int64(len(data))}, nil
}

// PutBlob reads r fully and stores it as a blob of an existing entity.
func (m *MockStore) PutBlob(ctx context.Context, typeID int, entityID int64, name string, r io.Reader) (*BlobInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	me, ok := m.entities[mockKey{typeID, entityID}]
	if !ok {
		return nil, entityNotFound(typeID, entityID)
	}
	me.blobs[name] = data
	return &BlobInfo{Name: name, Size: int64(len(data))}, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

