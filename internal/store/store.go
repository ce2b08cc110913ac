// ABOUTME: Store interface and data types for entity-gateway persistence
// ABOUTME: Defines EntityType, Entity, Value, ChangeSummary and the Store contract

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a requested type, entity or blob does not exist
var ErrNotFound = errors.New("not found")

// NotFoundError describes which resource could not be resolved.
// It matches ErrNotFound via errors.Is.
type NotFoundError struct {
	Kind string // "type", "entity" or "blob"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func typeNotFound(typeID int) error {
	return &NotFoundError{Kind: "type", Key: fmt.Sprint(typeID)}
}

func entityNotFound(typeID int, entityID int64) error {
	return &NotFoundError{Kind: "entity", Key: fmt.Sprintf("%d/%d", typeID, entityID)}
}

func blobNotFound(typeID int, entityID int64, name string) error {
	return &NotFoundError{Kind: "blob", Key: fmt.Sprintf("%d/%d/%s", typeID, entityID, name)}
}

// IsNotFound reports whether err resolves to ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// EntityType is a named category of entities
type EntityType struct {
	ID   int
	Name string
}

// ValueType identifies the kind of a property value
type ValueType string

const (
	ValueTypeString  ValueType = "string"
	ValueTypeNumber  ValueType = "number"
	ValueTypeBoolean ValueType = "boolean"
	ValueTypeDate    ValueType = "date"
)

// Valid reports whether t is one of the supported value types
func (t ValueType) Valid() bool {
	switch t {
	case ValueTypeString, ValueTypeNumber, ValueTypeBoolean, ValueTypeDate:
		return true
	}
	return false
}

// Value is a typed property value. Only the field matching Type is meaningful.
type Value struct {
	Type   ValueType
	String string
	Number float64
	Bool   bool
	Date   time.Time
}

// StringValue returns a string-typed value
func StringValue(s string) Value { return Value{Type: ValueTypeString, String: s} }

// NumberValue returns a number-typed value
func NumberValue(n float64) Value { return Value{Type: ValueTypeNumber, Number: n} }

// BoolValue returns a boolean-typed value
func BoolValue(b bool) Value { return Value{Type: ValueTypeBoolean, Bool: b} }

// DateValue returns a date-typed value normalized to UTC
func DateValue(t time.Time) Value { return Value{Type: ValueTypeDate, Date: t.UTC()} }

// Equal reports whether two values have the same type and content
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	switch v.Type {
	case ValueTypeString:
		return v.String == o.String
	case ValueTypeNumber:
		return v.Number == o.Number
	case ValueTypeBoolean:
		return v.Bool == o.Bool
	case ValueTypeDate:
		return v.Date.Equal(o.Date)
	}
	return false
}

// BlobInfo describes a named binary attachment of an entity
type BlobInfo struct {
	Name string
	Size int64
}

// Entity is a single record addressed by (TypeID, ID)
type Entity struct {
	TypeID     int
	TypeName   string
	ID         int64
	Properties map[string]Value
	Blobs      []BlobInfo // sorted by name
}

// BlobChange carries new content for a blob
type BlobChange struct {
	Data []byte
}

// ChangeSummary is a partial diff applied to an entity.
// A nil map value removes the attribute or blob.
type ChangeSummary struct {
	Properties map[string]*Value
	Blobs      map[string]*BlobChange
}

// IsEmpty reports whether the summary changes nothing
func (c *ChangeSummary) IsEmpty() bool {
	return c == nil || (len(c.Properties) == 0 && len(c.Blobs) == 0)
}

// SearchQuery selects a window of entities of one type
type SearchQuery struct {
	TypeID int
	Term   string // empty matches all; "name=value" matches a property exactly
	Offset int
	Limit  int
}

// SearchResult is an ordered window plus the total number of matches
type SearchResult struct {
	Entities []Entity
	Total    int
}

// Store defines the operations the gateway requires from an entity store
type Store interface {
	// Types
	ListTypes(ctx context.Context) ([]EntityType, error)
	CreateType(ctx context.Context, name string) (*EntityType, error)

	// Entities
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
	GetEntity(ctx context.Context, typeID int, entityID int64) (*Entity, error)
	// ApplyChange creates a new entity when entityID is nil, otherwise merges
	// the change into the existing entity.
	ApplyChange(ctx context.Context, typeID int, entityID *int64, change *ChangeSummary) (*Entity, error)
	DeleteEntity(ctx context.Context, typeID int, entityID int64) error

	// Blobs
	OpenBlob(ctx context.Context, typeID int, entityID int64, name string) (io.ReadCloser, *BlobInfo, error)
	PutBlob(ctx context.Context, typeID int, entityID int64, name string, r io.Reader) (*BlobInfo, error)

	// Close releases any resources held by the store
	Close() error
}
