// ABOUTME: Maps failures of entity operations to HTTP status codes
// ABOUTME: Metadata reads resolve every failure to 404, writes and blob streams separate not-found from server errors

package gateway

import (
	"errors"
	"net/http"

	"github.com/2389/entity-gateway/internal/entity"
	"github.com/2389/entity-gateway/internal/store"
)

// Operation names an HTTP-facing entity operation
type Operation string

const (
	OpListTypes Operation = "list_types"
	OpSearch    Operation = "search"
	OpGet       Operation = "get_entity"
	OpGetBlob   Operation = "get_blob"
	OpCreate    Operation = "create_entity"
	OpUpdate    Operation = "update_entity"
	OpDelete    Operation = "delete_entity"
	OpPutBlob   Operation = "put_blob"
)

// IsRead reports whether op only reads from the store
func (op Operation) IsRead() bool {
	switch op {
	case OpListTypes, OpSearch, OpGet, OpGetBlob:
		return true
	}
	return false
}

// ErrorPolicy maps a failed operation to the HTTP status returned to the client.
// It must return a 4xx or 5xx status for every non-nil error.
type ErrorPolicy func(op Operation, err error) int

// DefaultErrorPolicy rejects invalid input with 400. Failures listing types,
// searching or getting an entity are all reported as 404. Blob downloads and
// writes report 404 for missing targets and 500 for everything else.
func DefaultErrorPolicy(op Operation, err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidInput):
		return http.StatusBadRequest
	case op.IsRead() && op != OpGetBlob:
		return http.StatusNotFound
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// StrictErrorPolicy is DefaultErrorPolicy with reads also separating store
// faults (500) from missing resources (404).
func StrictErrorPolicy(op Operation, err error) int {
	if op.IsRead() && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, entity.ErrInvalidInput) {
		return http.StatusInternalServerError
	}
	return DefaultErrorPolicy(op, err)
}
