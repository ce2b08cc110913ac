// ABOUTME: HTTP API handlers for entity types, entities and blobs
// ABOUTME: Parses paths and queries, calls the entity service and maps failures through the error policy

package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/2389/entity-gateway/internal/entity"
	"github.com/2389/entity-gateway/internal/idempotency"
	"github.com/2389/entity-gateway/internal/store"
)

// IdempotencyKeyHeader lets a client retry a create without creating twice
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotentReplayedHeader is set to "true" when a create returns the entity
// an earlier request with the same Idempotency-Key produced
const IdempotentReplayedHeader = "Idempotent-Replayed"

const maxIdempotencyKeyLength = 255

// errUnroutable marks a path segment that cannot name a resource
var errUnroutable = &store.NotFoundError{Kind: "route", Key: "path"}

// ErrorResponse is the JSON body of every failed request. Detail is only set
// for rejected input.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// sendJSONError writes a JSON error response with the status text and an optional detail.
func sendJSONError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Detail: detail})
}

// trace logs the parsed parameters of a request before it is delegated
func (g *Gateway) trace(r *http.Request, op Operation, attrs ...any) {
	loggerFrom(r.Context(), g.logger).Debug("handling request", append([]any{"operation", string(op)}, attrs...)...)
}

// fail maps err through the error policy, logs it once and writes the response.
// The body carries the status text; validation failures add their message as detail.
func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, op Operation, err error, attrs ...any) int {
	status := g.errorPolicy(op, err)
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	if g.metrics != nil {
		g.metrics.RecordError(op, status)
	}

	logger := loggerFrom(r.Context(), g.logger)
	attrs = append(attrs, "operation", string(op), "status", status, "error", err)
	var detail string
	var verr *entity.ValidationError
	switch {
	case errors.As(err, &verr):
		detail = verr.Error()
		logger.Info("request rejected", attrs...)
	case status >= 500 || op.IsRead():
		logger.Error("request failed", attrs...)
	default:
		logger.Info("request rejected", attrs...)
	}
	sendJSONError(w, status, detail)
	return status
}

// parseTypeID reads the {id} path segment
func parseTypeID(r *http.Request) (int, error) {
	typeID, err := strconv.ParseInt(r.PathValue("id"), 10, 32)
	if err != nil || typeID < 0 {
		return 0, errUnroutable
	}
	return int(typeID), nil
}

// parseEntityPath reads the {id} and {entityId} path segments
func parseEntityPath(r *http.Request) (int, int64, error) {
	typeID, err := parseTypeID(r)
	if err != nil {
		return 0, 0, err
	}
	entityID, err := strconv.ParseInt(r.PathValue("entityId"), 10, 64)
	if err != nil || entityID < 0 {
		return 0, 0, errUnroutable
	}
	return typeID, entityID, nil
}

// parseIntQuery reads an optional integer query parameter
func parseIntQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, entity.NewValidationError(name, "must be an integer, got %q", raw)
	}
	return v, nil
}

// handleListTypes handles GET /types
func (g *Gateway) handleListTypes(w http.ResponseWriter, r *http.Request) {
	g.trace(r, OpListTypes)
	types, err := g.entities.ListTypes(r.Context())
	if err != nil {
		g.fail(w, r, OpListTypes, err)
		return
	}

	resp := make([]EntityTypeResponse, 0, len(types))
	for _, t := range types {
		resp = append(resp, EntityTypeResponse{ID: t.ID, Name: t.Name})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSearch handles GET /type/{id}/entities?q=&offset=&pageSize=
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	typeID, err := parseTypeID(r)
	if err != nil {
		g.fail(w, r, OpSearch, err, "type_id", r.PathValue("id"))
		return
	}

	offset, err := parseIntQuery(r, "offset")
	if err != nil {
		g.fail(w, r, OpSearch, err, "type_id", typeID)
		return
	}
	pageSize, err := parseIntQuery(r, "pageSize")
	if err != nil {
		g.fail(w, r, OpSearch, err, "type_id", typeID)
		return
	}
	term := r.URL.Query().Get("q")
	g.trace(r, OpSearch, "type_id", typeID, "q", term, "offset", offset, "page_size", pageSize)

	page, err := g.entities.Search(r.Context(), typeID, term, offset, pageSize)
	if err != nil {
		g.fail(w, r, OpSearch, err, "type_id", typeID, "offset", offset, "page_size", pageSize)
		return
	}

	resp, err := toSearchPageResponse(page)
	if err != nil {
		g.fail(w, r, OpSearch, err, "type_id", typeID)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetEntity handles GET /type/{id}/entity/{entityId}
func (g *Gateway) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	typeID, entityID, err := parseEntityPath(r)
	if err != nil {
		g.fail(w, r, OpGet, err, "path", r.URL.Path)
		return
	}

	g.trace(r, OpGet, "type_id", typeID, "entity_id", entityID)
	e, err := g.entities.Get(r.Context(), typeID, entityID)
	if err != nil {
		g.fail(w, r, OpGet, err, "type_id", typeID, "entity_id", entityID)
		return
	}
	g.writeEntity(w, r, OpGet, http.StatusOK, e)
}

// handleCreateEntity handles POST /type/{id}/entity. With an Idempotency-Key
// header a retried create returns the entity the first attempt produced.
func (g *Gateway) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	typeID, err := parseTypeID(r)
	if err != nil {
		g.fail(w, r, OpCreate, err, "type_id", r.PathValue("id"))
		return
	}

	change, err := decodeChangeSummary(w, r)
	if err != nil {
		g.fail(w, r, OpCreate, err, "type_id", typeID)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	g.trace(r, OpCreate, "type_id", typeID, "properties", len(change.Properties), "blobs", len(change.Blobs), "idempotency_key", key)
	if key == "" || g.idem == nil {
		e, err := g.entities.Create(r.Context(), typeID, change)
		if err != nil {
			g.fail(w, r, OpCreate, err, "type_id", typeID)
			return
		}
		g.writeEntity(w, r, OpCreate, http.StatusOK, e)
		return
	}

	if len(key) > maxIdempotencyKeyLength {
		g.fail(w, r, OpCreate, entity.NewValidationError(IdempotencyKeyHeader, "exceeds %d bytes", maxIdempotencyKeyLength), "type_id", typeID)
		return
	}
	g.createIdempotent(w, r, typeID, key, change)
}

func (g *Gateway) createIdempotent(w http.ResponseWriter, r *http.Request, typeID int, key string, change *store.ChangeSummary) {
	cacheKey := fmt.Sprintf("%d:%s", typeID, key)
	logger := loggerFrom(r.Context(), g.logger)

	fingerprint, err := changeFingerprint(change)
	if err != nil {
		g.fail(w, r, OpCreate, err, "type_id", typeID)
		return
	}

	ref, state := g.idem.Begin(cacheKey, fingerprint)
	switch state {
	case idempotency.StateMismatch:
		logger.Info("idempotency key reused with a different body", "type_id", typeID, "key", key)
		sendJSONError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request body")
		return
	case idempotency.StatePending:
		logger.Info("create with idempotency key still in progress", "type_id", typeID, "key", key)
		sendJSONError(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
		return
	case idempotency.StateDone:
		e, err := g.entities.Get(r.Context(), ref.TypeID, ref.EntityID)
		if err != nil {
			g.fail(w, r, OpCreate, err, "type_id", typeID, "entity_id", ref.EntityID, "replay", true)
			return
		}
		logger.Debug("replayed idempotent create", "type_id", typeID, "entity_id", e.ID)
		w.Header().Set(IdempotentReplayedHeader, "true")
		g.writeEntity(w, r, OpCreate, http.StatusOK, e)
		return
	}

	e, err := g.entities.Create(r.Context(), typeID, change)
	if err != nil {
		g.idem.Release(cacheKey)
		g.fail(w, r, OpCreate, err, "type_id", typeID)
		return
	}
	g.idem.Complete(cacheKey, idempotency.Ref{TypeID: typeID, EntityID: e.ID})
	g.writeEntity(w, r, OpCreate, http.StatusOK, e)
}

// handleUpdateEntity handles PUT /type/{id}/entity/{entityId}
func (g *Gateway) handleUpdateEntity(w http.ResponseWriter, r *http.Request) {
	typeID, entityID, err := parseEntityPath(r)
	if err != nil {
		g.fail(w, r, OpUpdate, err, "path", r.URL.Path)
		return
	}

	change, err := decodeChangeSummary(w, r)
	if err != nil {
		g.fail(w, r, OpUpdate, err, "type_id", typeID, "entity_id", entityID)
		return
	}

	g.trace(r, OpUpdate, "type_id", typeID, "entity_id", entityID, "properties", len(change.Properties), "blobs", len(change.Blobs))
	e, err := g.entities.Update(r.Context(), typeID, entityID, change)
	if err != nil {
		g.fail(w, r, OpUpdate, err, "type_id", typeID, "entity_id", entityID)
		return
	}
	g.writeEntity(w, r, OpUpdate, http.StatusOK, e)
}

// handleDeleteEntity handles DELETE /type/{id}/entity/{entityId}
func (g *Gateway) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	typeID, entityID, err := parseEntityPath(r)
	if err != nil {
		g.fail(w, r, OpDelete, err, "path", r.URL.Path)
		return
	}

	g.trace(r, OpDelete, "type_id", typeID, "entity_id", entityID)
	if err := g.entities.Delete(r.Context(), typeID, entityID); err != nil {
		g.fail(w, r, OpDelete, err, "type_id", typeID, "entity_id", entityID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetBlob handles GET /type/{id}/entity/{entityId}/blob/{blobName}.
// The blob is resolved before any header is written so a missing blob is a
// clean error response.
func (g *Gateway) handleGetBlob(w http.ResponseWriter, r *http.Request) {
	typeID, entityID, err := parseEntityPath(r)
	if err != nil {
		g.fail(w, r, OpGetBlob, err, "path", r.URL.Path)
		return
	}
	name := r.PathValue("blobName")

	g.trace(r, OpGetBlob, "type_id", typeID, "entity_id", entityID, "blob", name)
	blob, err := g.entities.OpenBlob(r.Context(), typeID, entityID, name)
	if err != nil {
		g.fail(w, r, OpGetBlob, err, "type_id", typeID, "entity_id", entityID, "blob", name)
		return
	}
	defer blob.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("X-Content-Type-Options", "nosniff")
	if blob.Info.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(blob.Info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := blob.WriteTo(r.Context(), w)
	if g.metrics != nil {
		g.metrics.RecordBlobBytes("out", n)
	}
	if err != nil {
		// Headers are gone; the client sees a short body
		loggerFrom(r.Context(), g.logger).Warn("blob stream interrupted",
			"type_id", typeID, "entity_id", entityID, "blob", name,
			"written", n, "size", blob.Info.Size, "error", err)
	}
}

// handlePutBlob handles PUT /type/{id}/entity/{entityId}/blob/{blobName}.
// The request body is streamed to the store as the blob content.
func (g *Gateway) handlePutBlob(w http.ResponseWriter, r *http.Request) {
	typeID, entityID, err := parseEntityPath(r)
	if err != nil {
		g.fail(w, r, OpPutBlob, err, "path", r.URL.Path)
		return
	}
	name := r.PathValue("blobName")

	g.trace(r, OpPutBlob, "type_id", typeID, "entity_id", entityID, "blob", name, "content_length", r.ContentLength)
	info, err := g.entities.PutBlob(r.Context(), typeID, entityID, name, r.Body)
	if err != nil {
		g.fail(w, r, OpPutBlob, err, "type_id", typeID, "entity_id", entityID, "blob", name)
		return
	}
	if g.metrics != nil {
		g.metrics.RecordBlobBytes("in", info.Size)
	}
	writeJSON(w, http.StatusOK, BlobInfoResponse{Name: info.Name, Size: info.Size})
}

// writeEntity encodes e with the given status
func (g *Gateway) writeEntity(w http.ResponseWriter, r *http.Request, op Operation, status int, e *store.Entity) {
	resp, err := toEntityResponse(e)
	if err != nil {
		g.fail(w, r, op, err, "type_id", e.TypeID, "entity_id", e.ID)
		return
	}
	writeJSON(w, status, resp)
}
