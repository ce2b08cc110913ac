// ABOUTME: JSON wire format for types, entities, search pages and change summaries
// ABOUTME: Values travel as {"type": ..., "value": ...} with dates in RFC 3339

package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-openapi/strfmt"

	"github.com/2389/entity-gateway/internal/entity"
	"github.com/2389/entity-gateway/internal/store"
)

// maxChangeBodyBytes bounds a JSON change summary, blobs included.
// Larger blobs go through PUT .../blob/{name}.
const maxChangeBodyBytes = 32 << 20

// EntityTypeResponse is the JSON form of a store.EntityType
type EntityTypeResponse struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ValueJSON is the JSON form of a store.Value
type ValueJSON struct {
	Type  store.ValueType `json:"type"`
	Value json.RawMessage `json:"value"`
}

// BlobInfoResponse is the JSON form of a store.BlobInfo
type BlobInfoResponse struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// EntityResponse is the JSON form of a store.Entity
type EntityResponse struct {
	TypeID     int                  `json:"typeId"`
	Type       string               `json:"type"`
	ID         int64                `json:"id"`
	Properties map[string]ValueJSON `json:"properties"`
	Blobs      []BlobInfoResponse   `json:"blobs"`
}

// SearchPageResponse is the JSON form of an entity.Page
type SearchPageResponse struct {
	Items      []EntityResponse `json:"items"`
	Offset     int              `json:"offset"`
	PageSize   int              `json:"pageSize"`
	TotalCount int              `json:"totalCount"`
	HasMore    bool             `json:"hasMore"`
}

// ChangeSummaryRequest is the JSON body of create and update requests.
// A null property or blob removes it; blob content is base64.
type ChangeSummaryRequest struct {
	Properties map[string]*ValueJSON `json:"properties"`
	Blobs      map[string]*string    `json:"blobs"`
}

func encodeValue(v store.Value) (ValueJSON, error) {
	var raw any
	switch v.Type {
	case store.ValueTypeString:
		raw = v.String
	case store.ValueTypeNumber:
		raw = v.Number
	case store.ValueTypeBoolean:
		raw = v.Bool
	case store.ValueTypeDate:
		raw = strfmt.DateTime(v.Date)
	default:
		return ValueJSON{}, fmt.Errorf("unsupported value type %q", v.Type)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return ValueJSON{}, err
	}
	return ValueJSON{Type: v.Type, Value: data}, nil
}

func decodeValue(name string, vj ValueJSON) (store.Value, error) {
	if len(vj.Value) == 0 || bytes.Equal(vj.Value, []byte("null")) {
		return store.Value{}, entity.NewValidationError("properties", "attribute %q has no value", name)
	}

	switch vj.Type {
	case store.ValueTypeString:
		var s string
		if err := json.Unmarshal(vj.Value, &s); err != nil {
			return store.Value{}, entity.NewValidationError("properties", "attribute %q: expected a string", name)
		}
		return store.StringValue(s), nil
	case store.ValueTypeNumber:
		var n float64
		if err := json.Unmarshal(vj.Value, &n); err != nil {
			return store.Value{}, entity.NewValidationError("properties", "attribute %q: expected a number", name)
		}
		return store.NumberValue(n), nil
	case store.ValueTypeBoolean:
		var b bool
		if err := json.Unmarshal(vj.Value, &b); err != nil {
			return store.Value{}, entity.NewValidationError("properties", "attribute %q: expected a boolean", name)
		}
		return store.BoolValue(b), nil
	case store.ValueTypeDate:
		var s string
		if err := json.Unmarshal(vj.Value, &s); err != nil {
			return store.Value{}, entity.NewValidationError("properties", "attribute %q: expected a date string", name)
		}
		dt, err := strfmt.ParseDateTime(s)
		if err != nil {
			return store.Value{}, entity.NewValidationError("properties", "attribute %q: %v", name, err)
		}
		return store.DateValue(time.Time(dt)), nil
	default:
		return store.Value{}, entity.NewValidationError("properties", "attribute %q has unsupported type %q", name, vj.Type)
	}
}

func toEntityResponse(e *store.Entity) (EntityResponse, error) {
	resp := EntityResponse{
		TypeID:     e.TypeID,
		Type:       e.TypeName,
		ID:         e.ID,
		Properties: make(map[string]ValueJSON, len(e.Properties)),
		Blobs:      make([]BlobInfoResponse, 0, len(e.Blobs)),
	}
	for name, v := range e.Properties {
		vj, err := encodeValue(v)
		if err != nil {
			return EntityResponse{}, fmt.Errorf("encoding attribute %q: %w", name, err)
		}
		resp.Properties[name] = vj
	}
	for _, b := range e.Blobs {
		resp.Blobs = append(resp.Blobs, BlobInfoResponse{Name: b.Name, Size: b.Size})
	}
	return resp, nil
}

func toSearchPageResponse(p *entity.Page) (SearchPageResponse, error) {
	resp := SearchPageResponse{
		Items:      make([]EntityResponse, 0, len(p.Items)),
		Offset:     p.Offset,
		PageSize:   p.PageSize,
		TotalCount: p.Total,
		HasMore:    p.HasMore,
	}
	for i := range p.Items {
		item, err := toEntityResponse(&p.Items[i])
		if err != nil {
			return SearchPageResponse{}, err
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

// decodeChangeSummary reads a change summary from a request body. An empty
// body is an empty change. Malformed input is a validation error.
func decodeChangeSummary(w http.ResponseWriter, r *http.Request) (*store.ChangeSummary, error) {
	body := http.MaxBytesReader(w, r.Body, maxChangeBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	var req ChangeSummaryRequest
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return &store.ChangeSummary{}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, entity.NewValidationError("body", "exceeds %d bytes", tooLarge.Limit)
		}
		return nil, entity.NewValidationError("body", "invalid JSON: %v", err)
	}
	if dec.More() {
		return nil, entity.NewValidationError("body", "unexpected data after JSON object")
	}

	change := &store.ChangeSummary{
		Properties: make(map[string]*store.Value, len(req.Properties)),
		Blobs:      make(map[string]*store.BlobChange, len(req.Blobs)),
	}
	for name, vj := range req.Properties {
		if vj == nil {
			change.Properties[name] = nil
			continue
		}
		v, err := decodeValue(name, *vj)
		if err != nil {
			return nil, err
		}
		change.Properties[name] = &v
	}
	for name, encoded := range req.Blobs {
		if encoded == nil {
			change.Blobs[name] = nil
			continue
		}
		data, err := base64.StdEncoding.DecodeString(*encoded)
		if err != nil {
			return nil, entity.NewValidationError("blobs", "blob %q is not valid base64", name)
		}
		change.Blobs[name] = &store.BlobChange{Data: data}
	}
	return change, nil
}

// writeJSON writes v as a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// changeFingerprint hashes a decoded change summary so a reused
// Idempotency-Key can be matched against the request that first claimed it.
// Map keys marshal in sorted order, so formatting differences in the original
// body do not change the result.
func changeFingerprint(change *store.ChangeSummary) (string, error) {
	raw, err := json.Marshal(struct {
		Properties map[string]*store.Value      `json:"p,omitempty"`
		Blobs      map[string]*store.BlobChange `json:"b,omitempty"`
	}{change.Properties, change.Blobs})
	if err != nil {
		return "", fmt.Errorf("fingerprinting change summary: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
