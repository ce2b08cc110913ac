// ABOUTME: Tests for the entity HTTP API handlers
// ABOUTME: Covers search windows, CRUD round trips, blobs, idempotent creates and error statuses

package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/entity-gateway/internal/config"
	"github.com/2389/entity-gateway/internal/store"
)

// userType is the id of "User" after seeding Group, Role, User
const userType = 3

// countingStore counts Search calls reaching the adapter
type countingStore struct {
	store.Store

	mu       sync.Mutex
	searches int
}

func (c *countingStore) Search(ctx context.Context, q store.SearchQuery) (*store.SearchResult, error) {
	c.mu.Lock()
	c.searches++
	c.mu.Unlock()
	return c.Store.Search(ctx, q)
}

func (c *countingStore) Searches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searches
}

func sqliteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	return s
}

// forEachStore runs fn against a gateway over each store adapter
func forEachStore(t *testing.T, fn func(t *testing.T, gw *Gateway)) {
	t.Run("mock", func(t *testing.T) {
		fn(t, newTestGateway(t, store.NewMockStore()))
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newTestGateway(t, sqliteStore(t)))
	})
}

func decode[T any](t *testing.T, body *bytes.Buffer) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(body.Bytes(), &v), "body: %s", body.String())
	return v
}

func createUser(t *testing.T, gw *Gateway, body string) EntityResponse {
	t.Helper()
	rec := do(t, gw, http.MethodPost, fmt.Sprintf("/type/%d/entity", userType), []byte(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[EntityResponse](t, rec.Body)
}

func seedUsers(t *testing.T, gw *Gateway, n int, name func(i int) string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		v := store.StringValue(name(i))
		_, err := gw.entities.Create(ctx, userType, &store.ChangeSummary{
			Properties: map[string]*store.Value{"name": &v},
		})
		require.NoError(t, err)
	}
}

func TestListTypes(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		rec := do(t, gw, http.MethodGet, "/types", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		types := decode[[]EntityTypeResponse](t, rec.Body)
		assert.Equal(t, []EntityTypeResponse{
			{ID: 1, Name: "Group"},
			{ID: 2, Name: "Role"},
			{ID: 3, Name: "User"},
		}, types)
	})
}

func TestSearch_PageSizeNormalization(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())
	seedUsers(t, gw, 1200, func(i int) string { return fmt.Sprintf("user %d", i) })

	tests := []struct {
		pageSize int
		want     int
	}{
		{0, 50},
		{1, 1},
		{1000, 1000},
		{1001, 1000},
		{5000, 1000},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("pageSize=%d", tt.pageSize), func(t *testing.T) {
			rec := do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entities?pageSize=%d", userType, tt.pageSize), nil)
			require.Equal(t, http.StatusOK, rec.Code)

			page := decode[SearchPageResponse](t, rec.Body)
			assert.Len(t, page.Items, tt.want)
			assert.Equal(t, tt.want, page.PageSize)
			assert.Equal(t, 1200, page.TotalCount)
			assert.True(t, page.HasMore)
		})
	}
}

func TestSearch_WindowNeverExceedsRemaining(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())
	seedUsers(t, gw, 60, func(i int) string { return fmt.Sprintf("user %d", i) })

	rec := do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entities?offset=55&pageSize=50", userType), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[SearchPageResponse](t, rec.Body)
	assert.Len(t, page.Items, 5)
	assert.False(t, page.HasMore)

	rec = do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entities?offset=500", userType), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[SearchPageResponse](t, rec.Body)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items, "items encode as [] rather than null")
	assert.Equal(t, 60, page.TotalCount)
}

func TestSearch_NegativeWindowIsRejectedBeforeStore(t *testing.T) {
	cs := &countingStore{Store: store.NewMockStore()}
	gw := newTestGateway(t, cs)

	for _, query := range []string{"offset=-1", "pageSize=-1", "offset=-5&pageSize=-5"} {
		t.Run(query, func(t *testing.T) {
			rec := do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entities?%s", userType, query), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec.Body)
			assert.Equal(t, http.StatusText(http.StatusBadRequest), resp.Error)
			assert.Contains(t, resp.Detail, "validation failed")
		})
	}
	assert.Equal(t, 0, cs.Searches(), "no store call for rejected windows")
}

func TestSearch_UnparsableQueryIsBadRequest(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())

	for _, query := range []string{"offset=abc", "pageSize=1.5", "offset=99999999999999999999"} {
		rec := do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entities?%s", userType, query), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestSearch_UnknownTypeIsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		rec := do(t, gw, http.MethodGet, "/type/99/entities", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSearch_TermOverSQLite(t *testing.T) {
	gw := newTestGateway(t, sqliteStore(t))
	for i := 0; i < 150; i++ {
		name := fmt.Sprintf("bob %d", i)
		if i%5 != 0 {
			name = fmt.Sprintf("alice %d", i)
		}
		seedUsers(t, gw, 1, func(int) string { return name })
	}

	path := fmt.Sprintf("/type/%d/entities?q=alice&offset=0&pageSize=0", userType)
	first := decode[SearchPageResponse](t, do(t, gw, http.MethodGet, path, nil).Body)
	second := decode[SearchPageResponse](t, do(t, gw, http.MethodGet, path, nil).Body)

	assert.Equal(t, 120, first.TotalCount)
	assert.Len(t, first.Items, 50)
	assert.Equal(t, 50, first.PageSize)
	assert.True(t, first.HasMore)

	require.Len(t, second.Items, len(first.Items))
	for i := range first.Items {
		assert.Equal(t, first.Items[i].ID, second.Items[i].ID, "item %d", i)
		var name string
		require.NoError(t, json.Unmarshal(first.Items[i].Properties["name"].Value, &name))
		assert.True(t, strings.HasPrefix(name, "alice"), name)
	}
}

func TestUnparsablePathIsNotFound(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/type/abc/entities"},
		{http.MethodGet, "/type/3/entity/xyz"},
		{http.MethodGet, "/type/-1/entity/1"},
		{http.MethodPut, "/type/3/entity/1.5"},
		{http.MethodDelete, "/type/3/entity/abc"},
		{http.MethodPost, "/type/abc/entity"},
		{http.MethodGet, "/type/3/entity/abc/blob/x"},
	}
	for _, tt := range tests {
		rec := do(t, gw, tt.method, tt.path, []byte(`{}`))
		assert.Equal(t, http.StatusNotFound, rec.Code, "%s %s", tt.method, tt.path)
	}
}

func TestCreateThenGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		created := createUser(t, gw, `{
			"properties": {
				"name":   {"type": "string", "value": "alice"},
				"age":    {"type": "number", "value": 41},
				"admin":  {"type": "boolean", "value": true},
				"joined": {"type": "date", "value": "2024-05-01T10:00:00Z"},
				"gone":   null
			}
		}`)
		assert.Equal(t, userType, created.TypeID)
		assert.Equal(t, "User", created.Type)

		rec := do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entity/%d", userType, created.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		got := decode[EntityResponse](t, rec.Body)

		assert.Equal(t, created.ID, got.ID)
		require.Len(t, got.Properties, 4, "removals in a create are no-ops")
		assert.JSONEq(t, `"alice"`, string(got.Properties["name"].Value))
		assert.JSONEq(t, `41`, string(got.Properties["age"].Value))
		assert.JSONEq(t, `true`, string(got.Properties["admin"].Value))
		assert.Equal(t, store.ValueTypeDate, got.Properties["joined"].Type)

		var joined string
		require.NoError(t, json.Unmarshal(got.Properties["joined"].Value, &joined))
		ts, err := time.Parse(time.RFC3339, joined)
		require.NoError(t, err)
		assert.True(t, ts.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), joined)
		assert.Empty(t, got.Blobs)
	})
}

func TestCreate_EmptyBody(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())
	rec := do(t, gw, http.MethodPost, fmt.Sprintf("/type/%d/entity", userType), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	e := decode[EntityResponse](t, rec.Body)
	assert.Empty(t, e.Properties)
}

func TestCreate_InvalidBodies(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())

	bodies := map[string]string{
		"malformed":     `{"properties":`,
		"unknown field": `{"props": {}}`,
		"bad type":      `{"properties": {"a": {"type": "uuid", "value": "x"}}}`,
		"type mismatch": `{"properties": {"a": {"type": "number", "value": "forty"}}}`,
		"bad date":      `{"properties": {"a": {"type": "date", "value": "yesterday"}}}`,
		"missing value": `{"properties": {"a": {"type": "string"}}}`,
		"bad base64":    `{"blobs": {"a": "***"}}`,
		"bad blob name": `{"blobs": {"../a": "aGk="}}`,
		"empty name":    `{"properties": {"": {"type": "string", "value": "x"}}}`,
		"trailing data": `{} {}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			rec := do(t, gw, http.MethodPost, fmt.Sprintf("/type/%d/entity", userType), []byte(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	page, err := gw.entities.Search(context.Background(), userType, "", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, page.Total, "rejected creates allocate nothing")
}

func TestCreate_UnknownTypeIsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		rec := do(t, gw, http.MethodPost, "/type/42/entity", []byte(`{}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUpdateMerges(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		created := createUser(t, gw, `{"properties": {
			"a": {"type": "number", "value": 1},
			"b": {"type": "number", "value": 2},
			"c": {"type": "string", "value": "drop me"}
		}}`)

		path := fmt.Sprintf("/type/%d/entity/%d", userType, created.ID)
		rec := do(t, gw, http.MethodPut, path, []byte(`{"properties": {"b": {"type": "number", "value": 3}, "c": null}}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		updated := decode[EntityResponse](t, rec.Body)

		require.Len(t, updated.Properties, 2)
		assert.JSONEq(t, `1`, string(updated.Properties["a"].Value))
		assert.JSONEq(t, `3`, string(updated.Properties["b"].Value))

		got := decode[EntityResponse](t, do(t, gw, http.MethodGet, path, nil).Body)
		assert.Equal(t, updated, got)
	})
}

func TestUpdate_MissingEntityIsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		rec := do(t, gw, http.MethodPut, fmt.Sprintf("/type/%d/entity/777", userType),
			[]byte(`{"properties": {"a": {"type": "number", "value": 1}}}`))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteThenGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		created := createUser(t, gw, `{"properties": {"name": {"type": "string", "value": "carol"}}, "blobs": {"avatar": "aGVsbG8="}}`)
		path := fmt.Sprintf("/type/%d/entity/%d", userType, created.ID)

		rec := do(t, gw, http.MethodDelete, path, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())

		assert.Equal(t, http.StatusNotFound, do(t, gw, http.MethodGet, path, nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, gw, http.MethodGet, path+"/blob/avatar", nil).Code)
	})
}

func TestDeleteAbsentEntityIsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		rec := do(t, gw, http.MethodDelete, fmt.Sprintf("/type/%d/entity/12345", userType), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		created := createUser(t, gw, `{}`)
		path := fmt.Sprintf("/type/%d/entity/%d", userType, created.ID)
		require.Equal(t, http.StatusNoContent, do(t, gw, http.MethodDelete, path, nil).Code)
		assert.Equal(t, http.StatusNotFound, do(t, gw, http.MethodDelete, path, nil).Code)
	})
}

func TestBlobRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		created := createUser(t, gw, `{}`)
		path := fmt.Sprintf("/type/%d/entity/%d/blob/photo.png", userType, created.ID)

		payload := make([]byte, 200*1024+3)
		for i := range payload {
			payload[i] = byte(i * 31 % 256)
		}

		rec := do(t, gw, http.MethodPut, path, payload)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		info := decode[BlobInfoResponse](t, rec.Body)
		assert.Equal(t, BlobInfoResponse{Name: "photo.png", Size: int64(len(payload))}, info)

		rec = do(t, gw, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, fmt.Sprint(len(payload)), rec.Header().Get("Content-Length"))
		assert.True(t, bytes.Equal(payload, rec.Body.Bytes()), "blob bytes differ")
		assert.True(t, rec.Flushed, "blob is flushed while streaming")

		e := decode[EntityResponse](t, do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entity/%d", userType, created.ID), nil).Body)
		assert.Equal(t, []BlobInfoResponse{{Name: "photo.png", Size: int64(len(payload))}}, e.Blobs)
	})
}

func TestBlobThroughChangeSummary(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		content := []byte("hello, blob")
		created := createUser(t, gw, fmt.Sprintf(`{"blobs": {"greeting": %q}}`, base64.StdEncoding.EncodeToString(content)))
		require.Len(t, created.Blobs, 1)

		path := fmt.Sprintf("/type/%d/entity/%d", userType, created.ID)
		rec := do(t, gw, http.MethodGet, path+"/blob/greeting", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, content, rec.Body.Bytes())

		rec = do(t, gw, http.MethodPut, path, []byte(`{"blobs": {"greeting": null}}`))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[EntityResponse](t, rec.Body).Blobs)
		assert.Equal(t, http.StatusNotFound, do(t, gw, http.MethodGet, path+"/blob/greeting", nil).Code)
	})
}

func TestBlob_MissingIsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		created := createUser(t, gw, `{}`)

		rec := do(t, gw, http.MethodGet, fmt.Sprintf("/type/%d/entity/%d/blob/nope", userType, created.ID), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), "no blob headers on failure")

		rec = do(t, gw, http.MethodPut, fmt.Sprintf("/type/%d/entity/%d/blob/x", userType, created.ID+100), []byte("data"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestErrorPolicy_StoreFaults(t *testing.T) {
	ms := store.NewMockStore()
	gw := newTestGateway(t, ms)
	ms.Err = errors.New("disk on fire")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/types", http.StatusNotFound},
		{http.MethodGet, "/type/3/entities", http.StatusNotFound},
		{http.MethodGet, "/type/3/entity/1", http.StatusNotFound},
		{http.MethodGet, "/type/3/entity/1/blob/x", http.StatusInternalServerError},
		{http.MethodPost, "/type/3/entity", http.StatusInternalServerError},
		{http.MethodPut, "/type/3/entity/1", http.StatusInternalServerError},
		{http.MethodDelete, "/type/3/entity/1", http.StatusInternalServerError},
		{http.MethodPut, "/type/3/entity/1/blob/x", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := do(t, gw, tt.method, tt.path, []byte(`{}`))
		assert.Equal(t, tt.want, rec.Code, "%s %s", tt.method, tt.path)

		resp := decode[ErrorResponse](t, rec.Body)
		assert.Equal(t, http.StatusText(tt.want), resp.Error, "store details are not leaked")
	}
}

func TestErrorPolicy_Replaceable(t *testing.T) {
	ms := store.NewMockStore()
	gw := newTestGateway(t, ms)
	ms.Err = errors.New("disk on fire")

	gw.SetErrorPolicy(StrictErrorPolicy)
	assert.Equal(t, http.StatusInternalServerError, do(t, gw, http.MethodGet, "/type/3/entity/1", nil).Code)

	gw.SetErrorPolicy(func(op Operation, err error) int { return http.StatusTeapot })
	assert.Equal(t, http.StatusTeapot, do(t, gw, http.MethodGet, "/types", nil).Code)

	gw.SetErrorPolicy(func(op Operation, err error) int { return http.StatusOK })
	assert.Equal(t, http.StatusInternalServerError, do(t, gw, http.MethodGet, "/types", nil).Code,
		"non-error statuses are coerced to 500")

	gw.SetErrorPolicy(nil)
	assert.Equal(t, http.StatusNotFound, do(t, gw, http.MethodGet, "/types", nil).Code)
}

func TestIdempotentCreate(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		body := []byte(`{"properties": {"name": {"type": "string", "value": "dave"}}}`)
		path := fmt.Sprintf("/type/%d/entity", userType)

		first := do(t, gw, http.MethodPost, path, body, IdempotencyKeyHeader, "req-1")
		require.Equal(t, http.StatusOK, first.Code)
		assert.Empty(t, first.Header().Get(IdempotentReplayedHeader))
		created := decode[EntityResponse](t, first.Body)

		// Same content, different formatting
		retryBody := []byte(`{"properties":{"name":{"value":"dave","type":"string"}}}`)
		retry := do(t, gw, http.MethodPost, path, retryBody, IdempotencyKeyHeader, "req-1")
		require.Equal(t, http.StatusOK, retry.Code)
		assert.Equal(t, "true", retry.Header().Get(IdempotentReplayedHeader))
		assert.Equal(t, created, decode[EntityResponse](t, retry.Body))

		other := do(t, gw, http.MethodPost, path, body, IdempotencyKeyHeader, "req-2")
		require.Equal(t, http.StatusOK, other.Code)
		assert.NotEqual(t, created.ID, decode[EntityResponse](t, other.Body).ID)

		// Keys are scoped per type
		rec := do(t, gw, http.MethodPost, "/type/1/entity", body, IdempotencyKeyHeader, "req-1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[EntityResponse](t, rec.Body).TypeID)

		page, err := gw.entities.Search(context.Background(), userType, "", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})
}

func TestIdempotentCreate_FailureReleasesKey(t *testing.T) {
	ms := store.NewMockStore()
	gw := newTestGateway(t, ms)
	path := fmt.Sprintf("/type/%d/entity", userType)

	ms.Err = errors.New("disk on fire")
	rec := do(t, gw, http.MethodPost, path, []byte(`{}`), IdempotencyKeyHeader, "k")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	ms.Err = nil
	rec = do(t, gw, http.MethodPost, path, []byte(`{}`), IdempotencyKeyHeader, "k")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotentCreate_DifferentBodyIsRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		path := fmt.Sprintf("/type/%d/entity", userType)

		first := do(t, gw, http.MethodPost, path, []byte(`{"properties": {"name": {"type": "string", "value": "erin"}}}`),
			IdempotencyKeyHeader, "req-1")
		require.Equal(t, http.StatusOK, first.Code)

		rec := do(t, gw, http.MethodPost, path, []byte(`{"properties": {"name": {"type": "string", "value": "frank"}}}`),
			IdempotencyKeyHeader, "req-1")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, http.StatusText(http.StatusUnprocessableEntity), decode[ErrorResponse](t, rec.Body).Error)

		page, err := gw.entities.Search(context.Background(), userType, "", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total, "the mismatched request creates nothing")
	})
}

func TestIdempotentCreate_PendingIsConflict(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())
	change, err := decodeChangeSummary(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)))
	require.NoError(t, err)
	fingerprint, err := changeFingerprint(change)
	require.NoError(t, err)
	gw.idem.Begin(fmt.Sprintf("%d:%s", userType, "in-flight"), fingerprint)

	rec := do(t, gw, http.MethodPost, fmt.Sprintf("/type/%d/entity", userType), []byte(`{}`), IdempotencyKeyHeader, "in-flight")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestIdempotentCreate_KeyTooLong(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore())
	rec := do(t, gw, http.MethodPost, fmt.Sprintf("/type/%d/entity", userType), []byte(`{}`),
		IdempotencyKeyHeader, strings.Repeat("k", maxIdempotencyKeyLength+1))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlobStreamsInConfiguredChunks(t *testing.T) {
	gw := newTestGateway(t, store.NewMockStore(), func(c *config.Config) {
		c.Blobs.ChunkSize = 1024
	})
	created := createUser(t, gw, `{}`)
	path := fmt.Sprintf("/type/%d/entity/%d/blob/data", userType, created.ID)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 1000)
	require.Equal(t, http.StatusOK, do(t, gw, http.MethodPut, path, payload).Code)

	rec := do(t, gw, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, 1024, gw.entities.ChunkSize())
}

func TestConcurrentWrites(t *testing.T) {
	forEachStore(t, func(t *testing.T, gw *Gateway) {
		shared := createUser(t, gw, `{}`)
		createPath := fmt.Sprintf("/type/%d/entity", userType)
		sharedPath := fmt.Sprintf("/type/%d/entity/%d", userType, shared.ID)
		searchPath := fmt.Sprintf("/type/%d/entities", userType)

		const workers, perWorker = 16, 10
		var (
			mu       sync.Mutex
			failures []string
			wg       sync.WaitGroup
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					body := fmt.Sprintf(`{"properties": {"w%d": {"type": "number", "value": %d}}}`, w, i)
					for _, req := range []struct{ method, path string }{
						{http.MethodPost, createPath},
						{http.MethodPut, sharedPath},
						{http.MethodGet, searchPath},
					} {
						rec := do(t, gw, req.method, req.path, []byte(body))
						if rec.Code != http.StatusOK {
							mu.Lock()
							failures = append(failures, fmt.Sprintf("%s %s -> %d %s", req.method, req.path, rec.Code, rec.Body.String()))
							mu.Unlock()
						}
					}
				}
			}(w)
		}
		wg.Wait()

		require.Empty(t, failures)

		page, err := gw.entities.Search(context.Background(), userType, "", 0, 0)
		require.NoError(t, err)
		assert.Equal(t, workers*perWorker+1, page.Total)

		got := do(t, gw, http.MethodGet, sharedPath, nil)
		require.Equal(t, http.StatusOK, got.Code)
		assert.Len(t, decode[EntityResponse](t, got.Body).Properties, workers)
	})
}
