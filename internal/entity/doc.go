// Package entity implements the gateway's entity operations on top of a
// store.Store.
//
// # Service
//
// The Service validates requests before they reach the store:
//
//	svc := entity.New(st, entity.Config{ChunkSize: 64 * 1024}, logger)
//
//   - Search(ctx, typeID, term, offset, pageSize): windowed search
//   - Get / Create / Update / Delete: single-entity operations
//   - OpenBlob / PutBlob: blob content
//
// # Pagination
//
// Pager turns a requested (offset, pageSize) into an effective page size.
// Negative values fail with a ValidationError before the store is called.
// pageSize 0 selects the default (50) and values above the maximum (1000) are
// clamped. A page carries the effective size, the total match count and a
// HasMore flag.
//
// # Change Summaries
//
// Create and Update take a store.ChangeSummary. Update merges: attributes the
// summary does not mention keep their value, nil entries remove. Names must be
// non-empty, at most 255 bytes and free of control characters; blob names
// must also be a single path segment.
//
// # Blob Streaming
//
// OpenBlob returns a *Blob whose WriteTo copies content in chunks from a
// buffer pool and flushes after each chunk. Always Close the Blob.
//
// # Errors
//
// Validation failures match ErrInvalidInput. Store failures are wrapped with
// the operation and ids, so store.ErrNotFound stays visible to errors.Is.
package entity
