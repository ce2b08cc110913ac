// Package store provides persistent storage for the entity gateway using SQLite.
//
// # Architecture
//
// A single Store interface covers everything the gateway needs:
//
//   - Types: ListTypes, CreateType
//   - Entities: Search, GetEntity, ApplyChange, DeleteEntity
//   - Blobs: OpenBlob, PutBlob
//
// SQLiteStore keeps types, entities and properties in SQLite and writes blob
// content to plain files under a blob directory. MockStore keeps everything
// in memory.
//
// # Data Model
//
//   - EntityType: named category with an integer id
//   - Entity: record addressed by (type id, entity id) carrying typed
//     properties and named blobs
//   - Value: string, number, boolean or date
//   - ChangeSummary: partial diff; a nil entry removes the property or blob
//
// Entity ids are allocated per type from a sequence that starts at 0 and is
// never rewound, so an id is not reused after its entity is deleted.
//
// # Search
//
// Search returns a window of entities in ascending id order together with the
// total number of matches. The count and the window are read in one
// transaction. A term of the form "name=value" matches a property exactly; any
// other non-empty term matches string properties that contain it, ignoring case.
//
// # Blob Files
//
// Blob content is laid out as <blob dir>/<type id>/<entity id>/<uuid>.blob.
// Uploads are first written to <blob dir>/.staging and renamed into place
// while the metadata transaction is open. Files replaced by a change are
// removed only after the transaction commits.
//
// # SQLite Configuration
//
// Two drivers are supported:
//
//   - "sqlite": modernc.org/sqlite, pure Go (default)
//   - "sqlite3": github.com/mattn/go-sqlite3, requires cgo
//
// File databases are opened with WAL mode, a 5s busy timeout and IMMEDIATE
// transactions on every pooled connection. ":memory:" databases are limited to a single
// connection and get a temporary blob directory that is removed on Close.
//
// # Error Handling
//
// Missing types, entities and blobs are reported as *NotFoundError, which
// matches ErrNotFound via errors.Is. Use IsNotFound to test for it.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	store := store.NewMockStore()
//	store.Err = errors.New("boom") // every operation fails
//
// Use NewSQLiteStore(":memory:") for integration tests with real SQLite.
package store
