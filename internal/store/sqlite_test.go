// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers database setup, driver selection, persistence and blob file layout

package store

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	// Verify the database file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "blobs")); os.IsNotExist(err) {
		t.Error("blob directory was not created next to the database")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_UnsupportedDriver(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), WithDriver("postgres"))
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	typ, err := store.CreateType(ctx, "User")
	if err != nil {
		t.Fatalf("CreateType failed: %v", err)
	}
	e, err := store.ApplyChange(ctx, typ.ID, nil, &ChangeSummary{
		Blobs: map[string]*BlobChange{"x": {Data: []byte("abc")}},
	})
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	if e.ID != 0 {
		t.Errorf("expected first entity id 0, got %d", e.ID)
	}

	blobDir := store.blobs.dir
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(blobDir); !os.IsNotExist(err) {
		t.Errorf("temporary blob directory %s should be removed on close", blobDir)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	typ, err := store.CreateType(ctx, "Doc")
	if err != nil {
		t.Fatalf("CreateType failed: %v", err)
	}
	name := StringValue("report")
	e, err := store.ApplyChange(ctx, typ.ID, nil, &ChangeSummary{
		Properties: map[string]*Value{"title": &name},
		Blobs:      map[string]*BlobChange{"body": {Data: []byte("hello")}},
	})
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	got, err := store.GetEntity(ctx, typ.ID, e.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Properties["title"].String != "report" {
		t.Errorf("expected title 'report', got %q", got.Properties["title"].String)
	}

	rc, _, err := store.OpenBlob(ctx, typ.ID, e.ID, "body")
	if err != nil {
		t.Fatalf("OpenBlob failed: %v", err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if buf.String() != "hello" {
		t.Errorf("expected blob 'hello', got %q", buf.String())
	}

	// The id sequence survives a restart too
	next, err := store.ApplyChange(ctx, typ.ID, nil, nil)
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}
	if next.ID != e.ID+1 {
		t.Errorf("expected id %d, got %d", e.ID+1, next.ID)
	}
}

func TestSQLiteStore_Sqlite3Driver(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), WithDriver(DriverSQLite3))
	if err != nil {
		// mattn/go-sqlite3 needs cgo; without it the driver is a stub that fails on first use
		t.Skipf("sqlite3 driver unavailable: %v", err)
	}
	defer store.Close()

	typ, err := store.CreateType(context.Background(), "User")
	if err != nil {
		t.Fatalf("CreateType failed: %v", err)
	}
	if typ.ID == 0 {
		t.Error("expected a non-zero type id")
	}
}

func TestSQLiteStore_BlobFilesFollowEntityLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	blobDir := filepath.Join(tmpDir, "content")
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"), WithBlobDir(blobDir))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	typ, _ := store.CreateType(ctx, "File")
	e, err := store.ApplyChange(ctx, typ.ID, nil, &ChangeSummary{
		Blobs: map[string]*BlobChange{"a": {Data: []byte("1")}, "b": {Data: []byte("22")}},
	})
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}

	entityDir := store.blobs.entityDir(typ.ID, e.ID)
	files, err := os.ReadDir(entityDir)
	if err != nil {
		t.Fatalf("reading entity blob dir: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("expected 2 blob files, got %d", len(files))
	}

	// Replacing a blob leaves exactly one file for it
	if _, err := store.PutBlob(ctx, typ.ID, e.ID, "a", bytes.NewReader([]byte("333"))); err != nil {
		t.Fatalf("PutBlob failed: %v", err)
	}
	files, _ = os.ReadDir(entityDir)
	if len(files) != 2 {
		t.Errorf("expected 2 blob files after replace, got %d", len(files))
	}

	staging, _ := os.ReadDir(filepath.Join(blobDir, ".staging"))
	if len(staging) != 0 {
		t.Errorf("expected empty staging dir, got %d files", len(staging))
	}

	if err := store.DeleteEntity(ctx, typ.ID, e.ID); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}
	if _, err := os.Stat(entityDir); !os.IsNotExist(err) {
		t.Error("entity blob directory should be removed with the entity")
	}
}

func TestSQLiteStore_FailedChangeLeavesEntityUntouched(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	typ, _ := store.CreateType(ctx, "User")

	name := StringValue("alice")
	e, err := store.ApplyChange(ctx, typ.ID, nil, &ChangeSummary{
		Properties: map[string]*Value{"name": &name},
	})
	if err != nil {
		t.Fatalf("ApplyChange failed: %v", err)
	}

	renamed := StringValue("mallory")
	_, err = store.ApplyChange(ctx, typ.ID, &e.ID, &ChangeSummary{
		Properties: map[string]*Value{
			"name":   &renamed,
			"broken": {Type: "blob"},
		},
	})
	if err == nil {
		t.Fatal("expected error for unsupported value type")
	}

	got, err := store.GetEntity(ctx, typ.ID, e.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.Properties["name"].String != "alice" {
		t.Errorf("expected rolled back name 'alice', got %q", got.Properties["name"].String)
	}
	if _, ok := got.Properties["broken"]; ok {
		t.Error("broken property should not be stored")
	}
}

func TestSearchFilter(t *testing.T) {
	tests := []struct {
		term     string
		wantArgs []any
	}{
		{term: "", wantArgs: nil},
		{term: "   ", wantArgs: nil},
		{term: "name=alice", wantArgs: []any{"name", "alice"}},
		{term: " name = alice ", wantArgs: []any{"name", "alice"}},
		{term: "=alice", wantArgs: []any{`%=alice%`}},
		{term: "50%_off", wantArgs: []any{`%50\%\_off%`}},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			_, args := searchFilter(tt.term)
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("expected %d args, got %d (%v)", len(tt.wantArgs), len(args), args)
			}
			for i := range args {
				if args[i] != tt.wantArgs[i] {
					t.Errorf("arg %d: expected %v, got %v", i, tt.wantArgs[i], args[i])
				}
			}
		})
	}
}

func TestDataSourceName(t *testing.T) {
	tests := []struct {
		driver string
		path   string
		want   string
	}{
		{DriverSQLite, "/data/gw.db", "file:/data/gw.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"},
		{DriverSQLite3, "/data/gw.db", "file:/data/gw.db?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"},
		{DriverSQLite, "/data/what?#.db", "file:/data/what%3f%23.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"},
		{DriverSQLite, ":memory:", ":memory:"},
	}
	for _, tt := range tests {
		if got := dataSourceName(tt.driver, tt.path); got != tt.want {
			t.Errorf("dataSourceName(%q, %q) = %q, want %q", tt.driver, tt.path, got, tt.want)
		}
	}
}

func TestSQLiteStore_EveryConnectionHasBusyTimeout(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	// Hold several connections at once so the pool has to open new ones
	var conns []*sql.Conn
	for i := 0; i < 4; i++ {
		conn, err := store.db.Conn(ctx)
		if err != nil {
			t.Fatalf("Conn failed: %v", err)
		}
		conns = append(conns, conn)
	}
	for i, conn := range conns {
		var timeout int
		if err := conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
			t.Fatalf("reading busy_timeout: %v", err)
		}
		if timeout != busyTimeoutMillis {
			t.Errorf("connection %d busy_timeout = %d, want %d", i, timeout, busyTimeoutMillis)
		}
		var mode string
		if err := conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
			t.Fatalf("reading journal_mode: %v", err)
		}
		if mode != "wal" {
			t.Errorf("connection %d journal_mode = %q, want wal", i, mode)
		}
	}
	for _, conn := range conns {
		conn.Close()
	}
}
