package relaydiff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func exerciseEntryStore(t *testing.T, store EntryStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "meta:D1:0000000001000:missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", err)
	}

	keys := []string{
		MetadataKey("D1", 1002, "h2"),
		MetadataKey("D1", 1000, "h1"),
		MetadataKey("D2", 1001, "h3"),
		BlobKey(MetadataKey("D1", 1000, "h1")),
	}
	for i, key := range keys {
		if err := store.Put(ctx, key, []byte{byte('a' + i)}); err != nil {
			t.Fatalf("put %s failed: %v", key, err)
		}
	}

	value, err := store.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(value) != "a" {
		t.Fatalf("expected value a, got %q", value)
	}

	if err := store.Put(ctx, keys[0], []byte("overwritten")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	value, err = store.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("get after overwrite failed: %v", err)
	}
	if string(value) != "overwritten" {
		t.Fatalf("expected overwritten value, got %q", value)
	}

	start, end := CollectionRange(CollectionMetadata)
	entries, err := store.Scan(ctx, start, end)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 metadata entries, got %d", len(entries))
	}
	want := []string{
		MetadataKey("D1", 1000, "h1"),
		MetadataKey("D1", 1002, "h2"),
		MetadataKey("D2", 1001, "h3"),
	}
	for i := range want {
		if entries[i].Key != want[i] {
			t.Fatalf("scan position %d: expected %s, got %s", i, want[i], entries[i].Key)
		}
	}

	// the end bound is exclusive
	entries, err = store.Scan(ctx, MetadataKey("D1", 1000, "h1"), MetadataKey("D1", 1002, "h2"))
	if err != nil {
		t.Fatalf("bounded scan failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != MetadataKey("D1", 1000, "h1") {
		t.Fatalf("expected only the start key in bounded scan, got %+v", entries)
	}

	entries, err = store.Scan(ctx, "zzz", "zzzz")
	if err != nil {
		t.Fatalf("empty scan failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty scan, got %d entries", len(entries))
	}

	if err := store.Remove(ctx, keys[1]); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := store.Get(ctx, keys[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := store.Remove(ctx, keys[1]); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}
}

func TestInMemoryEntryStore(t *testing.T) {
	exerciseEntryStore(t, NewInMemoryEntryStore())
}

func TestInMemoryEntryStoreCopiesValues(t *testing.T) {
	store := NewInMemoryEntryStore()
	ctx := context.Background()
	value := []byte("abc")
	if err := store.Put(ctx, "k", value); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	value[0] = 'x'
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("expected stored value to be unaffected by caller mutation, got %q", got)
	}
}

func TestInMemoryEntryStoreCancelledContext(t *testing.T) {
	store := NewInMemoryEntryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Put(ctx, "k", []byte("v")); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestJSONFileEntryStore(t *testing.T) {
	store, err := NewJSONFileEntryStore(filepath.Join(t.TempDir(), "nested", "entries.json"))
	if err != nil {
		t.Fatalf("new json file store failed: %v", err)
	}
	exerciseEntryStore(t, store)
}

func TestJSONFileEntryStoreSharedAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")
	first, err := NewJSONFileEntryStore(path)
	if err != nil {
		t.Fatalf("new first store failed: %v", err)
	}
	second, err := NewJSONFileEntryStore(path)
	if err != nil {
		t.Fatalf("new second store failed: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store := first
			if i%2 == 1 {
				store = second
			}
			if err := store.Put(ctx, MetadataKey("D1", int64(1000+i), "h"), []byte("v")); err != nil {
				t.Errorf("concurrent put %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	start, end := CollectionRange(CollectionMetadata)
	entries, err := second.Scan(ctx, start, end)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(entries) != 20 {
		t.Fatalf("expected 20 entries across instances, got %d", len(entries))
	}
}

func TestJSONFileEntryStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file failed: %v", err)
	}
	store, err := NewJSONFileEntryStore(path)
	if err != nil {
		t.Fatalf("new json file store failed: %v", err)
	}
	if _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable for corrupt file, got %v", err)
	}
}

func TestSQLiteEntryStore(t *testing.T) {
	store, err := NewSQLiteEntryStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("new sqlite store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	exerciseEntryStore(t, store)
}

func TestSQLiteEntryStoreAppliesPragmas(t *testing.T) {
	store, err := NewSQLiteEntryStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("new sqlite store failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	var busyTimeout int
	if err := store.db.QueryRow("PRAGMA busy_timeout;").Scan(&busyTimeout); err != nil {
		t.Fatalf("read busy_timeout failed: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("expected busy_timeout 5000, got %d", busyTimeout)
	}
	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("read journal_mode failed: %v", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Fatalf("expected wal journal mode, got %s", journalMode)
	}
}

func TestSQLiteEntryStoreReportsPragmaFailure(t *testing.T) {
	// a directory cannot hold a database, so the first pragma touching the file fails
	_, err := NewSQLiteEntryStore(t.TempDir())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "PRAGMA") {
		t.Fatalf("expected the failing pragma in the error, got %v", err)
	}
}

func TestSQLiteEntryStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	store, err := NewSQLiteEntryStore(path)
	if err != nil {
		t.Fatalf("new sqlite store failed: %v", err)
	}
	ctx := context.Background()
	if err := store.Put(ctx, "meta:D1:0000000001000:h1", []byte("persisted")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewSQLiteEntryStore(path)
	if err != nil {
		t.Fatalf("reopen sqlite store failed: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	value, err := reopened.Get(ctx, "meta:D1:0000000001000:h1")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if string(value) != "persisted" {
		t.Fatalf("expected persisted value, got %q", value)
	}
}
