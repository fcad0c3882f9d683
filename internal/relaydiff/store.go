package relaydiff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrMalformedEntry   = errors.New("malformed entry")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotImplemented   = errors.New("not implemented")
)

type MalformedEntryError struct {
	Key    string
	Reason string
}

func (e *MalformedEntryError) Error() string {
	if e.Key == "" {
		return "malformed entry: " + e.Reason
	}
	return fmt.Sprintf("malformed entry %s: %s", e.Key, e.Reason)
}

func (e *MalformedEntryError) Is(target error) bool {
	return target == ErrMalformedEntry
}

type StoredEntry struct {
	Key   string
	Value []byte
}

// EntryStore is the persistence layer shared by every viewer. Scan returns
// entries with start <= key < end in ascending key order.
type EntryStore interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Scan(ctx context.Context, start, end string) ([]StoredEntry, error)
	Remove(ctx context.Context, key string) error
	Close() error
}

// watchPathProvider is implemented by stores backed by a local file whose
// modifications can be observed by other processes.
type watchPathProvider interface {
	WatchPath() string
}

type InMemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewInMemoryEntryStore() *InMemoryEntryStore {
	return &InMemoryEntryStore{entries: map[string][]byte{}}
}

func (s *InMemoryEntryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryEntryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (s *InMemoryEntryStore) Scan(ctx context.Context, start, end string) ([]StoredEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanEntries(s.entries, start, end), nil
}

func (s *InMemoryEntryStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *InMemoryEntryStore) Close() error {
	return nil
}

// JSONFileEntryStore keeps every entry in one JSON document. Each operation
// re-reads the file under an advisory lock so several viewer processes can
// share it; writes go through a temp file and rename.
type JSONFileEntryStore struct {
	path string
	mu   sync.Mutex
}

type jsonFileSnapshot struct {
	Entries map[string]string `json:"entries"`
}

func NewJSONFileEntryStore(path string) (*JSONFileEntryStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &JSONFileEntryStore{path: path}, nil
}

func (s *JSONFileEntryStore) WatchPath() string {
	return s.path
}

func (s *JSONFileEntryStore) Put(ctx context.Context, key string, value []byte) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidInput
	}
	return s.update(ctx, func(entries map[string]string) (bool, error) {
		entries[key] = string(value)
		return true, nil
	})
}

func (s *JSONFileEntryStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.view(ctx, func(entries map[string]string) error {
		value, ok := entries[key]
		if !ok {
			return ErrNotFound
		}
		out = []byte(value)
		return nil
	})
	return out, err
}

func (s *JSONFileEntryStore) Scan(ctx context.Context, start, end string) ([]StoredEntry, error) {
	var out []StoredEntry
	err := s.view(ctx, func(entries map[string]string) error {
		raw := make(map[string][]byte, len(entries))
		for k, v := range entries {
			raw[k] = []byte(v)
		}
		out = scanEntries(raw, start, end)
		return nil
	})
	return out, err
}

func (s *JSONFileEntryStore) Remove(ctx context.Context, key string) error {
	return s.update(ctx, func(entries map[string]string) (bool, error) {
		if _, ok := entries[key]; !ok {
			return false, ErrNotFound
		}
		delete(entries, key)
		return true, nil
	})
}

func (s *JSONFileEntryStore) Close() error {
	return nil
}

func (s *JSONFileEntryStore) view(ctx context.Context, fn func(map[string]string) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer unlock()
	entries, err := s.loadLocked()
	if err != nil {
		return err
	}
	return fn(entries)
}

func (s *JSONFileEntryStore) update(ctx context.Context, fn func(map[string]string) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer unlock()
	entries, err := s.loadLocked()
	if err != nil {
		return err
	}
	changed, err := fn(entries)
	if err != nil || !changed {
		return err
	}
	return s.saveLocked(entries)
}

func (s *JSONFileEntryStore) loadLocked() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]string{}, nil
	}
	var snapshot jsonFileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrStoreUnavailable, s.path, err)
	}
	if snapshot.Entries == nil {
		snapshot.Entries = map[string]string{}
	}
	return snapshot.Entries, nil
}

func (s *JSONFileEntryStore) saveLocked(entries map[string]string) error {
	data, err := json.Marshal(jsonFileSnapshot{Entries: entries})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func scanEntries(entries map[string][]byte, start, end string) []StoredEntry {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		if key >= start && key < end {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	out := make([]StoredEntry, 0, len(keys))
	for _, key := range keys {
		out = append(out, StoredEntry{Key: key, Value: append([]byte(nil), entries[key]...)})
	}
	return out
}
