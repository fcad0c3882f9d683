package relaydiff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

type ServiceOptions struct {
	Config Config
	Logger Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Service owns the entry store for one process. It is opened once, sweeps
// expired entries on open and is shared by every controller in the process.
type Service struct {
	store  EntryStore
	cfg    Config
	logger Logger
	now    func() time.Time

	sweepOnce sync.Once
	sweep     SweepResult
}

func OpenService(ctx context.Context, store EntryStore, opts ServiceOptions) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: entry store is required", ErrInvalidInput)
	}
	s := &Service{
		store:  store,
		cfg:    opts.Config.Normalize(),
		logger: opts.Logger,
		now:    opts.Now,
	}
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.sweepOnce.Do(func() {
		s.sweep = s.Sweep(ctx)
	})
	return s, nil
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) Store() EntryStore {
	return s.store
}

// InitialSweep reports what the open-time sweep removed.
func (s *Service) InitialSweep() SweepResult {
	return s.sweep
}

func (s *Service) Close() error {
	return s.store.Close()
}

// Register writes the diff blob and then its metadata record. The metadata
// goes last so no reader can discover an entry whose content is missing.
func (s *Service) Register(ctx context.Context, meta SessionMetadata, diff string) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	blob, err := encodeBlob(diff)
	if err != nil {
		return err
	}
	record, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, meta.BlobID(), blob); err != nil {
		return fmt.Errorf("put blob %s: %w", meta.BlobID(), err)
	}
	if err := s.store.Put(ctx, meta.EntryID(), record); err != nil {
		return fmt.Errorf("put metadata %s: %w", meta.EntryID(), err)
	}
	return nil
}

func (s *Service) Blob(ctx context.Context, meta SessionMetadata) (DiffBlob, error) {
	key := meta.BlobID()
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return DiffBlob{}, fmt.Errorf("get blob %s: %w", key, err)
	}
	return decodeBlob(key, data)
}

// CountInWindow returns how many metadata records of directoryHash fall within
// the grouping window of referenceTimestamp.
func (s *Service) CountInWindow(ctx context.Context, directoryHash string, referenceTimestamp int64) (int, error) {
	start, end := RangeForWindow(directoryHash, referenceTimestamp, s.cfg.GroupingWindow)
	entries, err := s.store.Scan(ctx, start, end)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// CollectInWindow visits each valid metadata record of the window in key
// order. Malformed records are logged and skipped.
func (s *Service) CollectInWindow(ctx context.Context, directoryHash string, referenceTimestamp int64, visit func(SessionMetadata)) error {
	start, end := RangeForWindow(directoryHash, referenceTimestamp, s.cfg.GroupingWindow)
	batch, err := s.decodeRange(ctx, start, end)
	if err != nil {
		return err
	}
	for _, meta := range batch {
		visit(meta)
	}
	return nil
}

func (s *Service) decodeRange(ctx context.Context, start, end string) ([]SessionMetadata, error) {
	entries, err := s.store.Scan(ctx, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]SessionMetadata, 0, len(entries))
	for _, entry := range entries {
		meta, err := decodeMetadata(entry.Key, entry.Value)
		if err != nil {
			if errors.Is(err, ErrMalformedEntry) {
				s.logger.Printf("relaydiff: skipping %v", err)
				continue
			}
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

// DirectoryEntries returns every valid metadata record of directoryHash in
// key order, across all batches.
func (s *Service) DirectoryEntries(ctx context.Context, directoryHash string) ([]SessionMetadata, error) {
	start, end := DirectoryRange(directoryHash)
	return s.decodeRange(ctx, start, end)
}

// Batch returns the metadata of the window as a slice, in key order.
func (s *Service) Batch(ctx context.Context, directoryHash string, referenceTimestamp int64) ([]SessionMetadata, error) {
	var out []SessionMetadata
	err := s.CollectInWindow(ctx, directoryHash, referenceTimestamp, func(meta SessionMetadata) {
		out = append(out, meta)
	})
	return out, err
}
