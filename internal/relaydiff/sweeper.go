package relaydiff

import (
	"context"
	"errors"
)

type SweepResult struct {
	Scanned         int
	RemovedMetadata int
	RemovedBlobs    int
	Failed          int
}

// Sweep removes every entry whose key timestamp is older than the TTL. Each
// collection is scanned on its own; failures are logged and never abort the
// sweep.
func (s *Service) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	cutoff := UnixMillis(s.now()) - s.cfg.TTL.Milliseconds()
	for _, c := range []Collection{CollectionMetadata, CollectionBlob} {
		start, end := CollectionRange(c)
		entries, err := s.store.Scan(ctx, start, end)
		if err != nil {
			s.logger.Printf("relaydiff: sweep scan of %s failed: %v", c, err)
			result.Failed++
			continue
		}
		for _, entry := range entries {
			result.Scanned++
			parsed, err := ParseKey(entry.Key)
			if err != nil {
				s.logger.Printf("relaydiff: sweep skipping %v", err)
				continue
			}
			if parsed.BatchTimestamp >= cutoff {
				continue
			}
			if err := s.store.Remove(ctx, entry.Key); err != nil {
				if errors.Is(err, ErrNotFound) {
					// another process swept it first
					continue
				}
				s.logger.Printf("relaydiff: sweep failed to remove %s: %v", entry.Key, err)
				result.Failed++
				continue
			}
			if c == CollectionMetadata {
				result.RemovedMetadata++
			} else {
				result.RemovedBlobs++
			}
		}
	}
	return result
}
