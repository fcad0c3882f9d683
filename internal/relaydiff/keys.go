package relaydiff

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MetadataPrefix = "meta:"
	BlobPrefix     = "blob:"

	// timestampWidth covers every millisecond epoch value up to the year 2286.
	timestampWidth = 13

	// rangeTerminator sorts after every digit and after the ':' separator.
	rangeTerminator = "~"
)

type Collection string

const (
	CollectionMetadata Collection = "meta"
	CollectionBlob     Collection = "blob"
)

// ParsedKey is the decomposed form of an entry or blob key.
type ParsedKey struct {
	Collection     Collection
	DirectoryHash  string
	BatchTimestamp int64
	ContentHash    string
}

// MetadataKey returns the entry id for one file comparison. Identical inputs
// always produce identical keys so re-registration is idempotent.
func MetadataKey(directoryHash string, batchTimestamp int64, contentHash string) string {
	return MetadataPrefix + directoryHash + ":" + PadTimestamp(batchTimestamp) + ":" + contentHash
}

// BlobKey maps an entry id onto the id of its diff content.
func BlobKey(entryID string) string {
	if strings.HasPrefix(entryID, MetadataPrefix) {
		return BlobPrefix + strings.TrimPrefix(entryID, MetadataPrefix)
	}
	return entryID
}

// RangeForWindow returns the scan bounds covering every metadata key of
// directoryHash whose timestamp t satisfies ref-window <= t <= ref+window.
// The start key is inclusive and the end key exclusive.
func RangeForWindow(directoryHash string, referenceTimestamp int64, window time.Duration) (string, string) {
	w := window.Milliseconds()
	if w < 0 {
		w = 0
	}
	low := referenceTimestamp - w
	if low < 0 {
		low = 0
	}
	prefix := MetadataPrefix + directoryHash + ":"
	return prefix + PadTimestamp(low), prefix + PadTimestamp(referenceTimestamp+w) + rangeTerminator
}

// DirectoryRange returns bounds spanning every metadata key of directoryHash.
func DirectoryRange(directoryHash string) (string, string) {
	prefix := MetadataPrefix + directoryHash + ":"
	return prefix, prefix + rangeTerminator
}

// CollectionRange returns bounds spanning every key of one collection.
func CollectionRange(c Collection) (string, string) {
	prefix := string(c) + ":"
	return prefix, prefix + rangeTerminator
}

func PadTimestamp(ts int64) string {
	if ts < 0 {
		ts = 0
	}
	return fmt.Sprintf("%0*d", timestampWidth, ts)
}

func ParseKey(key string) (ParsedKey, error) {
	parts := strings.SplitN(key, ":", 4)
	if len(parts) != 4 {
		return ParsedKey{}, &MalformedEntryError{Key: key, Reason: "expected 4 key segments"}
	}
	var c Collection
	switch parts[0] {
	case string(CollectionMetadata):
		c = CollectionMetadata
	case string(CollectionBlob):
		c = CollectionBlob
	default:
		return ParsedKey{}, &MalformedEntryError{Key: key, Reason: "unknown collection " + parts[0]}
	}
	if parts[1] == "" {
		return ParsedKey{}, &MalformedEntryError{Key: key, Reason: "empty directory hash"}
	}
	if len(parts[2]) != timestampWidth {
		return ParsedKey{}, &MalformedEntryError{Key: key, Reason: "timestamp is not zero-padded"}
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || ts < 0 {
		return ParsedKey{}, &MalformedEntryError{Key: key, Reason: "invalid timestamp " + parts[2]}
	}
	return ParsedKey{
		Collection:     c,
		DirectoryHash:  parts[1],
		BatchTimestamp: ts,
		ContentHash:    parts[3],
	}, nil
}

func validKeyComponents(directoryHash, contentHash string) error {
	if strings.TrimSpace(directoryHash) == "" || strings.Contains(directoryHash, ":") {
		return fmt.Errorf("%w: directory hash %q", ErrInvalidInput, directoryHash)
	}
	if strings.TrimSpace(contentHash) == "" {
		return fmt.Errorf("%w: empty content hash", ErrInvalidInput)
	}
	return nil
}

// HashString is the md5 hex digest used for directory and content hashes.
func HashString(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// UnixMillis converts t to the millisecond timestamps stored in keys.
func UnixMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
