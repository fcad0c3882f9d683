package relaydiff

import (
	"errors"
	"testing"
	"time"
)

func TestMetadataKeyIsZeroPadded(t *testing.T) {
	key := MetadataKey("D1", 1000, "h1")
	if key != "meta:D1:0000000001000:h1" {
		t.Fatalf("unexpected metadata key: %s", key)
	}
	if BlobKey(key) != "blob:D1:0000000001000:h1" {
		t.Fatalf("unexpected blob key: %s", BlobKey(key))
	}
}

func TestKeysSortLikeTimestamps(t *testing.T) {
	earlier := MetadataKey("D1", 999, "zz")
	later := MetadataKey("D1", 1000, "aa")
	if !(earlier < later) {
		t.Fatalf("expected %s to sort before %s", earlier, later)
	}
}

func TestRangeForWindowBounds(t *testing.T) {
	start, end := RangeForWindow("D1", 10000, 5*time.Second)
	if start != "meta:D1:0000000005000" {
		t.Fatalf("unexpected start key: %s", start)
	}
	if end != "meta:D1:0000000015000~" {
		t.Fatalf("unexpected end key: %s", end)
	}

	cases := []struct {
		ts   int64
		want bool
	}{
		{4999, false},
		{5000, true},
		{10000, true},
		{15000, true},
		{15001, false},
	}
	for _, tc := range cases {
		key := MetadataKey("D1", tc.ts, "hash")
		got := key >= start && key < end
		if got != tc.want {
			t.Fatalf("timestamp %d: expected in-window=%v, got %v", tc.ts, tc.want, got)
		}
	}
}

func TestRangeForWindowClampsAtZero(t *testing.T) {
	start, _ := RangeForWindow("D1", 1000, 5*time.Second)
	if start != "meta:D1:0000000000000" {
		t.Fatalf("expected start clamped at zero, got %s", start)
	}
}

func TestRangeForWindowExcludesOtherDirectories(t *testing.T) {
	start, end := RangeForWindow("D1", 1000, 5*time.Second)
	for _, key := range []string{
		MetadataKey("D10", 1000, "h"),
		MetadataKey("D2", 1000, "h"),
		BlobKey(MetadataKey("D1", 1000, "h")),
	} {
		if key >= start && key < end {
			t.Fatalf("expected %s outside [%s, %s)", key, start, end)
		}
	}
}

func TestParseKey(t *testing.T) {
	parsed, err := ParseKey("blob:D1:0000000001002:h2")
	if err != nil {
		t.Fatalf("parse key failed: %v", err)
	}
	if parsed.Collection != CollectionBlob || parsed.DirectoryHash != "D1" || parsed.BatchTimestamp != 1002 || parsed.ContentHash != "h2" {
		t.Fatalf("unexpected parsed key: %+v", parsed)
	}

	for _, bad := range []string{
		"meta:D1:1000:h",
		"meta:D1:0000000001000",
		"other:D1:0000000001000:h",
		"meta::0000000001000:h",
		"meta:D1:00000000010x0:h",
	} {
		if _, err := ParseKey(bad); !errors.Is(err, ErrMalformedEntry) {
			t.Fatalf("expected malformed entry error for %q, got %v", bad, err)
		}
	}
}

func TestHashStringIsStable(t *testing.T) {
	if HashString("/repo") != HashString("/repo") {
		t.Fatalf("expected identical hashes for identical input")
	}
	if HashString("/repo") == HashString("/repo2") {
		t.Fatalf("expected different hashes for different input")
	}
	if len(HashString("x")) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(HashString("x")))
	}
}

func TestDirectoryRangeStopsAtDirectoryBoundary(t *testing.T) {
	start, end := DirectoryRange("D1")
	inside := MetadataKey("D1", 9_999_999_999_999, "h")
	if inside < start || inside >= end {
		t.Fatalf("expected %s within [%s, %s)", inside, start, end)
	}
	for _, key := range []string{MetadataKey("D10", 0, "h"), BlobKey(MetadataKey("D1", 0, "h"))} {
		if key >= start && key < end {
			t.Fatalf("expected %s outside [%s, %s)", key, start, end)
		}
	}
}
