package relaydiff

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeRemoved   ChangeKind = "removed"
	ChangeModified  ChangeKind = "modified"
	ChangeRenamed   ChangeKind = "renamed"
	ChangeUnchanged ChangeKind = "unchanged"
)

// SessionMetadata describes one file comparison shown by some viewer.
// Records are written once by their owner and never mutated.
type SessionMetadata struct {
	DirectoryHash  string     `json:"dirhash"`
	DirectoryPath  string     `json:"dir"`
	BatchTimestamp int64      `json:"timestamp"`
	ContentHash    string     `json:"hash"`
	MergedPath     string     `json:"merged,omitempty"`
	FromPath       string     `json:"from,omitempty"`
	ToPath         string     `json:"to,omitempty"`
	Change         ChangeKind `json:"change"`
	// RegisteredAt is the wall-clock instant (ms) the owning viewer wrote the
	// record. Zero means BatchTimestamp.
	RegisteredAt int64 `json:"registeredAt,omitempty"`
}

// DiffBlob is the rendered diff payload stored next to a metadata record.
type DiffBlob struct {
	Diff string
}

// diffBlobRecord is the stored form of a DiffBlob. The payload is kept as
// bytes (base64 in JSON) so diffs of non-UTF-8 files are stored unchanged.
type diffBlobRecord struct {
	Data []byte `json:"data"`
}

func encodeBlob(diff string) ([]byte, error) {
	return json.Marshal(diffBlobRecord{Data: []byte(diff)})
}

func (m SessionMetadata) EntryID() string {
	return MetadataKey(m.DirectoryHash, m.BatchTimestamp, m.ContentHash)
}

func (m SessionMetadata) BlobID() string {
	return BlobKey(m.EntryID())
}

// DisplayPath is the path shown for the entry: the merged path when the diff
// is rendered as one view, otherwise whichever side exists.
func (m SessionMetadata) DisplayPath() string {
	switch {
	case m.MergedPath != "":
		return m.MergedPath
	case m.ToPath != "" && m.ToPath != "/dev/null":
		return m.ToPath
	default:
		return m.FromPath
	}
}

func (m SessionMetadata) registrationInstant() int64 {
	if m.RegisteredAt > 0 {
		return m.RegisteredAt
	}
	return m.BatchTimestamp
}

// ChangeFromPaths derives the change kind the way git difftool reports
// additions and deletions: one side is /dev/null.
func ChangeFromPaths(fromPath, toPath string) ChangeKind {
	switch {
	case toPath == "/dev/null":
		return ChangeRemoved
	case fromPath == "/dev/null":
		return ChangeAdded
	default:
		return ChangeModified
	}
}

func (m SessionMetadata) Validate() error {
	if err := validKeyComponents(m.DirectoryHash, m.ContentHash); err != nil {
		return err
	}
	if m.BatchTimestamp < 0 {
		return fmt.Errorf("%w: negative batch timestamp", ErrInvalidInput)
	}
	if m.DisplayPath() == "" {
		return fmt.Errorf("%w: merged, from or to path is required", ErrInvalidInput)
	}
	switch m.Change {
	case ChangeAdded, ChangeRemoved, ChangeModified, ChangeRenamed, ChangeUnchanged:
	default:
		return fmt.Errorf("%w: change kind %q", ErrInvalidInput, m.Change)
	}
	return nil
}

const metadataSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["dirhash", "timestamp", "hash", "change"],
  "properties": {
    "dirhash": {"type": "string", "minLength": 1, "pattern": "^[^:]+$"},
    "dir": {"type": "string"},
    "timestamp": {"type": "integer", "minimum": 0},
    "hash": {"type": "string", "minLength": 1},
    "merged": {"type": "string"},
    "from": {"type": "string"},
    "to": {"type": "string"},
    "change": {"enum": ["added", "removed", "modified", "renamed", "unchanged"]},
    "registeredAt": {"type": "integer", "minimum": 0}
  },
  "anyOf": [
    {"required": ["merged"]},
    {"required": ["from"]},
    {"required": ["to"]}
  ]
}`

const metadataSchemaURL = "relaydiff/session-metadata.json"

var (
	metadataSchemaOnce sync.Once
	metadataSchema     *jsonschema.Schema
	metadataSchemaErr  error
)

func compiledMetadataSchema() (*jsonschema.Schema, error) {
	metadataSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(metadataSchemaJSON))
		if err != nil {
			metadataSchemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(metadataSchemaURL, doc); err != nil {
			metadataSchemaErr = err
			return
		}
		metadataSchema, metadataSchemaErr = c.Compile(metadataSchemaURL)
	})
	return metadataSchema, metadataSchemaErr
}

// decodeMetadata parses a stored record, validates it against the schema and
// checks that it is stored under the key derived from its own fields.
func decodeMetadata(key string, data []byte) (SessionMetadata, error) {
	schema, err := compiledMetadataSchema()
	if err != nil {
		return SessionMetadata{}, fmt.Errorf("compile metadata schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return SessionMetadata{}, &MalformedEntryError{Key: key, Reason: "invalid json: " + err.Error()}
	}
	if err := schema.Validate(inst); err != nil {
		return SessionMetadata{}, &MalformedEntryError{Key: key, Reason: err.Error()}
	}
	var meta SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return SessionMetadata{}, &MalformedEntryError{Key: key, Reason: err.Error()}
	}
	if key != "" && meta.EntryID() != key {
		return SessionMetadata{}, &MalformedEntryError{Key: key, Reason: "record does not match its key " + meta.EntryID()}
	}
	return meta, nil
}

func decodeBlob(key string, data []byte) (DiffBlob, error) {
	var record diffBlobRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return DiffBlob{}, &MalformedEntryError{Key: key, Reason: "invalid blob: " + err.Error()}
	}
	return DiffBlob{Diff: string(record.Data)}, nil
}
