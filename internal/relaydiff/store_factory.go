package relaydiff

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildEntryStoreFromDSN picks a backend from the DSN scheme. A bare path is
// treated as a JSON file store.
func BuildEntryStoreFromDSN(dsn string) (EntryStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if factory, ok := lookupEntryStoreFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewJSONFileEntryStore(path)
	case "sqlite", "sqlite3":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteEntryStore(path)
	case "memory", "mem", "inmem":
		return NewInMemoryEntryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresEntryStore(dsn)
	case "mysql", "redis", "rediss":
		return nil, fmt.Errorf("%w: entry store backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported entry store scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed == nil {
		return "", ErrInvalidInput
	}
	if strings.TrimSpace(parsed.Scheme) == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrInvalidInput
		}
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if host := strings.TrimSpace(parsed.Host); host != "" {
		// sqlite://relative/dir/db parses "relative" as the host.
		path = host + path
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
