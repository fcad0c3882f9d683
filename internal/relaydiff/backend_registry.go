package relaydiff

import (
	"strings"
	"sync"
)

type EntryStoreFactory func(dsn string) (EntryStore, error)

var entryStoreFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]EntryStoreFactory
}{
	factories: map[string]EntryStoreFactory{},
}

func RegisterEntryStoreFactory(scheme string, factory EntryStoreFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	entryStoreFactoryRegistry.mu.Lock()
	defer entryStoreFactoryRegistry.mu.Unlock()
	entryStoreFactoryRegistry.factories[scheme] = factory
}

func lookupEntryStoreFactory(scheme string) (EntryStoreFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	entryStoreFactoryRegistry.mu.RLock()
	defer entryStoreFactoryRegistry.mu.RUnlock()
	factory, ok := entryStoreFactoryRegistry.factories[scheme]
	return factory, ok
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
