package indexdb

import (
	"fmt"
	"sync"

	"github.com/omalloc/waypoint/api/defined/v1/storage"
)

// Registry maps a db_type name (e.g. "pebble") to the IndexDBFactory
// that builds it. Drivers register themselves from an init() in their
// own package, mirroring plugin.Register's two-phase pattern.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]storage.IndexDBFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]storage.IndexDBFactory)}
}

func (r *Registry) Register(name string, factory storage.IndexDBFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

func (r *Registry) Create(name string, path string, opt storage.Option) (storage.IndexDB, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("indexdb: unknown driver %q", name)
	}
	return factory(path, opt)
}

// Register installs factory under name on the package-level default
// registry. storage/indexdb/pebble calls this from its own init().
func Register(name string, factory storage.IndexDBFactory) {
	defaultRegistry.Register(name, factory)
}

// Create builds an IndexDB through the named driver on the
// package-level default registry. opt.DBPath() supplies the on-disk
// path the driver opens.
func Create(name string, opt storage.Option) (storage.IndexDB, error) {
	return defaultRegistry.Create(name, opt.DBPath(), opt)
}
