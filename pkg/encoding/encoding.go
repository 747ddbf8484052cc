// Package encoding is a tiny codec registry in the same shape as
// kratos's encoding package: a Codec interface plus a name-keyed
// registry, so storage backends can pick their on-disk metadata
// format without importing a concrete marshaler directly.
package encoding

import "sync"

// Codec marshals and unmarshals metadata records for a storage
// backend (indexdb entries, cache index snapshots, etc).
type Codec interface {
	// Name identifies the codec, e.g. "json".
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Codec)
	defName  = "json"
)

// Register installs c under its own Name(). The last Register call for
// a given name wins, matching the other registries in this codebase
// (indexdb.Register, plugin.Register).
func Register(c Codec) {
	mu.Lock()
	defer mu.Unlock()
	registry[c.Name()] = c
}

// GetCodec looks up a codec by name, or nil if none was registered.
func GetCodec(name string) Codec {
	mu.RLock()
	defer mu.RUnlock()
	return registry[name]
}

// GetDefaultCodec returns the JSON codec registered by this package's
// init, or whatever codec was last registered under "json".
func GetDefaultCodec() Codec {
	mu.RLock()
	defer mu.RUnlock()
	return registry[defName]
}

func init() {
	Register(jsonCodec{})
}
