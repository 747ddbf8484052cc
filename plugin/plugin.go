// Package plugin is the process-wide registry loadable plugins
// register themselves into via an init() call to Register, and
// cmd/waypointd drains against the configured conf.Plugin list at
// startup - the same two-phase (register, then load-by-name) shape the
// teacher repo uses for its own plugin system.
package plugin

import (
	"fmt"
	"sync"

	pluginv1 "github.com/omalloc/waypoint/api/defined/v1/plugin"
	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/contrib/log"
)

var (
	mu        sync.Mutex
	factories = make(map[string]pluginv1.Constructor)
)

// Register associates name with a Constructor; called from a plugin
// package's init().
func Register(name string, ctor pluginv1.Constructor) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = ctor
}

// Load instantiates every plugin named in cfgs, in order, failing fast
// on the first unknown name or construction error.
func Load(cfgs []*conf.Plugin) ([]pluginv1.Plugin, error) {
	mu.Lock()
	defer mu.Unlock()

	plugins := make([]pluginv1.Plugin, 0, len(cfgs))
	for _, c := range cfgs {
		ctor, ok := factories[c.Name]
		if !ok {
			return nil, fmt.Errorf("plugin: unknown plugin %q", c.Name)
		}
		p, err := ctor(c, log.NewHelper(log.GetLogger()))
		if err != nil {
			return nil, fmt.Errorf("plugin: construct %q: %w", c.Name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}
