package plugin_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	pluginv1 "github.com/omalloc/waypoint/api/defined/v1/plugin"
	"github.com/omalloc/waypoint/conf"
	"github.com/omalloc/waypoint/contrib/log"
	"github.com/omalloc/waypoint/plugin"
)

type fakePlugin struct {
	started bool
	stopped bool
}

func (p *fakePlugin) Start(context.Context) error { p.started = true; return nil }
func (p *fakePlugin) Stop(context.Context) error  { p.stopped = true; return nil }
func (p *fakePlugin) AddRouter(*http.ServeMux)    {}
func (p *fakePlugin) HandleFunc(next http.HandlerFunc) http.HandlerFunc { return next }

func newFakePlugin(opts pluginv1.Option, _ *log.Helper) (pluginv1.Plugin, error) {
	var cfg struct {
		Greeting string `json:"greeting"`
	}
	if err := opts.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &fakePlugin{}, nil
}

func TestLoadConstructsRegisteredPlugins(t *testing.T) {
	plugin.Register("fake-for-load-test", newFakePlugin)

	plugins, err := plugin.Load([]*conf.Plugin{
		{Name: "fake-for-load-test", Options: map[string]any{"greeting": "hi"}},
	})
	assert.NoError(t, err)
	assert.Len(t, plugins, 1)
}

func TestLoadUnknownPluginErrors(t *testing.T) {
	_, err := plugin.Load([]*conf.Plugin{{Name: "does-not-exist"}})
	assert.Error(t, err)
}

func TestLoadEmptyConfigReturnsEmptySlice(t *testing.T) {
	plugins, err := plugin.Load(nil)
	assert.NoError(t, err)
	assert.Len(t, plugins, 0)
}
