package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileSourceLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("listen: :8080\n"), 0o644))

	src := NewFileSource(path)
	kvs, err := src.Load()
	assert.NoError(t, err)
	assert.Len(t, kvs, 1)
	assert.Equal(t, "app.yaml", kvs[0].Key)
	assert.Equal(t, "yaml", kvs[0].Format)
	assert.Equal(t, "listen: :8080\n", string(kvs[0].Value))
}

func TestFileSourceLoadJSONByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.json")
	assert.NoError(t, os.WriteFile(path, []byte(`{"listen":":8080"}`), 0o644))

	src := NewFileSource(path)
	kvs, err := src.Load()
	assert.NoError(t, err)
	assert.Equal(t, "json", kvs[0].Format)
}

func TestFileSourceLoadMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := src.Load()
	assert.Error(t, err)
}

func TestFileSourceWatchPicksUpRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	src := NewFileSource(path)
	w, err := src.Watch()
	assert.NoError(t, err)
	defer w.Stop()

	done := make(chan struct{})
	var gotErr error
	var gotKVs []*KeyValue
	go func() {
		gotKVs, gotErr = w.Next()
		close(done)
	}()

	// give the watcher goroutine time to register before the write.
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o644))

	select {
	case <-done:
		assert.NoError(t, gotErr)
		assert.Len(t, gotKVs, 1)
		assert.Equal(t, "a: 2\n", string(gotKVs[0].Value))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for watcher to report the rewrite")
	}
}
