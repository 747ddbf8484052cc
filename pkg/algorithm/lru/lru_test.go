package lru

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	c := New[string, int](2)

	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](2)
	evicted := make(chan Eviction[string, int], 1)
	c.EvictionChannel = evicted

	c.Set("a", 1)
	c.Set("b", 2)

	// touch "a" so "b" becomes the least-recently-used entry.
	_, _ = c.Get("a")

	c.Set("c", 3)

	select {
	case ev := <-evicted:
		assert.Equal(t, "b", ev.Key)
		assert.Equal(t, 2, ev.Value)
	default:
		t.Fatal("expected an eviction notification")
	}

	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("c"))
	assert.False(t, c.Has("b"))
}

func TestRemove(t *testing.T) {
	c := New[string, int](4)
	c.Set("a", 1)

	c.Remove("a")

	assert.False(t, c.Has("a"))
	assert.Equal(t, 0, c.Len())
}

func TestUnboundedCapacityNeverEvicts(t *testing.T) {
	c := New[int, int](0)
	for i := 0; i < 100; i++ {
		c.Set(i, i)
	}
	assert.Equal(t, 100, c.Len())
}
