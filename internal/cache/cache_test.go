package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSimpleCache(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewSimpleCache[int](time.Minute)
	c.now = func() time.Time { return now }
	c.lastPurge = now

	created := 0
	create := func() int { created++; return created }

	assert.Equal(t, 1, c.GetOrCreate("a", create))
	assert.Equal(t, 1, c.GetOrCreate("a", create), "live entries are reused")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	// access slides the expiry
	now = now.Add(50 * time.Second)
	assert.Equal(t, 1, c.GetOrCreate("a", create))
	now = now.Add(50 * time.Second)
	_, ok = c.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "expired entries stay until purged")

	assert.Equal(t, 2, c.GetOrCreate("b", create))
	assert.Equal(t, 1, c.Len(), "the purge dropped a")

	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}
