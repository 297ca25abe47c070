package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	c := NewCache[string, map[string]bool](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("dut-01", map[string]bool{"fio": true})
	v, ok := c.Get("dut-01")
	assert.True(t, ok)
	assert.True(t, v["fio"])

	now = now.Add(59 * time.Second)
	_, ok = c.Get("dut-01")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("dut-01")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestZeroTTLNeverExpires(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewCache[int, string](0)
	c.now = func() time.Time { return now }
	c.Set(1, "a")
	now = now.Add(1000 * time.Hour)
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestDeleteAndClean(t *testing.T) {
	c := NewCache[string, int](time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	assert.Equal(t, 1, c.Len())
	c.Clean()
	assert.Equal(t, 0, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := NewCache[int, int](time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set(i%5, i)
			c.Get(i % 5)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Len())
}
