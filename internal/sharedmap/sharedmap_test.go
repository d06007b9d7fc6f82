package sharedmap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGet(t *testing.T) {
	m := New()
	m.Set([]byte("a.example.com/A"), []byte("1.2.3.4"), 0)

	data, ok := m.Get([]byte("a.example.com/A"))
	assert.True(t, ok)
	assert.Equal(t, []byte("1.2.3.4"), data)
}

func TestGetMissing(t *testing.T) {
	m := New()
	_, ok := m.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	m := New()
	m.Set([]byte("k"), []byte("v"), 10*time.Millisecond)

	_, ok := m.Get([]byte("k"))
	assert.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	_, ok = m.Get([]byte("k"))
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestRemove(t *testing.T) {
	m := New()
	m.Set([]byte("k"), []byte("v"), 0)

	assert.True(t, m.Remove([]byte("k")))
	assert.False(t, m.Remove([]byte("k")))

	_, ok := m.Get([]byte("k"))
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []byte{byte(i % 16)}
			m.Set(key, []byte("v"), 0)
			m.Get(key)
		}(i)
	}
	wg.Wait()
}

func TestOverwriteClearsExpiry(t *testing.T) {
	m := New()
	m.Set([]byte("k"), []byte("v1"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	m.Set([]byte("k"), []byte("v2"), 0)

	data, ok := m.Get([]byte("k"))
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), data)
}
