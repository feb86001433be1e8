package safemap

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeMap(t *testing.T) {
	m := NewSafeMap[uint32, string]()
	require.NotNil(t, m)
	assert.Equal(t, 0, m.Len())
	_, ok := m.Load(1)
	assert.False(t, ok)
}

func TestSafeMap_StoreLoad(t *testing.T) {
	m := NewSafeMap[string, int]()

	t.Run("stored value is returned", func(t *testing.T) {
		m.Store("a", 1)
		v, ok := m.Load("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("missing key yields zero value", func(t *testing.T) {
		v, ok := m.Load("missing")
		assert.False(t, ok)
		assert.Zero(t, v)
	})
}

func TestSafeMap_LoadOrStore(t *testing.T) {
	m := NewSafeMap[string, int]()

	v, loaded := m.LoadOrStore("game", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = m.LoadOrStore("game", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v)
}

func TestSafeMap_Values(t *testing.T) {
	m := NewSafeMap[int, int]()
	for i := 1; i <= 3; i++ {
		m.Store(i, i*10)
	}

	vals := m.Values()
	sort.Ints(vals)
	assert.Equal(t, []int{10, 20, 30}, vals)
}

func TestSafeMap_DeleteDuringRange(t *testing.T) {
	m := NewSafeMap[int, int]()
	for i := 0; i < 10; i++ {
		m.Store(i, i)
	}

	m.Range(func(k, _ int) bool {
		m.Delete(k)
		return true
	})

	assert.Equal(t, 0, m.Len())
}

func TestSafeMap_Concurrent(t *testing.T) {
	m := NewSafeMap[int, int]()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			m.Store(i, i)
			if i%2 == 0 {
				m.Delete(i)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n/2, m.Len())
}
