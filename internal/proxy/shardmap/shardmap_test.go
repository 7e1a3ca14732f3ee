package shardmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDelete(t *testing.T) {
	m := New[int]()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestUpdateCreatesAndMutates(t *testing.T) {
	m := New[int]()

	m.Update("k", func(cur int, ok bool) int {
		assert.False(t, ok)
		return cur + 1
	})
	v, _ := m.Get("k")
	assert.Equal(t, 1, v)

	m.Update("k", func(cur int, ok bool) int {
		assert.True(t, ok)
		return cur + 1
	})
	v, _ = m.Get("k")
	assert.Equal(t, 2, v)
}

func TestLenAndEach(t *testing.T) {
	m := NewSize[string](4)
	m.Set("a", "1")
	m.Set("b", "2")
	m.Set("c", "3")

	assert.Equal(t, 3, m.Len())

	seen := map[string]string{}
	m.Each(func(k, v string) { seen[k] = v })
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "c": "3"}, seen)
}

func TestDeleteWhere(t *testing.T) {
	m := New[int]()
	for i := 0; i < 10; i++ {
		m.Set(string(rune('a'+i)), i)
	}
	removed := m.DeleteWhere(func(_ string, v int) bool { return v%2 == 0 })
	assert.Equal(t, 5, removed)
	assert.Equal(t, 5, m.Len())
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%26))
			m.Update(key, func(cur int, ok bool) int { return cur + 1 })
		}(i)
	}
	wg.Wait()
	total := 0
	m.Each(func(_ string, v int) { total += v })
	assert.Equal(t, 100, total)
}
