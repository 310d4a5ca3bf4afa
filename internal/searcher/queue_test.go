package searcher

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueue(t *testing.T) {
	t.Run("MinHeap", func(t *testing.T) {
		pq := NewPriorityQueue(false)
		pq.Push(Item{Node: 1, Distance: 10})
		pq.Push(Item{Node: 2, Distance: 5})
		pq.Push(Item{Node: 3, Distance: 20})

		require.Equal(t, 3, pq.Len())
		top, ok := pq.Top()
		require.True(t, ok)
		assert.Equal(t, float32(5), top.Distance)

		for _, want := range []float32{5, 10, 20} {
			item, ok := pq.Pop()
			require.True(t, ok)
			assert.Equal(t, want, item.Distance)
		}
		_, ok = pq.Pop()
		assert.False(t, ok)
	})

	t.Run("MaxHeap", func(t *testing.T) {
		pq := NewPriorityQueue(true)
		pq.Push(Item{Node: 1, Distance: 10})
		pq.Push(Item{Node: 2, Distance: 5})
		pq.Push(Item{Node: 3, Distance: 20})

		top, _ := pq.Top()
		assert.Equal(t, float32(20), top.Distance)
	})

	t.Run("PushBounded", func(t *testing.T) {
		pq := NewPriorityQueue(true)
		pq.PushBounded(Item{Node: 1, Distance: 10}, 3)
		pq.PushBounded(Item{Node: 2, Distance: 20}, 3)
		pq.PushBounded(Item{Node: 3, Distance: 30}, 3)

		pq.PushBounded(Item{Node: 4, Distance: 5}, 3)
		require.Equal(t, 3, pq.Len())
		top, _ := pq.Top()
		assert.Equal(t, float32(20), top.Distance)

		pq.PushBounded(Item{Node: 5, Distance: 40}, 3)
		top, _ = pq.Top()
		assert.Equal(t, float32(20), top.Distance)

		pqMin := NewPriorityQueue(false)
		pqMin.PushBounded(Item{Distance: 10}, 2)
		pqMin.PushBounded(Item{Distance: 20}, 2)
		pqMin.PushBounded(Item{Distance: 30}, 2)
		topMin, _ := pqMin.Top()
		assert.Equal(t, float32(20), topMin.Distance)
	})

	t.Run("Reset", func(t *testing.T) {
		pq := NewPriorityQueue(false)
		pq.Push(Item{Node: 1, Distance: 1})
		pq.Reset()
		assert.Equal(t, 0, pq.Len())
	})
}

func TestDrainOrdersClosestFirst(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pq := NewPriorityQueue(true)

	var want []float32
	for i := range 50 {
		d := rng.Float32()
		want = append(want, d)
		pq.Push(Item{Node: uint32(i), Distance: d})
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	got := pq.Drain(nil)
	require.Len(t, got, 50)
	for i := range got {
		assert.Equal(t, want[i], got[i].Distance)
	}
	assert.Equal(t, 0, pq.Len())
}
