package searcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitedSet(t *testing.T) {
	v := NewVisitedSet(64)
	ids := []uint32{0, 1, 63, 64, 100, 1000}

	for _, id := range ids {
		assert.False(t, v.Visited(id))
	}
	for _, id := range ids {
		assert.True(t, v.Visit(id))
	}
	for _, id := range ids {
		assert.True(t, v.Visited(id))
	}
	assert.False(t, v.Visited(2))
	assert.False(t, v.Visit(0), "second visit reports not new")

	v.Reset()
	for _, id := range ids {
		assert.False(t, v.Visited(id))
	}
}

func TestPoolReturnsCleanScratch(t *testing.T) {
	p := NewPool(16)

	s := p.Get(16)
	s.Visited.Visit(3)
	s.Candidates.Push(Item{Node: 3})
	s.Results.Push(Item{Node: 3})
	p.Put(s)

	s = p.Get(200)
	defer p.Put(s)
	assert.False(t, s.Visited.Visited(3))
	assert.Equal(t, 0, s.Candidates.Len())
	assert.Equal(t, 0, s.Results.Len())
	s.Visited.Visit(199)
	assert.True(t, s.Visited.Visited(199))
}
