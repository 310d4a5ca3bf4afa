package searcher

import "sync"

// Scratch holds the reusable state of one search.
type Scratch struct {
	Candidates *PriorityQueue // min-heap of nodes still to expand
	Results    *PriorityQueue // max-heap of the best nodes found so far
	Visited    *VisitedSet
	Buf        []Item
}

// Reset clears the queues and the visited set.
func (s *Scratch) Reset() {
	s.Candidates.Reset()
	s.Results.Reset()
	s.Visited.Reset()
	s.Buf = s.Buf[:0]
}

// Pool hands out Scratch values sized for an index of a given node count.
type Pool struct {
	pool sync.Pool
}

// NewPool creates a pool for indexes holding up to capacity nodes.
func NewPool(capacity int) *Pool {
	p := &Pool{}
	p.pool.New = func() any {
		return &Scratch{
			Candidates: NewPriorityQueue(false),
			Results:    NewPriorityQueue(true),
			Visited:    NewVisitedSet(capacity),
		}
	}
	return p
}

// Get returns a clean Scratch able to track capacity nodes.
func (p *Pool) Get(capacity int) *Scratch {
	s := p.pool.Get().(*Scratch)
	s.Visited.EnsureCapacity(capacity)
	return s
}

// Put resets s and returns it to the pool.
func (p *Pool) Put(s *Scratch) {
	s.Reset()
	p.pool.Put(s)
}
