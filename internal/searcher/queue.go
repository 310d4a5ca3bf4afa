package searcher

// Item is an internal position paired with its ranking key (smaller is closer).
type Item struct {
	Node     uint32
	Distance float32
}

// PriorityQueue implements a binary heap holding Items.
// It works on typed slices instead of container/heap.
type PriorityQueue struct {
	isMaxHeap bool
	items     []Item
}

// NewPriorityQueue creates a new priority queue.
func NewPriorityQueue(isMaxHeap bool) *PriorityQueue {
	return &PriorityQueue{
		isMaxHeap: isMaxHeap,
		items:     make([]Item, 0, 16),
	}
}

// Reset clears the priority queue for reuse.
func (pq *PriorityQueue) Reset() {
	pq.items = pq.items[:0]
}

// Len returns the number of elements in the heap.
func (pq *PriorityQueue) Len() int {
	return len(pq.items)
}

// Top returns the top element of the heap.
func (pq *PriorityQueue) Top() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) Push(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PushBounded inserts an item into a heap holding at most capacity items.
// A full max-heap keeps the capacity smallest distances; a full min-heap keeps
// the largest.
func (pq *PriorityQueue) PushBounded(item Item, capacity int) {
	if len(pq.items) < capacity {
		pq.Push(item)
		return
	}
	top := pq.items[0]
	if (pq.isMaxHeap && item.Distance < top.Distance) || (!pq.isMaxHeap && item.Distance > top.Distance) {
		pq.items[0] = item
		pq.siftDown(0)
	}
}

// Pop removes and returns the top element from the heap.
func (pq *PriorityQueue) Pop() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}

	item := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]

	if len(pq.items) > 0 {
		pq.siftDown(0)
	}
	return item, true
}

// Drain pops every item into dst ordered closest first and returns it.
// The queue must be a max-heap.
func (pq *PriorityQueue) Drain(dst []Item) []Item {
	n := len(pq.items)
	start := len(dst)
	dst = append(dst, make([]Item, n)...)
	for i := n - 1; i >= 0; i-- {
		dst[start+i], _ = pq.Pop()
	}
	return dst
}

func (pq *PriorityQueue) less(i, j int) bool {
	if pq.isMaxHeap {
		return pq.items[i].Distance > pq.items[j].Distance
	}
	return pq.items[i].Distance < pq.items[j].Distance
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(i, parent) {
			break
		}
		pq.items[i], pq.items[parent] = pq.items[parent], pq.items[i]
		i = parent
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && pq.less(right, left) {
			child = right
		}
		if !pq.less(child, i) {
			break
		}
		pq.items[i], pq.items[child] = pq.items[child], pq.items[i]
		i = child
	}
}
