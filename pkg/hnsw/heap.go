package hnsw

import "container/heap"

// item is one entry in a candidate or result heap: a vector_id scored by its
// distance to the current query. Ties break on the smaller vector_id (spec
// §4.H "Tie-breaking on equal distance: smaller vector_id wins").
type item struct {
	id   uint64
	dist float32
}

func less(a, b item) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return a.id < b.id
}

// minHeap pops the closest item first — used for the candidate set during
// search/construction (spec §4.H step 1).
type minHeap []item

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return less(h[i], h[j]) }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
func (h minHeap) Peek() item { return h[0] }

// maxHeap pops the farthest item first — used for the bounded result set,
// so the farthest candidate can be evicted in O(log n) once it exceeds ef
// (spec §4.H step 3.c).
type maxHeap []item

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
func (h maxHeap) Peek() item { return h[0] }

// newMinHeap / newMaxHeap return heap.Interface-ready, empty heaps.
func newMinHeap() *minHeap {
	h := &minHeap{}
	heap.Init(h)
	return h
}

func newMaxHeap() *maxHeap {
	h := &maxHeap{}
	heap.Init(h)
	return h
}
