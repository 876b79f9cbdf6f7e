package orderbook

// maxPriceHeap keeps bid price levels with the highest price on top.
// Mutation goes through container/heap; Peek is the only direct read.
type maxPriceHeap []int64

func (h maxPriceHeap) Len() int           { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxPriceHeap) Push(x any) { *h = append(*h, x.(int64)) }

func (h *maxPriceHeap) Pop() any {
	old := *h
	last := len(old) - 1
	price := old[last]
	*h = old[:last]
	return price
}

// Peek returns the top price without removing it, 0 when empty.
func (h maxPriceHeap) Peek() int64 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}

// minPriceHeap keeps ask price levels with the lowest price on top.
type minPriceHeap []int64

func (h minPriceHeap) Len() int           { return len(h) }
func (h minPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *minPriceHeap) Push(x any) { *h = append(*h, x.(int64)) }

func (h *minPriceHeap) Pop() any {
	old := *h
	last := len(old) - 1
	price := old[last]
	*h = old[:last]
	return price
}

// Peek returns the top price without removing it, 0 when empty.
func (h minPriceHeap) Peek() int64 {
	if len(h) == 0 {
		return 0
	}
	return h[0]
}
