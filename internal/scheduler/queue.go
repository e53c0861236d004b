package scheduler

import (
	"container/heap"
	"context"
	"time"
)

// item is one pending provider call. An item is owned by exactly one worker
// while executing; retries re-enqueue the same item.
type item struct {
	ctx             context.Context
	task            Task
	conversationKey string
	priority        int
	enqueuedAt      time.Time
	seq             uint64
	estInput        int
	estOutput       int
	retryCount      int
	signaled        bool // activity start already emitted for this item
	out             chan Outcome
}

// itemHeap orders by (priority asc, enqueuedAt asc, seq asc): lower priority
// number runs first, FIFO within a priority class.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

var _ heap.Interface = (*itemHeap)(nil)
