package gate

import (
	"container/heap"
	"time"

	"github.com/r3e-network/mev-searcher/internal/types"
)

// queueItem wraps an AdmissionRequest with its heap index for O(log n)
// removal (only ever used to pop the head, but container/heap requires it).
type queueItem struct {
	req   *types.AdmissionRequest
	index int
}

// priorityQueue orders items by strictly descending Priority, oldest-first
// within a priority (spec §4.4: "highest priority dequeued first; within
// priority, oldest-first; reordering is stable").
type priorityQueue []*queueItem

func (q priorityQueue) Len() int { return len(q) }

func (q priorityQueue) Less(i, j int) bool {
	if q[i].req.Priority != q[j].req.Priority {
		return q[i].req.Priority > q[j].req.Priority
	}
	return q[i].req.SubmittedAt.Before(q[j].req.SubmittedAt)
}

func (q priorityQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// admissionQueue is a heap-backed priority queue with position/ETA
// reporting, kept under its own lock so the dispatcher's pop never
// contends with concurrent submitters beyond a short critical section.
type admissionQueue struct {
	items priorityQueue
}

func newAdmissionQueue() *admissionQueue {
	q := &admissionQueue{items: priorityQueue{}}
	heap.Init(&q.items)
	return q
}

func (q *admissionQueue) Len() int { return q.items.Len() }

func (q *admissionQueue) Push(req *types.AdmissionRequest) {
	heap.Push(&q.items, &queueItem{req: req})
}

// PushFront re-admits a request the dispatcher popped but could not run,
// without losing its priority ordering: since neither Priority nor
// SubmittedAt changed, the heap naturally restores it ahead of any later
// arrival at the same priority.
func (q *admissionQueue) PushFront(req *types.AdmissionRequest) {
	q.Push(req)
}

func (q *admissionQueue) Pop() (*types.AdmissionRequest, bool) {
	if q.items.Len() == 0 {
		return nil, false
	}
	item := heap.Pop(&q.items).(*queueItem)
	return item.req, true
}

func (q *admissionQueue) Peek() (*types.AdmissionRequest, bool) {
	if q.items.Len() == 0 {
		return nil, false
	}
	return q.items[0].req, true
}

// Position reports the 0-based rank req would occupy if dequeued now,
// and an estimated wait derived from the average per-slot service time.
func (q *admissionQueue) Position(req *types.AdmissionRequest, avgServiceTime time.Duration, freeSlots int) (int, time.Duration) {
	ahead := 0
	for _, it := range q.items {
		if it.req == req {
			continue
		}
		if it.req.Priority > req.Priority || (it.req.Priority == req.Priority && it.req.SubmittedAt.Before(req.SubmittedAt)) {
			ahead++
		}
	}
	wait := time.Duration(0)
	if freeSlots <= 0 {
		freeSlots = 1
	}
	if ahead > 0 {
		wait = avgServiceTime * time.Duration(ahead/freeSlots+1)
	}
	return ahead, wait
}
