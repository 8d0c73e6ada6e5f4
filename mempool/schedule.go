package mempool

import (
	"container/heap"
	"sort"

	"dposledger/core/types"
)

// schedule merges per-sender queues into block order. Each sender's
// transactions keep their arrival order; across senders the queue whose head
// pays the highest fee goes first, ties broken by arrival. At most maxTxs
// transactions are returned, or all of them when maxTxs is not positive.
func schedule(queues [][]*entry, maxTxs int) []*types.Transaction {
	total := 0
	h := make(headQueue, 0, len(queues))
	for _, q := range queues {
		if len(q) == 0 {
			continue
		}
		total += len(q)
		h = append(h, q)
	}
	if total == 0 {
		return nil
	}
	if maxTxs <= 0 || maxTxs > total {
		maxTxs = total
	}
	heap.Init(&h)

	ordered := make([]*types.Transaction, 0, maxTxs)
	for len(ordered) < maxTxs && h.Len() > 0 {
		q := h[0]
		ordered = append(ordered, q[0].tx)
		if len(q) == 1 {
			heap.Pop(&h)
			continue
		}
		h[0] = q[1:]
		heap.Fix(&h, 0)
	}
	return ordered
}

// headQueue is a max-heap of sender queues keyed by the fee of their head.
type headQueue [][]*entry

func (h headQueue) Len() int { return len(h) }

func (h headQueue) Less(i, j int) bool {
	a, b := h[i][0], h[j][0]
	if cmp := a.tx.FeeOrZero().Cmp(b.tx.FeeOrZero()); cmp != 0 {
		return cmp > 0
	}
	return a.seq < b.seq
}

func (h headQueue) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *headQueue) Push(x any) { *h = append(*h, x.([]*entry)) }

func (h *headQueue) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func sortBySeq(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
}
