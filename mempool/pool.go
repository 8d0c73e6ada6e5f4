// Package mempool holds unconfirmed transactions and gates their admission.
package mempool

import (
	"sync"

	"dposledger/config"
	"dposledger/core/types"
)

type entry struct {
	tx     *types.Transaction
	id     string
	sender string
	seq    uint64
}

// Pool stores admitted transactions by id and by sender address. It enforces
// no admission rules itself; see Guard.
type Pool struct {
	mu           sync.RWMutex
	maxSize      int
	maxPerSender int
	byID         map[string]*entry
	bySender     map[string][]*entry
	seq          uint64
}

// NewPool returns an empty pool with the limits from cfg.
func NewPool(cfg config.Mempool) *Pool {
	return &Pool{
		maxSize:      cfg.MaxTransactions,
		maxPerSender: cfg.MaxTransactionsPerSender,
		byID:         make(map[string]*entry),
		bySender:     make(map[string][]*entry),
	}
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byID)
}

func (p *Pool) Has(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// Full reports whether the pool is at capacity.
func (p *Pool) Full() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxSize > 0 && len(p.byID) >= p.maxSize
}

// SenderFull reports whether the sender reached the per-sender cap.
func (p *Pool) SenderFull(sender string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxPerSender > 0 && len(p.bySender[sender]) >= p.maxPerSender
}

// HasType reports whether the sender has a pending transaction of txType.
func (p *Pool) HasType(sender string, txType types.TxType) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, e := range p.bySender[sender] {
		if e.tx.Type == txType {
			return true
		}
	}
	return false
}

// SenderTransactions returns the sender's pending transactions in arrival
// order.
func (p *Pool) SenderTransactions(sender string) []*types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entries := p.bySender[sender]
	out := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

func (p *Pool) add(id, sender string, tx *types.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[id]; exists {
		return
	}
	p.seq++
	e := &entry{tx: tx, id: id, sender: sender, seq: p.seq}
	p.byID[id] = e
	p.bySender[e.sender] = append(p.bySender[e.sender], e)
}

// Remove drops the given ids and reports how many were present.
func (p *Pool) Remove(ids ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for _, id := range ids {
		e, ok := p.byID[id]
		if !ok {
			continue
		}
		delete(p.byID, id)
		removed++
		list := p.bySender[e.sender]
		for i, candidate := range list {
			if candidate == e {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(p.bySender, e.sender)
		} else {
			p.bySender[e.sender] = list
		}
	}
	return removed
}

// drain empties the pool and returns its transactions in arrival order.
func (p *Pool) drain() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]*entry, 0, len(p.byID))
	for _, e := range p.byID {
		entries = append(entries, e)
	}
	sortBySeq(entries)
	out := make([]*types.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	p.byID = make(map[string]*entry)
	p.bySender = make(map[string][]*entry)
	return out
}

// Pending returns up to maxTxs transactions in block order. A non-positive
// maxTxs returns everything.
func (p *Pool) Pending(maxTxs int) []*types.Transaction {
	p.mu.RLock()
	queues := make([][]*entry, 0, len(p.bySender))
	for _, list := range p.bySender {
		queues = append(queues, append([]*entry(nil), list...))
	}
	p.mu.RUnlock()
	return schedule(queues, maxTxs)
}
