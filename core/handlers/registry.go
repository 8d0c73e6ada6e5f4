package handlers

import (
	"fmt"
	"sort"

	"dposledger/core/types"
)

// Registry maps transaction types to their handler. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	handlers map[types.TxType]Handler
}

// NewRegistry indexes the supplied handlers by type.
func NewRegistry(hs ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[types.TxType]Handler, len(hs))}
	for _, h := range hs {
		if h == nil {
			continue
		}
		if _, exists := r.handlers[h.Type()]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Type())
		}
		r.handlers[h.Type()] = h
	}
	return r, nil
}

// NewDefaultRegistry registers the transfer and second signature handlers and
// an Unsupported handler for every other protocol type.
func NewDefaultRegistry(deps Deps) *Registry {
	hs := []Handler{NewTransfer(deps), NewSecondSignature(deps)}
	for _, t := range types.KnownTxTypes() {
		if t == types.TxTypeTransfer || t == types.TxTypeSecondSignature {
			continue
		}
		hs = append(hs, NewUnsupported(t, deps))
	}
	r, err := NewRegistry(hs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the handler for t.
func (r *Registry) Get(t types.TxType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTransactionType, t)
	}
	return h, nil
}

// Types lists the registered types in ascending order.
func (r *Registry) Types() []types.TxType {
	out := make([]types.TxType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
