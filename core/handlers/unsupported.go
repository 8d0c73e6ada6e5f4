package handlers

import "dposledger/core/types"

// Unsupported serves protocol types this node recognises but does not admit
// into its pool. Blocks carrying them still settle the balance transfer.
type Unsupported struct {
	*Base
}

func NewUnsupported(txType types.TxType, deps Deps) *Unsupported {
	return &Unsupported{Base: NewBase(txType, deps, nil)}
}
