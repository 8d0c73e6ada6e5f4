package handlers

import (
	"fmt"

	"dposledger/core/events"
	"dposledger/core/types"
)

// Transfer moves amount from the sender to the recipient. It has no effects
// beyond the base balance transfer.
type Transfer struct {
	*Base
}

func NewTransfer(deps Deps) *Transfer {
	h := &Transfer{}
	h.Base = NewBase(types.TxTypeTransfer, deps, h)
	return h
}

func (h *Transfer) Apply(*types.Transaction, *types.Wallet)  {}
func (h *Transfer) Revert(*types.Transaction, *types.Wallet) {}

// CanEnterTransactionPool admits transfers whose recipient lives on this
// network.
func (h *Transfer) CanEnterTransactionPool(tx *types.Transaction, guard PoolGuard) bool {
	if !h.verifier.ValidateAddress(tx.RecipientID) {
		guard.PushError(
			tx,
			CodeInvalidRecipient,
			fmt.Sprintf("Recipient %s is not on the same network", tx.RecipientID),
		)
		return false
	}
	return true
}

func (h *Transfer) EmitEvents(tx *types.Transaction) {
	from, err := h.verifier.DeriveAddress(tx.SenderPublicKey)
	if err != nil {
		return
	}
	id, _ := tx.ID()
	h.emitter.Emit(events.Transfer{
		TxID:   id,
		From:   from,
		To:     tx.RecipientID,
		Amount: tx.AmountOrZero(),
		Fee:    tx.FeeOrZero(),
	})
}
