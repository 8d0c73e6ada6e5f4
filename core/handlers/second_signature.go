package handlers

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"dposledger/core/events"
	"dposledger/core/types"
)

// SecondSignature registers a second public key on the sender wallet. A
// wallet may register at most once.
type SecondSignature struct {
	*Base
}

func NewSecondSignature(deps Deps) *SecondSignature {
	h := &SecondSignature{}
	h.Base = NewBase(types.TxTypeSecondSignature, deps, h)
	return h
}

func (h *SecondSignature) CanBeApplied(tx *types.Transaction, wallet *types.Wallet, height uint64) error {
	if wallet != nil && wallet.HasSecondPublicKey() {
		return ErrSecondSignatureAlreadyRegistered
	}
	if len(tx.SecondPublicKeyAsset()) == 0 {
		return ErrMissingSecondSignatureAsset
	}
	return h.Base.CanBeApplied(tx, wallet, height)
}

func (h *SecondSignature) Apply(tx *types.Transaction, wallet *types.Wallet) {
	wallet.SecondPublicKey = append(hexutil.Bytes(nil), tx.SecondPublicKeyAsset()...)
}

func (h *SecondSignature) Revert(tx *types.Transaction, wallet *types.Wallet) {
	wallet.SecondPublicKey = nil
}

// CanEnterTransactionPool allows one pending registration per sender.
func (h *SecondSignature) CanEnterTransactionPool(tx *types.Transaction, guard PoolGuard) bool {
	return !h.TypeFromSenderAlreadyInPool(tx, guard)
}

func (h *SecondSignature) EmitEvents(tx *types.Transaction) {
	wallet, err := h.verifier.DeriveAddress(tx.SenderPublicKey)
	if err != nil {
		return
	}
	id, _ := tx.ID()
	h.emitter.Emit(events.SecondSignatureRegistered{
		TxID:            id,
		Wallet:          wallet,
		SecondPublicKey: tx.SecondPublicKeyAsset(),
	})
}
