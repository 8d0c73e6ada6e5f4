package handlers

import (
	"encoding/hex"
	"fmt"

	"dposledger/core/types"
)

// Rejection codes pushed to the pool guard by handlers.
const (
	CodeUnsupported      = "ERR_UNSUPPORTED"
	CodePending          = "ERR_PENDING"
	CodeInvalidRecipient = "ERR_INVALID_RECIPIENT"
)

// PoolGuard is the slice of the mempool admission gate handlers depend on.
// Handlers only record rejections and read the membership query.
type PoolGuard interface {
	PushError(tx *types.Transaction, code, message string)
	SenderHasTransactionsOfType(senderPublicKey []byte, txType types.TxType) bool
}

// CanEnterTransactionPool rejects the transaction as unsupported. Variants
// that accept pool entries override it.
func (b *Base) CanEnterTransactionPool(tx *types.Transaction, guard PoolGuard) bool {
	guard.PushError(
		tx,
		CodeUnsupported,
		fmt.Sprintf("Invalidating transaction of unsupported type '%s'", tx.Type),
	)
	return false
}

// TypeFromSenderAlreadyInPool reports (and records as ERR_PENDING) whether the
// sender already has a pending transaction of the same type.
func (b *Base) TypeFromSenderAlreadyInPool(tx *types.Transaction, guard PoolGuard) bool {
	if !guard.SenderHasTransactionsOfType(tx.SenderPublicKey, tx.Type) {
		return false
	}
	guard.PushError(
		tx,
		CodePending,
		fmt.Sprintf("Sender %s already has a transaction of type '%s' in the pool", hex.EncodeToString(tx.SenderPublicKey), tx.Type),
	)
	return true
}
