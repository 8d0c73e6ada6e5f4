// Package handlers implements the per-type transaction state transitions.
//
// Every transaction type is served by one stateless Handler. The shared
// balance algorithm lives in Base; variants embed it and supply the Apply and
// Revert hooks for their type specific effects. Handlers are resolved through
// a Registry built once at startup.
//
// Callers own ordering and exclusivity: a wallet must not be validated or
// mutated concurrently, and a revert must be paired with the apply of the
// same transaction against the same wallet.
package handlers

import (
	"bytes"
	"math/big"

	"dposledger/config"
	"dposledger/core/events"
	"dposledger/core/types"
)

// Handler is the capability contract every transaction type satisfies.
type Handler interface {
	Type() types.TxType

	// CanBeApplied checks the transaction against the sender wallet at the
	// given block height. It never mutates the wallet.
	CanBeApplied(tx *types.Transaction, wallet *types.Wallet, height uint64) error

	ApplyToSender(tx *types.Transaction, wallet *types.Wallet)
	ApplyToRecipient(tx *types.Transaction, wallet *types.Wallet)
	RevertForSender(tx *types.Transaction, wallet *types.Wallet)
	RevertForRecipient(tx *types.Transaction, wallet *types.Wallet)

	EmitEvents(tx *types.Transaction)
	CanEnterTransactionPool(tx *types.Transaction, guard PoolGuard) bool
}

// Verifier is the crypto collaborator used by handlers.
type Verifier interface {
	DeriveAddress(publicKey []byte) (string, error)
	VerifySecondSignature(tx *types.Transaction, secondPublicKey []byte) bool
	ValidateAddress(address string) bool
}

// MilestoneSource resolves the protocol parameters active at a height.
type MilestoneSource interface {
	MilestoneAt(height uint64) config.Milestone
}

// Hooks are the type specific effects run after the balance transfer on the
// sender wallet.
type Hooks interface {
	Apply(tx *types.Transaction, wallet *types.Wallet)
	Revert(tx *types.Transaction, wallet *types.Wallet)
}

// Deps bundles the collaborators injected into every handler.
type Deps struct {
	Verifier   Verifier
	Milestones MilestoneSource
	Emitter    events.Emitter
}

type noHooks struct{}

func (noHooks) Apply(*types.Transaction, *types.Wallet)  {}
func (noHooks) Revert(*types.Transaction, *types.Wallet) {}

// Base carries the balance transfer algorithm shared by all handlers.
type Base struct {
	txType     types.TxType
	verifier   Verifier
	milestones MilestoneSource
	emitter    events.Emitter
	hooks      Hooks
}

// NewBase wires the shared algorithm for txType. A nil hooks value means the
// type has no effects beyond the balance transfer.
func NewBase(txType types.TxType, deps Deps, hooks Hooks) *Base {
	emitter := deps.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	if hooks == nil {
		hooks = noHooks{}
	}
	return &Base{
		txType:     txType,
		verifier:   deps.Verifier,
		milestones: deps.Milestones,
		emitter:    emitter,
		hooks:      hooks,
	}
}

func (b *Base) Type() types.TxType { return b.txType }

// Emitter returns the injected event emitter.
func (b *Base) Emitter() events.Emitter { return b.emitter }

// CanBeApplied runs, in order: the multisignature guard, the balance check,
// the sender identity check and the second signature policy.
func (b *Base) CanBeApplied(tx *types.Transaction, wallet *types.Wallet, height uint64) error {
	if wallet == nil {
		return ErrSenderWalletMismatch
	}
	if wallet.MultiSignature {
		return ErrUnexpectedMultiSignature
	}

	balance := wallet.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	remaining := new(big.Int).Sub(balance, tx.AmountOrZero())
	remaining.Sub(remaining, tx.FeeOrZero())
	if remaining.Sign() < 0 {
		return &InsufficientBalanceError{
			Balance:  new(big.Int).Set(balance),
			Required: new(big.Int).Add(tx.AmountOrZero(), tx.FeeOrZero()),
		}
	}

	if !bytes.Equal(tx.SenderPublicKey, wallet.PublicKey) {
		return ErrSenderWalletMismatch
	}

	if wallet.HasSecondPublicKey() {
		if !b.verifier.VerifySecondSignature(tx, wallet.SecondPublicKey) {
			return ErrInvalidSecondSignature
		}
	} else if tx.HasSecondSignature() {
		// Devnet accepted stray second signature fields before the patch
		// milestone.
		if !b.milestones.MilestoneAt(height).IgnoreInvalidSecondSignatureField {
			return ErrUnexpectedSecondSignature
		}
	}

	return nil
}

// ownsSender matches on the bound public key or, for wallets whose key is not
// yet bound, on the address derived from the sender key.
func (b *Base) ownsSender(tx *types.Transaction, wallet *types.Wallet) bool {
	if bytes.Equal(tx.SenderPublicKey, wallet.PublicKey) {
		return true
	}
	addr, err := b.verifier.DeriveAddress(tx.SenderPublicKey)
	return err == nil && addr == wallet.Address
}

// ApplyToSender debits amount plus fee and runs the Apply hook.
func (b *Base) ApplyToSender(tx *types.Transaction, wallet *types.Wallet) {
	if !b.ownsSender(tx, wallet) {
		return
	}
	wallet.Balance = new(big.Int).Sub(balanceOf(wallet), debit(tx))
	b.hooks.Apply(tx, wallet)
}

// ApplyToRecipient credits amount when wallet is the recipient. Fees are not
// credited here.
func (b *Base) ApplyToRecipient(tx *types.Transaction, wallet *types.Wallet) {
	if tx.RecipientID == "" || tx.RecipientID != wallet.Address {
		return
	}
	wallet.Balance = new(big.Int).Add(balanceOf(wallet), tx.AmountOrZero())
}

// RevertForSender credits back amount plus fee and runs the Revert hook.
func (b *Base) RevertForSender(tx *types.Transaction, wallet *types.Wallet) {
	if !b.ownsSender(tx, wallet) {
		return
	}
	wallet.Balance = new(big.Int).Add(balanceOf(wallet), debit(tx))
	b.hooks.Revert(tx, wallet)
}

// RevertForRecipient debits amount when wallet is the recipient.
func (b *Base) RevertForRecipient(tx *types.Transaction, wallet *types.Wallet) {
	if tx.RecipientID == "" || tx.RecipientID != wallet.Address {
		return
	}
	wallet.Balance = new(big.Int).Sub(balanceOf(wallet), tx.AmountOrZero())
}

// EmitEvents publishes nothing by default.
func (b *Base) EmitEvents(tx *types.Transaction) {}

func debit(tx *types.Transaction) *big.Int {
	return new(big.Int).Add(tx.AmountOrZero(), tx.FeeOrZero())
}

func balanceOf(wallet *types.Wallet) *big.Int {
	if wallet.Balance == nil {
		return new(big.Int)
	}
	return wallet.Balance
}
