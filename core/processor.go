package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"dposledger/core/handlers"
	"dposledger/core/state"
	"dposledger/core/types"
	"dposledger/observability"
	telemetry "dposledger/observability/otel"
)

var (
	ErrInvalidSignature    = errors.New("block: invalid transaction signature")
	ErrTooManyTransactions = errors.New("block: too many transactions")
	ErrTxRootMismatch      = errors.New("block: tx root mismatch")
	ErrNilTransaction      = errors.New("block: nil transaction")
	ErrInvalidRecipient    = errors.New("block: invalid recipient address")
)

// TxError identifies the transaction that made a block fail.
type TxError struct {
	Index int
	TxID  string
	Err   error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction %d (%s): %v", e.Index, e.TxID, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// SignatureVerifier checks the sender's primary signature and the recipient
// address of a transaction.
type SignatureVerifier interface {
	VerifySignature(tx *types.Transaction) bool
	ValidateAddress(address string) bool
}

// BlockListener is notified after a block has been applied or reverted and
// the wallet lock has been released.
type BlockListener interface {
	BlockApplied(b *types.Block)
	BlockReverted(b *types.Block)
}

// ProcessorConfig wires the collaborators of a BlockProcessor. Wallets and
// Chain must share one database so a block and its wallet changes are
// committed in a single batch.
type ProcessorConfig struct {
	Registry   *handlers.Registry
	Wallets    *state.WalletManager
	Chain      *Blockchain
	Verifier   SignatureVerifier
	Milestones handlers.MilestoneSource
	Logger     *slog.Logger
	Metrics    *observability.LedgerMetrics
}

// BlockProcessor applies and reverts whole blocks against the wallet set.
// A block is applied atomically: when any transaction fails every earlier
// transaction of the block is reverted in reverse order.
type BlockProcessor struct {
	mu         sync.Mutex
	registry   *handlers.Registry
	wallets    *state.WalletManager
	chain      *Blockchain
	verifier   SignatureVerifier
	milestones handlers.MilestoneSource
	logger     *slog.Logger
	metrics    *observability.LedgerMetrics
	tracer     trace.Tracer
	listeners  []BlockListener
}

// BlockResult summarises an applied block.
type BlockResult struct {
	Height       uint64
	Hash         []byte
	Transactions int
	Digest       [32]byte
}

func NewBlockProcessor(cfg ProcessorConfig) (*BlockProcessor, error) {
	if cfg.Registry == nil || cfg.Wallets == nil || cfg.Chain == nil {
		return nil, fmt.Errorf("block processor: registry, wallets and chain are required")
	}
	if cfg.Verifier == nil || cfg.Milestones == nil {
		return nil, fmt.Errorf("block processor: verifier and milestones are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BlockProcessor{
		registry:   cfg.Registry,
		wallets:    cfg.Wallets,
		chain:      cfg.Chain,
		verifier:   cfg.Verifier,
		milestones: cfg.Milestones,
		logger:     logger.With("component", "processor"),
		metrics:    cfg.Metrics,
		tracer:     telemetry.Tracer(),
	}, nil
}

// Subscribe registers l for block notifications. Not safe to call while
// blocks are being processed.
func (p *BlockProcessor) Subscribe(l BlockListener) {
	p.listeners = append(p.listeners, l)
}

// Height returns the height of the last applied block.
func (p *BlockProcessor) Height() uint64 {
	return p.chain.Height()
}

type appliedTx struct {
	tx        *types.Transaction
	handler   handlers.Handler
	sender    *types.Wallet
	recipient *types.Wallet
}

// ApplyBlock validates b against the chain tip and applies its transactions
// in order. Events are emitted only once the whole block has been applied.
func (p *BlockProcessor) ApplyBlock(ctx context.Context, b *types.Block) (*BlockResult, error) {
	if b == nil || b.Header == nil {
		return nil, ErrMissingHeader
	}
	_, span := p.tracer.Start(ctx, "ledger.ApplyBlock", trace.WithAttributes(
		attribute.Int64("block.height", int64(b.Header.Height)),
		attribute.Int("block.transactions", len(b.Transactions)),
	))
	defer span.End()

	start := time.Now()
	err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		err := p.applyLocked(b)
		p.metrics.ObserveBlock("apply", err, time.Since(start))
		return err
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("block rejected", "height", b.Header.Height, "error", err)
		return nil, err
	}

	for _, l := range p.listeners {
		l.BlockApplied(b)
	}

	hash, err := b.Header.Hash()
	if err != nil {
		return nil, err
	}
	digest, err := p.wallets.Digest()
	if err != nil {
		return nil, err
	}
	p.logger.Info("block applied",
		"height", b.Header.Height,
		"transactions", len(b.Transactions),
		"duration", time.Since(start).String())
	return &BlockResult{
		Height:       b.Header.Height,
		Hash:         hash,
		Transactions: len(b.Transactions),
		Digest:       digest,
	}, nil
}

func (p *BlockProcessor) applyLocked(b *types.Block) error {
	if err := p.chain.CheckNext(b); err != nil {
		return err
	}
	height := b.Header.Height
	milestone := p.milestones.MilestoneAt(height)
	if limit := milestone.BlockMaxTransactions; limit > 0 && len(b.Transactions) > limit {
		return fmt.Errorf("%w: %d exceeds %d", ErrTooManyTransactions, len(b.Transactions), limit)
	}
	for i, tx := range b.Transactions {
		if tx == nil {
			return &TxError{Index: i, Err: ErrNilTransaction}
		}
	}
	root, err := ComputeTxRoot(b.Transactions)
	if err != nil {
		return err
	}
	fillRoot := len(b.Header.TxRoot) == 0
	if !fillRoot && !bytes.Equal(b.Header.TxRoot, root) {
		return ErrTxRootMismatch
	}

	return p.wallets.Exclusive(func() error {
		applied := make([]appliedTx, 0, len(b.Transactions))
		rollback := func() {
			for i := len(applied) - 1; i >= 0; i-- {
				revertTx(applied[i])
			}
		}

		for i, tx := range b.Transactions {
			step, err := p.applyTx(tx, height)
			if err != nil {
				rollback()
				id, _ := tx.ID()
				return &TxError{Index: i, TxID: id, Err: err}
			}
			applied = append(applied, step)
		}

		puts, deletes, err := p.wallets.Changes()
		if err != nil {
			rollback()
			return fmt.Errorf("persist wallets: %w", err)
		}
		if fillRoot {
			b.Header.TxRoot = root
		}
		if err := p.chain.AppendWith(b, puts, deletes); err != nil {
			rollback()
			if fillRoot {
				b.Header.TxRoot = nil
			}
			return fmt.Errorf("append block: %w", err)
		}
		p.wallets.MarkFlushed()

		for _, step := range applied {
			step.handler.EmitEvents(step.tx)
			p.metrics.RecordApplied(step.tx.Type.String())
		}
		return nil
	})
}

func (p *BlockProcessor) applyTx(tx *types.Transaction, height uint64) (appliedTx, error) {
	if tx == nil {
		return appliedTx{}, ErrNilTransaction
	}
	handler, err := p.registry.Get(tx.Type)
	if err != nil {
		return appliedTx{}, err
	}
	if err := tx.Validate(); err != nil {
		return appliedTx{}, err
	}
	if !p.verifier.VerifySignature(tx) {
		return appliedTx{}, ErrInvalidSignature
	}
	if tx.RecipientID != "" && !p.verifier.ValidateAddress(tx.RecipientID) {
		return appliedTx{}, fmt.Errorf("%w: %s", ErrInvalidRecipient, tx.RecipientID)
	}
	sender, err := p.wallets.FindByPublicKey(tx.SenderPublicKey)
	if err != nil {
		return appliedTx{}, err
	}
	if err := handler.CanBeApplied(tx, sender, height); err != nil {
		p.metrics.RecordValidationFailure(handlers.Kind(err))
		return appliedTx{}, err
	}

	step := appliedTx{tx: tx, handler: handler, sender: sender}
	handler.ApplyToSender(tx, sender)
	if tx.RecipientID != "" {
		step.recipient = p.wallets.FindByAddress(tx.RecipientID)
		handler.ApplyToRecipient(tx, step.recipient)
	}
	return step, nil
}

func revertTx(step appliedTx) {
	if step.recipient != nil {
		step.handler.RevertForRecipient(step.tx, step.recipient)
	}
	step.handler.RevertForSender(step.tx, step.sender)
}

// RevertBlock undoes the tip block and removes it from the chain. The
// reverted block is returned so its transactions can be offered to the pool
// again.
func (p *BlockProcessor) RevertBlock(ctx context.Context) (*types.Block, error) {
	_, span := p.tracer.Start(ctx, "ledger.RevertBlock")
	defer span.End()

	b, err := func() (*types.Block, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		b, err := p.revertLocked()
		p.metrics.ObserveBlock("revert", err, 0)
		return b, err
	}()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("block.height", int64(b.Header.Height)))

	for _, l := range p.listeners {
		l.BlockReverted(b)
	}
	p.logger.Info("block reverted", "height", b.Header.Height, "transactions", len(b.Transactions))
	return b, nil
}

func (p *BlockProcessor) revertLocked() (*types.Block, error) {
	b, err := p.chain.Tip()
	if err != nil {
		return nil, err
	}
	err = p.wallets.Exclusive(func() error {
		reverted := make([]appliedTx, 0, len(b.Transactions))
		restore := func() {
			for i := len(reverted) - 1; i >= 0; i-- {
				step := reverted[i]
				step.handler.ApplyToSender(step.tx, step.sender)
				if step.recipient != nil {
					step.handler.ApplyToRecipient(step.tx, step.recipient)
				}
			}
		}

		for i := len(b.Transactions) - 1; i >= 0; i-- {
			tx := b.Transactions[i]
			handler, err := p.registry.Get(tx.Type)
			if err != nil {
				restore()
				return err
			}
			sender, err := p.wallets.FindByPublicKey(tx.SenderPublicKey)
			if err != nil {
				restore()
				return err
			}
			step := appliedTx{tx: tx, handler: handler, sender: sender}
			if tx.RecipientID != "" {
				step.recipient = p.wallets.FindByAddress(tx.RecipientID)
			}
			revertTx(step)
			reverted = append(reverted, step)
		}

		puts, deletes, err := p.wallets.Changes()
		if err != nil {
			restore()
			return err
		}
		if _, err := p.chain.PopWith(puts, deletes); err != nil {
			restore()
			return err
		}
		p.wallets.MarkFlushed()
		for _, step := range reverted {
			p.metrics.RecordReverted(step.tx.Type.String())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("revert block %d: %w", b.Header.Height, err)
	}
	return b, nil
}
