package mempool

import (
	"fmt"
	"log/slog"
	"sync"

	"dposledger/config"
	"dposledger/core/handlers"
	"dposledger/core/state"
	"dposledger/core/types"
	"dposledger/observability"
)

// Guard-level rejection codes. Handlers add ERR_UNSUPPORTED, ERR_PENDING and
// ERR_INVALID_RECIPIENT.
const (
	CodeDuplicate   = "ERR_DUPLICATE"
	CodeUnknownType = "ERR_UNKNOWN_TYPE"
	CodeBadData     = "ERR_BAD_DATA"
	CodeLowFee      = "ERR_LOW_FEE"
	CodeApply       = "ERR_APPLY"
	CodePoolFull    = "ERR_POOL_FULL"
)

// Rejection records why a transaction was refused.
type Rejection struct {
	TxID    string `json:"txId"`
	Code    string `json:"type"`
	Message string `json:"message"`
}

// Result is the outcome of one Validate call. Every candidate id appears in
// exactly one of Accept, Invalid or Excess.
type Result struct {
	Accept  []string               `json:"accept"`
	Invalid []string               `json:"invalid"`
	Excess  []string               `json:"excess"`
	Errors  map[string][]Rejection `json:"errors,omitempty"`
}

func newResult() *Result {
	return &Result{
		Accept:  []string{},
		Invalid: []string{},
		Excess:  []string{},
		Errors:  make(map[string][]Rejection),
	}
}

// Rejections flattens Errors in candidate order.
func (r *Result) Rejections() []Rejection {
	var out []Rejection
	seen := make(map[string]bool)
	for _, ids := range [][]string{r.Invalid, r.Excess} {
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, r.Errors[id]...)
		}
	}
	return out
}

// SignatureVerifier checks the sender's primary signature and maps sender
// keys to the address they control.
type SignatureVerifier interface {
	VerifySignature(tx *types.Transaction) bool
	DeriveAddress(publicKey []byte) (string, error)
}

// HeightSource reports the height of the last applied block.
type HeightSource interface {
	Height() uint64
}

// GuardConfig wires the collaborators of a Guard.
type GuardConfig struct {
	Pool       *Pool
	Wallets    *state.WalletManager
	Registry   *handlers.Registry
	Verifier   SignatureVerifier
	Milestones handlers.MilestoneSource
	Chain      HeightSource
	Logger     *slog.Logger
	Metrics    *observability.LedgerMetrics
}

// Guard is the admission gate in front of the Pool. Batches are validated
// one at a time; within a batch each candidate is checked against a
// projection of its sender wallet that already includes the sender's pending
// transactions, so the same funds are never admitted twice. Senders are
// identified by derived address, so every encoding of a key shares one
// projection.
type Guard struct {
	mu         sync.Mutex
	pool       *Pool
	wallets    *state.WalletManager
	registry   *handlers.Registry
	verifier   SignatureVerifier
	milestones handlers.MilestoneSource
	chain      HeightSource
	logger     *slog.Logger
	metrics    *observability.LedgerMetrics

	result *Result
}

func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Pool == nil || cfg.Wallets == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("guard: pool, wallets and registry are required")
	}
	if cfg.Verifier == nil || cfg.Milestones == nil || cfg.Chain == nil {
		return nil, fmt.Errorf("guard: verifier, milestones and chain are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		pool:       cfg.Pool,
		wallets:    cfg.Wallets,
		registry:   cfg.Registry,
		verifier:   cfg.Verifier,
		milestones: cfg.Milestones,
		chain:      cfg.Chain,
		logger:     logger.With("component", "mempool"),
		metrics:    cfg.Metrics,
	}, nil
}

// PushError records a rejection for tx in the batch being validated.
func (g *Guard) PushError(tx *types.Transaction, code, message string) {
	id, _ := tx.ID()
	g.pushError(id, code, message)
}

func (g *Guard) pushError(id, code, message string) {
	if g.result == nil {
		return
	}
	g.result.Errors[id] = append(g.result.Errors[id], Rejection{TxID: id, Code: code, Message: message})
	g.metrics.RecordPoolRejection(code)
}

// SenderHasTransactionsOfType reports whether the pool holds a transaction of
// txType from the sender, including ones accepted earlier in the batch.
func (g *Guard) SenderHasTransactionsOfType(senderPublicKey []byte, txType types.TxType) bool {
	sender, err := g.verifier.DeriveAddress(senderPublicKey)
	if err != nil {
		return false
	}
	return g.pool.HasType(sender, txType)
}

// Validate runs the admission checks over txs in order and adds the accepted
// ones to the pool. Candidates are checked against the block after the
// current tip.
func (g *Guard) Validate(txs []*types.Transaction) *Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validateLocked(txs)
}

func (g *Guard) validateLocked(txs []*types.Transaction) *Result {
	g.result = newResult()
	defer func() { g.result = nil }()
	result := g.result

	height := g.chain.Height() + 1
	milestone := g.milestones.MilestoneAt(height)
	projected := make(map[string]*types.Wallet)
	inBatch := make(map[string]bool, len(txs))

	_ = g.wallets.View(func() error {
		for i, tx := range txs {
			if tx == nil {
				id := fmt.Sprintf("#%d", i)
				g.pushError(id, CodeBadData, "Transaction is empty")
				result.Invalid = append(result.Invalid, id)
				continue
			}
			id, err := tx.ID()
			if err != nil {
				id = fmt.Sprintf("#%d", i)
				g.pushError(id, CodeBadData, fmt.Sprintf("Transaction could not be encoded: %v", err))
				result.Invalid = append(result.Invalid, id)
				continue
			}
			if inBatch[id] || g.pool.Has(id) {
				g.pushError(id, CodeDuplicate, fmt.Sprintf("Duplicate transaction %s", id))
				result.Invalid = append(result.Invalid, id)
				continue
			}
			inBatch[id] = true

			switch sender, v := g.admit(id, tx, height, milestone, projected); v {
			case admitted:
				g.pool.add(id, sender, tx)
				result.Accept = append(result.Accept, id)
			case excess:
				result.Excess = append(result.Excess, id)
			default:
				result.Invalid = append(result.Invalid, id)
			}
		}
		return nil
	})

	g.metrics.SetPoolSize(g.pool.Size())
	if len(result.Invalid)+len(result.Excess) > 0 {
		g.logger.Debug("transactions refused", "accepted", len(result.Accept), "invalid", len(result.Invalid), "excess", len(result.Excess))
	}
	return result
}

type verdict int

const (
	rejected verdict = iota
	admitted
	excess
)

func (g *Guard) admit(id string, tx *types.Transaction, height uint64, milestone config.Milestone, projected map[string]*types.Wallet) (string, verdict) {
	if err := tx.Validate(); err != nil {
		g.pushError(id, CodeBadData, err.Error())
		return "", rejected
	}
	handler, err := g.registry.Get(tx.Type)
	if err != nil {
		g.pushError(id, CodeUnknownType, fmt.Sprintf("Invalidating transaction of unknown type %d", byte(tx.Type)))
		return "", rejected
	}
	if !g.verifier.VerifySignature(tx) {
		g.pushError(id, CodeBadData, "Transaction signature is invalid")
		return "", rejected
	}
	sender, err := g.verifier.DeriveAddress(tx.SenderPublicKey)
	if err != nil {
		g.pushError(id, CodeBadData, fmt.Sprintf("Sender public key is invalid: %v", err))
		return "", rejected
	}
	if floor, ok := milestone.StaticFee(tx.Type); ok && tx.Fee.Cmp(floor) < 0 {
		g.pushError(id, CodeLowFee, fmt.Sprintf("Transaction fee %s is below the minimum %s", tx.Fee, floor))
		return "", rejected
	}
	if g.pool.Full() {
		g.pushError(id, CodePoolFull, "Pool is full")
		return "", excess
	}
	if g.pool.SenderFull(sender) {
		g.pushError(id, CodePoolFull, "Sender reached the pending transaction limit")
		return "", excess
	}
	if !handler.CanEnterTransactionPool(tx, g) {
		return "", rejected
	}

	wallet, err := g.projectedWallet(sender, tx.SenderPublicKey, projected)
	if err != nil {
		g.pushError(id, CodeBadData, err.Error())
		return "", rejected
	}
	if err := handler.CanBeApplied(tx, wallet, height); err != nil {
		g.metrics.RecordValidationFailure(handlers.Kind(err))
		g.pushError(id, CodeApply, err.Error())
		return "", rejected
	}
	handler.ApplyToSender(tx, wallet)
	return sender, admitted
}

// projectedWallet returns a private copy of the sender wallet with the
// sender's pending transactions already debited. Must run inside View.
func (g *Guard) projectedWallet(sender string, senderPublicKey []byte, projected map[string]*types.Wallet) (*types.Wallet, error) {
	if w, ok := projected[sender]; ok {
		return w, nil
	}
	w, err := g.wallets.PeekByPublicKey(senderPublicKey)
	if err != nil {
		return nil, err
	}
	for _, pending := range g.pool.SenderTransactions(sender) {
		handler, err := g.registry.Get(pending.Type)
		if err != nil {
			continue
		}
		handler.ApplyToSender(pending, w)
	}
	projected[sender] = w
	return w, nil
}

// Pending returns the transactions a block at the next height could include,
// capped by the milestone's block size.
func (g *Guard) Pending() []*types.Transaction {
	limit := g.milestones.MilestoneAt(g.chain.Height() + 1).BlockMaxTransactions
	return g.pool.Pending(limit)
}

// BlockApplied drops the block's transactions from the pool and revalidates
// the rest against the new state.
func (g *Guard) BlockApplied(b *types.Block) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		if id, err := tx.ID(); err == nil {
			ids = append(ids, id)
		}
	}
	removed := g.pool.Remove(ids...)
	g.recheckLocked(nil)
	g.logger.Debug("pool updated after block", "height", b.Header.Height, "included", removed, "pending", g.pool.Size())
}

// BlockReverted offers the reverted block's transactions to the pool again
// ahead of the pending ones.
func (g *Guard) BlockReverted(b *types.Block) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recheckLocked(b.Transactions)
	g.logger.Debug("pool updated after revert", "height", b.Header.Height, "pending", g.pool.Size())
}

func (g *Guard) recheckLocked(first []*types.Transaction) {
	candidates := append(append([]*types.Transaction(nil), first...), g.pool.drain()...)
	if len(candidates) == 0 {
		g.metrics.SetPoolSize(0)
		return
	}
	result := g.validateLocked(candidates)
	if dropped := len(result.Invalid) + len(result.Excess); dropped > 0 {
		g.logger.Info("pool dropped transactions", "dropped", dropped)
	}
}
