package handlers

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"dposledger/config"
	"dposledger/core/events"
	"dposledger/core/types"
	"dposledger/crypto"
)

type rejection struct {
	code    string
	message string
}

type fakeGuard struct {
	pending    map[string]map[types.TxType]bool
	rejections []rejection
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{pending: make(map[string]map[types.TxType]bool)}
}

func (g *fakeGuard) PushError(tx *types.Transaction, code, message string) {
	g.rejections = append(g.rejections, rejection{code: code, message: message})
}

func (g *fakeGuard) SenderHasTransactionsOfType(senderPublicKey []byte, txType types.TxType) bool {
	return g.pending[hex.EncodeToString(senderPublicKey)][txType]
}

func (g *fakeGuard) addPending(senderPublicKey []byte, txType types.TxType) {
	key := hex.EncodeToString(senderPublicKey)
	if g.pending[key] == nil {
		g.pending[key] = make(map[types.TxType]bool)
	}
	g.pending[key][txType] = true
}

type fixture struct {
	verifier *crypto.Verifier
	sender   *crypto.PrivateKey
	second   *crypto.PrivateKey
	wallet   *types.Wallet
	deps     Deps
	recorder *events.Recorder
}

func newFixture(t *testing.T, balance int64) *fixture {
	t.Helper()
	sender, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate sender: %v", err)
	}
	second, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate second key: %v", err)
	}
	verifier := crypto.NewVerifier(crypto.DevnetPrefix)
	milestones, err := config.NewMilestones(
		config.Milestone{Height: 1, IgnoreInvalidSecondSignatureField: true},
		config.Milestone{Height: 100, IgnoreInvalidSecondSignatureField: false},
	)
	if err != nil {
		t.Fatalf("milestones: %v", err)
	}
	wallet := types.NewWallet(sender.PubKey().Address(crypto.DevnetPrefix).String())
	wallet.PublicKey = sender.PubKey().Compressed()
	wallet.Balance = big.NewInt(balance)
	recorder := events.NewRecorder(0)
	return &fixture{
		verifier: verifier,
		sender:   sender,
		second:   second,
		wallet:   wallet,
		recorder: recorder,
		deps:     Deps{Verifier: verifier, Milestones: milestones, Emitter: recorder},
	}
}

func (f *fixture) recipient(t *testing.T) *types.Wallet {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate recipient: %v", err)
	}
	return types.NewWallet(key.PubKey().Address(crypto.DevnetPrefix).String())
}

func (f *fixture) transfer(t *testing.T, to string, amount, fee int64) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Type:            types.TxTypeTransfer,
		Timestamp:       1,
		SenderPublicKey: f.sender.PubKey().Compressed(),
		RecipientID:     to,
		Amount:          big.NewInt(amount),
		Fee:             big.NewInt(fee),
	}
	if err := tx.Sign(f.sender.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func TestCanBeAppliedBalanceBoundary(t *testing.T) {
	f := newFixture(t, 100)
	h := NewTransfer(f.deps)
	to := f.recipient(t).Address

	err := h.CanBeApplied(f.transfer(t, to, 60, 50), f.wallet, 200)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	var detail *InsufficientBalanceError
	if !errors.As(err, &detail) || detail.Required.Int64() != 110 || detail.Balance.Int64() != 100 {
		t.Fatalf("unexpected insufficient balance detail: %+v", detail)
	}

	tx := f.transfer(t, to, 60, 40)
	if err := h.CanBeApplied(tx, f.wallet, 200); err != nil {
		t.Fatalf("expected admissible transfer, got %v", err)
	}
	if f.wallet.Balance.Int64() != 100 {
		t.Fatalf("validation mutated balance: %s", f.wallet.Balance)
	}
	h.ApplyToSender(tx, f.wallet)
	if f.wallet.Balance.Sign() != 0 {
		t.Fatalf("expected zero balance after apply, got %s", f.wallet.Balance)
	}
}

func TestCanBeAppliedMultiSignatureFirst(t *testing.T) {
	f := newFixture(t, 0)
	f.wallet.MultiSignature = true
	f.wallet.PublicKey = []byte{0x01}
	h := NewTransfer(f.deps)

	// Balance and identity are both wrong; the multisignature guard wins.
	err := h.CanBeApplied(f.transfer(t, f.recipient(t).Address, 10, 10), f.wallet, 200)
	if !errors.Is(err, ErrUnexpectedMultiSignature) {
		t.Fatalf("expected multisignature error, got %v", err)
	}
}

func TestCanBeAppliedSenderMismatch(t *testing.T) {
	f := newFixture(t, 1_000)
	other, _ := crypto.GeneratePrivateKey()
	f.wallet.PublicKey = other.PubKey().Compressed()
	h := NewTransfer(f.deps)

	err := h.CanBeApplied(f.transfer(t, f.recipient(t).Address, 1, 1), f.wallet, 200)
	if !errors.Is(err, ErrSenderWalletMismatch) {
		t.Fatalf("expected sender mismatch, got %v", err)
	}
	if got := h.CanBeApplied(f.transfer(t, f.recipient(t).Address, 1, 1), nil, 200); !errors.Is(got, ErrSenderWalletMismatch) {
		t.Fatalf("nil wallet: expected sender mismatch, got %v", got)
	}
}

func TestCanBeAppliedSecondSignaturePolicy(t *testing.T) {
	f := newFixture(t, 1_000)
	h := NewTransfer(f.deps)
	to := f.recipient(t).Address

	t.Run("registered key verifies", func(t *testing.T) {
		w := f.wallet.Clone()
		w.SecondPublicKey = f.second.PubKey().Compressed()
		tx := f.transfer(t, to, 1, 1)
		if err := tx.SecondSign(f.second.PrivateKey); err != nil {
			t.Fatalf("second sign: %v", err)
		}
		if err := h.CanBeApplied(tx, w, 200); err != nil {
			t.Fatalf("expected valid second signature, got %v", err)
		}
	})

	t.Run("registered key bad signature", func(t *testing.T) {
		w := f.wallet.Clone()
		w.SecondPublicKey = f.second.PubKey().Compressed()
		tx := f.transfer(t, to, 1, 1)
		if err := tx.SecondSign(f.sender.PrivateKey); err != nil {
			t.Fatalf("second sign: %v", err)
		}
		if err := h.CanBeApplied(tx, w, 200); !errors.Is(err, ErrInvalidSecondSignature) {
			t.Fatalf("expected invalid second signature, got %v", err)
		}
	})

	t.Run("registered key missing signature", func(t *testing.T) {
		w := f.wallet.Clone()
		w.SecondPublicKey = f.second.PubKey().Compressed()
		if err := h.CanBeApplied(f.transfer(t, to, 1, 1), w, 200); !errors.Is(err, ErrInvalidSecondSignature) {
			t.Fatalf("expected invalid second signature, got %v", err)
		}
	})

	t.Run("stray field after patch", func(t *testing.T) {
		tx := f.transfer(t, to, 1, 1)
		tx.SignSignature = []byte{0xde, 0xad}
		if err := h.CanBeApplied(tx, f.wallet, 100); !errors.Is(err, ErrUnexpectedSecondSignature) {
			t.Fatalf("expected unexpected second signature, got %v", err)
		}
	})

	t.Run("stray field tolerated before patch", func(t *testing.T) {
		tx := f.transfer(t, to, 1, 1)
		tx.SecondSignature = []byte{0xde, 0xad}
		if err := h.CanBeApplied(tx, f.wallet, 99); err != nil {
			t.Fatalf("expected stray field to be tolerated, got %v", err)
		}
	})
}

func TestApplyRevertSenderRoundTrip(t *testing.T) {
	amounts := [][2]int64{{0, 0}, {1, 0}, {60, 40}, {123456789, 987654321}}
	for _, pair := range amounts {
		f := newFixture(t, 5_000_000_000)
		f.wallet.Balance, _ = new(big.Int).SetString("123456789012345678901234567890", 10)
		before := new(big.Int).Set(f.wallet.Balance)
		h := NewTransfer(f.deps)
		tx := f.transfer(t, f.recipient(t).Address, pair[0], pair[1])

		if err := h.CanBeApplied(tx, f.wallet, 200); err != nil {
			t.Fatalf("can be applied: %v", err)
		}
		h.ApplyToSender(tx, f.wallet)
		want := new(big.Int).Sub(before, big.NewInt(pair[0]+pair[1]))
		if f.wallet.Balance.Cmp(want) != 0 {
			t.Fatalf("apply: got %s want %s", f.wallet.Balance, want)
		}
		h.RevertForSender(tx, f.wallet)
		if f.wallet.Balance.Cmp(before) != 0 {
			t.Fatalf("round trip drifted: got %s want %s", f.wallet.Balance, before)
		}
	}
}

func TestApplyToSenderMatchesDerivedAddress(t *testing.T) {
	f := newFixture(t, 100)
	h := NewTransfer(f.deps)
	tx := f.transfer(t, f.recipient(t).Address, 10, 1)

	// Cold wallet: key not bound yet, address derived from the sender key.
	cold := types.NewWallet(f.wallet.Address)
	cold.Balance = big.NewInt(100)
	h.ApplyToSender(tx, cold)
	if cold.Balance.Int64() != 89 {
		t.Fatalf("expected debit on derived address match, got %s", cold.Balance)
	}
	h.RevertForSender(tx, cold)
	if cold.Balance.Int64() != 100 {
		t.Fatalf("expected revert on derived address match, got %s", cold.Balance)
	}

	stranger := f.recipient(t)
	stranger.Balance = big.NewInt(100)
	h.ApplyToSender(tx, stranger)
	h.RevertForSender(tx, stranger)
	if stranger.Balance.Int64() != 100 {
		t.Fatalf("unrelated wallet touched: %s", stranger.Balance)
	}
}

func TestApplyToRecipient(t *testing.T) {
	f := newFixture(t, 100)
	h := NewTransfer(f.deps)
	recipient := f.recipient(t)
	tx := f.transfer(t, recipient.Address, 60, 40)

	h.ApplyToRecipient(tx, recipient)
	if recipient.Balance.Int64() != 60 {
		t.Fatalf("recipient must receive amount only, got %s", recipient.Balance)
	}
	other := f.recipient(t)
	h.ApplyToRecipient(tx, other)
	if other.Balance.Sign() != 0 {
		t.Fatalf("non-recipient credited: %s", other.Balance)
	}
	h.RevertForRecipient(tx, recipient)
	if recipient.Balance.Sign() != 0 {
		t.Fatalf("revert for recipient: got %s", recipient.Balance)
	}
	h.RevertForRecipient(tx, other)
	if other.Balance.Sign() != 0 {
		t.Fatalf("revert touched non-recipient: %s", other.Balance)
	}
}

func TestDefaultPoolAdmissionRejectsOnce(t *testing.T) {
	f := newFixture(t, 100)
	h := NewUnsupported(types.TxTypeVote, f.deps)
	tx := f.transfer(t, f.recipient(t).Address, 1, 1)
	tx.Type = types.TxTypeVote
	guard := newFakeGuard()

	if h.CanEnterTransactionPool(tx, guard) {
		t.Fatalf("default admission must reject")
	}
	if len(guard.rejections) != 1 || guard.rejections[0].code != CodeUnsupported {
		t.Fatalf("expected one ERR_UNSUPPORTED, got %+v", guard.rejections)
	}
	if !strings.Contains(guard.rejections[0].message, "'Vote'") {
		t.Fatalf("message should name the type: %s", guard.rejections[0].message)
	}
	h.CanEnterTransactionPool(tx, guard)
	if len(guard.rejections) != 2 {
		t.Fatalf("expected one rejection per call, got %d", len(guard.rejections))
	}
}

func TestTypeFromSenderAlreadyInPool(t *testing.T) {
	f := newFixture(t, 100)
	h := NewUnsupported(types.TxTypeVote, f.deps)
	tx := f.transfer(t, f.recipient(t).Address, 1, 1)
	tx.Type = types.TxTypeVote

	guard := newFakeGuard()
	if h.TypeFromSenderAlreadyInPool(tx, guard) {
		t.Fatalf("empty pool reported pending")
	}
	if len(guard.rejections) != 0 {
		t.Fatalf("no rejection expected, got %+v", guard.rejections)
	}

	guard.addPending(tx.SenderPublicKey, types.TxTypeTransfer)
	if h.TypeFromSenderAlreadyInPool(tx, guard) {
		t.Fatalf("pending transaction of another type must not count")
	}

	guard.addPending(tx.SenderPublicKey, types.TxTypeVote)
	if !h.TypeFromSenderAlreadyInPool(tx, guard) {
		t.Fatalf("expected pending match")
	}
	if len(guard.rejections) != 1 || guard.rejections[0].code != CodePending {
		t.Fatalf("expected one ERR_PENDING, got %+v", guard.rejections)
	}
	wantSender := hex.EncodeToString(tx.SenderPublicKey)
	if !strings.Contains(guard.rejections[0].message, wantSender) {
		t.Fatalf("message should name the sender: %s", guard.rejections[0].message)
	}
}

func TestBaseEmitEventsIsNoop(t *testing.T) {
	f := newFixture(t, 100)
	h := NewUnsupported(types.TxTypeIpfs, f.deps)
	h.EmitEvents(f.transfer(t, f.recipient(t).Address, 1, 1))
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("base handler emitted events")
	}
	if _, ok := NewUnsupported(types.TxTypeIpfs, Deps{Verifier: f.verifier}).Emitter().(events.NoopEmitter); !ok {
		t.Fatalf("expected null emitter default")
	}
}

func TestKind(t *testing.T) {
	cases := map[error]string{
		nil:                                 "",
		ErrUnexpectedMultiSignature:         "unexpected_multisignature",
		&InsufficientBalanceError{}:         "insufficient_balance",
		ErrSenderWalletMismatch:             "sender_wallet_mismatch",
		ErrInvalidSecondSignature:           "invalid_second_signature",
		ErrUnexpectedSecondSignature:        "unexpected_second_signature",
		ErrSecondSignatureAlreadyRegistered: "second_signature_already_registered",
		errors.New("boom"):                  "other",
	}
	for err, want := range cases {
		if got := Kind(err); got != want {
			t.Fatalf("Kind(%v) = %q, want %q", err, got, want)
		}
	}
}
