package state

import (
	"errors"
	"math/big"
	"testing"

	"dposledger/core/types"
	"dposledger/crypto"
	"dposledger/storage"
)

func newTestManager(t *testing.T, db storage.Database) (*WalletManager, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewWalletManager(db, crypto.NewVerifier(crypto.DevnetPrefix)), key
}

func TestFindByPublicKeyBindsColdWallet(t *testing.T) {
	m, key := newTestManager(t, storage.NewMemDB())
	pub := key.PubKey().Compressed()
	address := key.PubKey().Address(crypto.DevnetPrefix).String()

	err := m.Exclusive(func() error {
		cold := m.FindByAddress(address)
		cold.Balance = big.NewInt(500)
		if len(cold.PublicKey) != 0 {
			t.Fatalf("expected cold wallet without key")
		}
		w, err := m.FindByPublicKey(pub)
		if err != nil {
			return err
		}
		if w != cold {
			t.Fatalf("expected the cold wallet to be returned")
		}
		if !w.OwnsPublicKey(pub) {
			t.Fatalf("expected public key to be bound")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("exclusive: %v", err)
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	m, key := newTestManager(t, storage.NewMemDB())
	pub := key.PubKey().Compressed()

	if err := m.View(func() error {
		w, err := m.PeekByPublicKey(pub)
		if err != nil {
			return err
		}
		if !w.OwnsPublicKey(pub) {
			t.Fatalf("expected key bound on copy")
		}
		w.Balance = big.NewInt(99)
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if got := m.All(); len(got) != 0 {
		t.Fatalf("expected no wallets, got %d", len(got))
	}
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	m, key := newTestManager(t, db)
	pub := key.PubKey().Compressed()

	err := m.Exclusive(func() error {
		w, err := m.FindByPublicKey(pub)
		if err != nil {
			return err
		}
		w.Balance = big.NewInt(1_000)
		w.SecondPublicKey = []byte{0x02, 0x01}
		m.FindByAddress("untouched-empty")
		return m.Flush()
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	before, err := m.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	reloaded := NewWalletManager(db, crypto.NewVerifier(crypto.DevnetPrefix))
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	after, err := reloaded.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if before != after {
		t.Fatalf("digest mismatch after reload")
	}
	if _, ok := reloaded.Wallet("untouched-empty"); ok {
		t.Fatalf("empty wallet must not be persisted")
	}
	all := reloaded.All()
	if len(all) != 1 || all[0].Balance.Int64() != 1_000 {
		t.Fatalf("unexpected wallets after reload: %+v", all)
	}

	err = reloaded.View(func() error {
		w, err := reloaded.PeekByPublicKey(pub)
		if err != nil {
			return err
		}
		if w.Balance.Int64() != 1_000 {
			t.Fatalf("lookup by key after reload returned balance %s", w.Balance)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestFlushRejectsNegativeBalance(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemDB())
	err := m.Exclusive(func() error {
		m.FindByAddress("debtor").Balance = big.NewInt(-1)
		return m.Flush()
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
}

func TestSeedAndDigestOrderIndependent(t *testing.T) {
	a := &types.Wallet{Address: "a", Balance: big.NewInt(1)}
	b := &types.Wallet{Address: "b", Balance: big.NewInt(2)}

	m1, _ := newTestManager(t, storage.NewMemDB())
	m2, _ := newTestManager(t, storage.NewMemDB())
	if err := m1.Seed([]*types.Wallet{a, b}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := m2.Seed([]*types.Wallet{b, a}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d1, _ := m1.Digest()
	d2, _ := m2.Digest()
	if d1 != d2 {
		t.Fatalf("digest depends on insertion order")
	}

	a.Balance.SetInt64(50)
	d3, _ := m1.Digest()
	if d3 != d1 {
		t.Fatalf("seed must copy wallets")
	}

	if err := m1.Seed([]*types.Wallet{{Address: "neg", Balance: big.NewInt(-5)}}); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected ErrNegativeBalance, got %v", err)
	}
}
