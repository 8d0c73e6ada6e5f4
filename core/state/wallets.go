// Package state keeps the wallet set the transaction handlers operate on.
package state

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lukechampine.com/blake3"

	"dposledger/core/types"
	"dposledger/storage"
)

// AddressDeriver maps a public key to the wallet address it controls.
type AddressDeriver interface {
	DeriveAddress(publicKey []byte) (string, error)
}

// WalletManager holds every known wallet in memory and persists changes to a
// storage.Database on Flush.
//
// Wallet pointers handed out by FindByAddress and FindByPublicKey are live and
// may only be used inside Exclusive. Peek and PeekByPublicKey return copies
// and may be used inside View or Exclusive.
type WalletManager struct {
	mu       sync.RWMutex
	db       storage.Database
	deriver  AddressDeriver
	wallets  map[string]*types.Wallet
	byPubKey map[string]string
	touched  map[string]struct{}
}

// NewWalletManager returns an empty manager. Call Load to read persisted
// wallets.
func NewWalletManager(db storage.Database, deriver AddressDeriver) *WalletManager {
	return &WalletManager{
		db:       db,
		deriver:  deriver,
		wallets:  make(map[string]*types.Wallet),
		byPubKey: make(map[string]string),
		touched:  make(map[string]struct{}),
	}
}

// Load replaces the in-memory set with the wallets persisted in the database.
func (m *WalletManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallets := make(map[string]*types.Wallet)
	byPubKey := make(map[string]string)
	err := m.db.Iterate(walletPrefix, func(_, value []byte) error {
		w, err := decodeWallet(value)
		if err != nil {
			return err
		}
		wallets[w.Address] = w
		if len(w.PublicKey) > 0 {
			byPubKey[hex.EncodeToString(w.PublicKey)] = w.Address
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.wallets = wallets
	m.byPubKey = byPubKey
	m.touched = make(map[string]struct{})
	return nil
}

// Exclusive runs fn with the manager locked for writing.
func (m *WalletManager) Exclusive(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

// View runs fn with the manager locked for reading.
func (m *WalletManager) View(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn()
}

// FindByAddress returns the live wallet for address, creating an empty one
// when none exists. Must be called inside Exclusive.
func (m *WalletManager) FindByAddress(address string) *types.Wallet {
	w, ok := m.wallets[address]
	if !ok {
		w = types.NewWallet(address)
		m.wallets[address] = w
	}
	m.touched[address] = struct{}{}
	return w
}

// FindByPublicKey returns the live wallet controlled by publicKey and binds
// the key to it if the wallet has none yet. Must be called inside Exclusive.
func (m *WalletManager) FindByPublicKey(publicKey []byte) (*types.Wallet, error) {
	if address, ok := m.byPubKey[hex.EncodeToString(publicKey)]; ok {
		return m.FindByAddress(address), nil
	}
	address, err := m.deriver.DeriveAddress(publicKey)
	if err != nil {
		return nil, fmt.Errorf("state: derive address: %w", err)
	}
	w := m.FindByAddress(address)
	if len(w.PublicKey) == 0 {
		w.PublicKey = append([]byte(nil), publicKey...)
		m.byPubKey[hex.EncodeToString(publicKey)] = address
	}
	return w, nil
}

// Peek returns a copy of the wallet at address, or an empty wallet. It never
// changes the manager.
func (m *WalletManager) Peek(address string) *types.Wallet {
	if w, ok := m.wallets[address]; ok {
		return w.Clone()
	}
	return types.NewWallet(address)
}

// PeekByPublicKey is the read-only counterpart of FindByPublicKey. The key is
// bound on the returned copy only.
func (m *WalletManager) PeekByPublicKey(publicKey []byte) (*types.Wallet, error) {
	if address, ok := m.byPubKey[hex.EncodeToString(publicKey)]; ok {
		return m.Peek(address), nil
	}
	address, err := m.deriver.DeriveAddress(publicKey)
	if err != nil {
		return nil, fmt.Errorf("state: derive address: %w", err)
	}
	w := m.Peek(address)
	if len(w.PublicKey) == 0 {
		w.PublicKey = append([]byte(nil), publicKey...)
	}
	return w, nil
}

// Seed installs wallets verbatim, typically from a genesis file. Existing
// wallets with the same address are replaced.
func (m *WalletManager) Seed(wallets []*types.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range wallets {
		if w == nil || w.Address == "" {
			return errors.New("state: seed wallet without address")
		}
		if w.Balance != nil && w.Balance.Sign() < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeBalance, w.Address)
		}
		clone := w.Clone()
		m.wallets[clone.Address] = clone
		if len(clone.PublicKey) > 0 {
			m.byPubKey[hex.EncodeToString(clone.PublicKey)] = clone.Address
		}
		m.touched[clone.Address] = struct{}{}
	}
	return nil
}

// Flush persists every wallet handed out since the previous flush. Empty
// wallets are removed from the database. Must be called inside Exclusive.
func (m *WalletManager) Flush() error {
	puts, deletes, err := m.Changes()
	if err != nil {
		return err
	}
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	if err := storage.WriteBatch(m.db, puts, deletes); err != nil {
		return err
	}
	m.MarkFlushed()
	return nil
}

// Changes encodes the writes Flush would perform without applying them, so
// a caller can commit them in the same batch as its own records. Call
// MarkFlushed once that batch has been written. Must be called inside
// Exclusive.
func (m *WalletManager) Changes() (map[string][]byte, [][]byte, error) {
	puts := make(map[string][]byte, len(m.touched))
	var deletes [][]byte
	for address := range m.touched {
		w := m.wallets[address]
		key := walletKey(address)
		if w == nil || isEmpty(w) {
			deletes = append(deletes, key)
			continue
		}
		encoded, err := encodeWallet(w)
		if err != nil {
			return nil, nil, err
		}
		puts[string(key)] = encoded
	}
	return puts, deletes, nil
}

// MarkFlushed forgets the wallets touched since the last flush. Must be
// called inside Exclusive.
func (m *WalletManager) MarkFlushed() {
	m.touched = make(map[string]struct{})
}

// Wallet returns a copy of the wallet at address.
func (m *WalletManager) Wallet(address string) (*types.Wallet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[address]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// All returns copies of every non-empty wallet ordered by address.
func (m *WalletManager) All() []*types.Wallet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocked()
}

func (m *WalletManager) sortedLocked() []*types.Wallet {
	out := make([]*types.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		if isEmpty(w) {
			continue
		}
		out = append(out, w.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Digest returns a BLAKE3 commitment over every non-empty wallet. Two
// managers holding the same wallets produce the same digest.
func (m *WalletManager) Digest() ([32]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return digestOf(m.sortedLocked())
}

func digestOf(wallets []*types.Wallet) ([32]byte, error) {
	var out [32]byte
	h := blake3.New(32, nil)
	for _, w := range wallets {
		encoded, err := encodeWallet(w)
		if err != nil {
			return out, err
		}
		h.Write(encoded)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

// DigestHex is Digest encoded for logs and RPC replies.
func (m *WalletManager) DigestHex() (string, error) {
	d, err := m.Digest()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}
