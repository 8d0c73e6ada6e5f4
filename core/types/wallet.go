package types

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wallet is the account record the state engine reads and mutates. Balance
// may transiently go negative in intermediate arithmetic but is never left
// negative by an admitted transaction.
type Wallet struct {
	Address         string        `json:"address"`
	PublicKey       hexutil.Bytes `json:"publicKey,omitempty"`
	SecondPublicKey hexutil.Bytes `json:"secondPublicKey,omitempty"`
	MultiSignature  bool          `json:"multisignature"`
	Balance         *big.Int      `json:"balance"`
}

// NewWallet returns an empty wallet bound to address.
func NewWallet(address string) *Wallet {
	return &Wallet{Address: address, Balance: big.NewInt(0)}
}

// HasSecondPublicKey reports whether a second signature has been registered.
func (w *Wallet) HasSecondPublicKey() bool {
	return len(w.SecondPublicKey) > 0
}

// OwnsPublicKey reports whether publicKey equals the wallet's bound key.
func (w *Wallet) OwnsPublicKey(publicKey []byte) bool {
	return len(w.PublicKey) > 0 && bytes.Equal(w.PublicKey, publicKey)
}

// Clone returns a deep copy safe to mutate independently.
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	out := &Wallet{
		Address:        w.Address,
		MultiSignature: w.MultiSignature,
		Balance:        new(big.Int),
	}
	if w.Balance != nil {
		out.Balance.Set(w.Balance)
	}
	if len(w.PublicKey) > 0 {
		out.PublicKey = append(hexutil.Bytes(nil), w.PublicKey...)
	}
	if len(w.SecondPublicKey) > 0 {
		out.SecondPublicKey = append(hexutil.Bytes(nil), w.SecondPublicKey...)
	}
	return out
}
