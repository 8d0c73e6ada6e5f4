package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dposledger/core/types"
)

var (
	walletPrefix = []byte("wallet:")

	ErrNegativeBalance = errors.New("state: wallet balance must not be negative")
	ErrBalanceOverflow = errors.New("state: wallet balance exceeds 256 bits")
)

// storedWallet is the persisted RLP layout of a wallet.
type storedWallet struct {
	Address         string
	PublicKey       []byte
	SecondPublicKey []byte
	MultiSignature  bool
	Balance         *uint256.Int
}

func walletKey(address string) []byte {
	buf := make([]byte, len(walletPrefix)+len(address))
	copy(buf, walletPrefix)
	copy(buf[len(walletPrefix):], address)
	return buf
}

func encodeWallet(w *types.Wallet) ([]byte, error) {
	balance := w.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	if balance.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s has %s", ErrNegativeBalance, w.Address, balance)
	}
	encoded, overflow := uint256.FromBig(balance)
	if overflow {
		return nil, fmt.Errorf("%w: %s", ErrBalanceOverflow, w.Address)
	}
	return rlp.EncodeToBytes(&storedWallet{
		Address:         w.Address,
		PublicKey:       w.PublicKey,
		SecondPublicKey: w.SecondPublicKey,
		MultiSignature:  w.MultiSignature,
		Balance:         encoded,
	})
}

func decodeWallet(data []byte) (*types.Wallet, error) {
	var stored storedWallet
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("state: decode wallet: %w", err)
	}
	w := types.NewWallet(stored.Address)
	if len(stored.PublicKey) > 0 {
		w.PublicKey = stored.PublicKey
	}
	if len(stored.SecondPublicKey) > 0 {
		w.SecondPublicKey = stored.SecondPublicKey
	}
	w.MultiSignature = stored.MultiSignature
	if stored.Balance != nil {
		w.Balance = stored.Balance.ToBig()
	}
	return w, nil
}

// isEmpty reports whether w carries nothing worth persisting.
func isEmpty(w *types.Wallet) bool {
	return (w.Balance == nil || w.Balance.Sign() == 0) &&
		len(w.PublicKey) == 0 &&
		len(w.SecondPublicKey) == 0 &&
		!w.MultiSignature
}
