package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"dposledger/core/types"
)

// AddressVerifier validates and derives network addresses.
type AddressVerifier interface {
	DeriveAddress(publicKey []byte) (string, error)
	ValidateAddress(address string) bool
}

// GenesisSpec lists the wallets that exist before the first block.
type GenesisSpec struct {
	Network string       `json:"network"`
	Wallets []WalletSpec `json:"wallets"`
}

type WalletSpec struct {
	Address         string        `json:"address"`
	PublicKey       hexutil.Bytes `json:"publicKey,omitempty"`
	SecondPublicKey hexutil.Bytes `json:"secondPublicKey,omitempty"`
	MultiSignature  bool          `json:"multisignature,omitempty"`
	Balance         string        `json:"balance"`
}

// LoadGenesisSpec reads and decodes the spec at path. Unknown fields are
// rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// BuildWallets validates the spec against verifier and returns the wallets
// to seed. An address may appear once; a listed public key must derive the
// listed address.
func (s *GenesisSpec) BuildWallets(verifier AddressVerifier) ([]*types.Wallet, error) {
	seen := make(map[string]struct{}, len(s.Wallets))
	out := make([]*types.Wallet, 0, len(s.Wallets))
	for i, spec := range s.Wallets {
		address := strings.TrimSpace(spec.Address)
		if address == "" && len(spec.PublicKey) > 0 {
			derived, err := verifier.DeriveAddress(spec.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("wallet %d: %w", i, err)
			}
			address = derived
		}
		if !verifier.ValidateAddress(address) {
			return nil, fmt.Errorf("wallet %d: invalid address %q", i, spec.Address)
		}
		if _, dup := seen[address]; dup {
			return nil, fmt.Errorf("wallet %d: duplicate address %s", i, address)
		}
		seen[address] = struct{}{}

		if len(spec.PublicKey) > 0 {
			derived, err := verifier.DeriveAddress(spec.PublicKey)
			if err != nil {
				return nil, fmt.Errorf("wallet %d: %w", i, err)
			}
			if derived != address {
				return nil, fmt.Errorf("wallet %d: public key derives %s, not %s", i, derived, address)
			}
		}
		balance, err := parseAmountString(spec.Balance)
		if err != nil {
			return nil, fmt.Errorf("wallet %d: %w", i, err)
		}

		w := types.NewWallet(address)
		w.Balance = balance
		w.MultiSignature = spec.MultiSignature
		if len(spec.PublicKey) > 0 {
			w.PublicKey = append([]byte(nil), spec.PublicKey...)
		}
		if len(spec.SecondPublicKey) > 0 {
			w.SecondPublicKey = append([]byte(nil), spec.SecondPublicKey...)
		}
		out = append(out, w)
	}
	return out, nil
}

// TotalSupply sums the genesis balances.
func TotalSupply(wallets []*types.Wallet) *big.Int {
	total := new(big.Int)
	for _, w := range wallets {
		if w.Balance != nil {
			total.Add(total, w.Balance)
		}
	}
	return total
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
