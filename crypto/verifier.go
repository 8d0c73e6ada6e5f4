package crypto

import (
	"github.com/ethereum/go-ethereum/crypto"

	"dposledger/core/types"
)

// Verifier derives wallet addresses and checks transaction signatures for a
// single network prefix. It holds no mutable state.
type Verifier struct {
	prefix AddressPrefix
}

// NewVerifier returns a verifier producing addresses under prefix.
func NewVerifier(prefix AddressPrefix) *Verifier {
	return &Verifier{prefix: prefix}
}

// Prefix returns the network prefix used for derived addresses.
func (v *Verifier) Prefix() AddressPrefix {
	return v.prefix
}

// DeriveAddress returns the bech32 address owned by publicKey.
func (v *Verifier) DeriveAddress(publicKey []byte) (string, error) {
	addr, err := AddressFromPublicKey(v.prefix, publicKey)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// VerifySignature checks the sender's primary signature.
func (v *Verifier) VerifySignature(tx *types.Transaction) bool {
	if tx == nil || len(tx.Signature) == 0 {
		return false
	}
	hash, err := tx.SigningHash()
	if err != nil {
		return false
	}
	return verify(tx.SenderPublicKey, hash, tx.Signature)
}

// VerifySecondSignature checks the transaction's second signature (or the
// legacy signSignature field) against secondPublicKey.
func (v *Verifier) VerifySecondSignature(tx *types.Transaction, secondPublicKey []byte) bool {
	if tx == nil || len(secondPublicKey) == 0 {
		return false
	}
	sig := tx.SecondSignatureBytes()
	if len(sig) == 0 {
		return false
	}
	hash, err := tx.SecondSigningHash()
	if err != nil {
		return false
	}
	return verify(secondPublicKey, hash, sig)
}

func verify(publicKey, digest, sig []byte) bool {
	if _, err := parsePublicKey(publicKey); err != nil {
		return false
	}
	// Recoverable signatures carry a trailing recovery id.
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false
	}
	return crypto.VerifySignature(publicKey, digest, sig)
}

// ValidateAddress reports whether address is a well formed bech32 address on
// this verifier's network.
func (v *Verifier) ValidateAddress(address string) bool {
	decoded, err := DecodeAddress(address)
	if err != nil {
		return false
	}
	return decoded.Prefix() == v.prefix
}
