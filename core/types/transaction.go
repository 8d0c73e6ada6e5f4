package types

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer             TxType = 0x00
	TxTypeSecondSignature      TxType = 0x01 // Registers a second public key on the sender
	TxTypeDelegateRegistration TxType = 0x02
	TxTypeVote                 TxType = 0x03
	TxTypeMultiSignature       TxType = 0x04
	TxTypeIpfs                 TxType = 0x05
	TxTypeTimelockTransfer     TxType = 0x06
	TxTypeMultiPayment         TxType = 0x07
	TxTypeDelegateResignation  TxType = 0x08
)

var txTypeNames = map[TxType]string{
	TxTypeTransfer:             "Transfer",
	TxTypeSecondSignature:      "SecondSignature",
	TxTypeDelegateRegistration: "DelegateRegistration",
	TxTypeVote:                 "Vote",
	TxTypeMultiSignature:       "MultiSignature",
	TxTypeIpfs:                 "Ipfs",
	TxTypeTimelockTransfer:     "TimelockTransfer",
	TxTypeMultiPayment:         "MultiPayment",
	TxTypeDelegateResignation:  "DelegateResignation",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(t))
}

// Known reports whether t is part of the protocol's transaction type set.
func (t TxType) Known() bool {
	_, ok := txTypeNames[t]
	return ok
}

// KnownTxTypes lists every protocol transaction type in ascending order.
func KnownTxTypes() []TxType {
	out := make([]TxType, 0, len(txTypeNames))
	for t := TxTypeTransfer; t <= TxTypeDelegateResignation; t++ {
		out = append(out, t)
	}
	return out
}

// SecondSignatureAsset carries the public key registered by a
// TxTypeSecondSignature transaction.
type SecondSignatureAsset struct {
	PublicKey hexutil.Bytes `json:"publicKey"`
}

// Asset holds type specific payloads.
type Asset struct {
	Signature *SecondSignatureAsset `json:"signature,omitempty"`
}

// Transaction is the immutable transaction data handed to the state engine.
// SignSignature is the legacy name of SecondSignature; either may be set.
type Transaction struct {
	Type            TxType        `json:"type"`
	Timestamp       uint64        `json:"timestamp"`
	SenderPublicKey hexutil.Bytes `json:"senderPublicKey"`
	RecipientID     string        `json:"recipientId,omitempty"`
	Amount          *big.Int      `json:"amount"`
	Fee             *big.Int      `json:"fee"`
	VendorField     string        `json:"vendorField,omitempty"`
	Asset           *Asset        `json:"asset,omitempty"`

	Signature       hexutil.Bytes `json:"signature,omitempty"`
	SecondSignature hexutil.Bytes `json:"secondSignature,omitempty"`
	SignSignature   hexutil.Bytes `json:"signSignature,omitempty"`
}

var (
	ErrNilAmount        = errors.New("tx: amount required")
	ErrNilFee           = errors.New("tx: fee required")
	ErrNegativeAmount   = errors.New("tx: amount must not be negative")
	ErrNegativeFee      = errors.New("tx: fee must not be negative")
	ErrMissingSender    = errors.New("tx: sender public key required")
	ErrMissingSignature = errors.New("tx: signature required")
)

// signingPayload is the canonical RLP layout hashed for ids and signatures.
type signingPayload struct {
	Type            TxType
	Timestamp       uint64
	SenderPublicKey []byte
	RecipientID     string
	Amount          *big.Int
	Fee             *big.Int
	VendorField     string
	AssetPublicKey  []byte
	Signature       []byte
	SecondSignature []byte
}

func (tx *Transaction) payload(withSignature, withSecondSignature bool) ([]byte, error) {
	p := signingPayload{
		Type:            tx.Type,
		Timestamp:       tx.Timestamp,
		SenderPublicKey: tx.SenderPublicKey,
		RecipientID:     tx.RecipientID,
		Amount:          tx.AmountOrZero(),
		Fee:             tx.FeeOrZero(),
		VendorField:     tx.VendorField,
	}
	if pk := tx.SecondPublicKeyAsset(); pk != nil {
		p.AssetPublicKey = pk
	}
	if withSignature {
		p.Signature = tx.Signature
	}
	if withSecondSignature {
		p.SecondSignature = tx.SecondSignatureBytes()
	}
	return rlp.EncodeToBytes(&p)
}

// Bytes returns the full canonical encoding including every signature.
func (tx *Transaction) Bytes() ([]byte, error) {
	return tx.payload(true, true)
}

// Hash returns the sha256 digest of the full encoding; it identifies the
// transaction.
func (tx *Transaction) Hash() ([]byte, error) {
	b, err := tx.payload(true, true)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// ID returns the hex encoded transaction hash.
func (tx *Transaction) ID() (string, error) {
	h, err := tx.Hash()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h), nil
}

// SigningHash is the digest covered by the sender's primary signature.
func (tx *Transaction) SigningHash() ([]byte, error) {
	b, err := tx.payload(false, false)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// SecondSigningHash is the digest covered by the second signature. It commits
// to the primary signature.
func (tx *Transaction) SecondSigningHash() ([]byte, error) {
	b, err := tx.payload(true, false)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.SigningHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// SecondSign attaches a second signature. Sign must have been called first.
func (tx *Transaction) SecondSign(privKey *ecdsa.PrivateKey) error {
	if len(tx.Signature) == 0 {
		return ErrMissingSignature
	}
	hash, err := tx.SecondSigningHash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.SecondSignature = sig
	return nil
}

// SecondSignatureBytes returns whichever second signature field is set,
// preferring SecondSignature over the legacy SignSignature.
func (tx *Transaction) SecondSignatureBytes() []byte {
	if len(tx.SecondSignature) > 0 {
		return tx.SecondSignature
	}
	return tx.SignSignature
}

// HasSecondSignature reports whether any second signature field is present.
func (tx *Transaction) HasSecondSignature() bool {
	return len(tx.SecondSignature) > 0 || len(tx.SignSignature) > 0
}

// SecondPublicKeyAsset returns the public key carried by a second signature
// registration, or nil.
func (tx *Transaction) SecondPublicKeyAsset() []byte {
	if tx.Asset == nil || tx.Asset.Signature == nil {
		return nil
	}
	return tx.Asset.Signature.PublicKey
}

func (tx *Transaction) AmountOrZero() *big.Int {
	if tx.Amount == nil {
		return new(big.Int)
	}
	return tx.Amount
}

func (tx *Transaction) FeeOrZero() *big.Int {
	if tx.Fee == nil {
		return new(big.Int)
	}
	return tx.Fee
}

// Validate performs stateless sanity checks on the transaction fields.
func (tx *Transaction) Validate() error {
	if tx.Amount == nil {
		return ErrNilAmount
	}
	if tx.Fee == nil {
		return ErrNilFee
	}
	if tx.Amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if tx.Fee.Sign() < 0 {
		return ErrNegativeFee
	}
	if len(tx.SenderPublicKey) == 0 {
		return ErrMissingSender
	}
	if len(tx.Signature) == 0 {
		return ErrMissingSignature
	}
	return nil
}
