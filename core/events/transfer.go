package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"dposledger/core/types"
)

const (
	// TypeTransfer is emitted when a transfer moves balance between wallets.
	TypeTransfer = "wallet.transfer"
	// TypeSecondSignatureRegistered is emitted when a wallet registers a
	// second public key.
	TypeSecondSignatureRegistered = "wallet.second_signature.registered"
)

type Transfer struct {
	TxID   string
	From   string
	To     string
	Amount *big.Int
	Fee    *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From,
		"to":     e.To,
		"amount": formatAmount(e.Amount),
		"fee":    formatAmount(e.Fee),
	}
	if e.TxID != "" {
		attrs["txId"] = e.TxID
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

type SecondSignatureRegistered struct {
	TxID            string
	Wallet          string
	SecondPublicKey []byte
}

func (SecondSignatureRegistered) EventType() string { return TypeSecondSignatureRegistered }

func (e SecondSignatureRegistered) Event() *types.Event {
	attrs := map[string]string{
		"wallet":          e.Wallet,
		"secondPublicKey": hexutil.Encode(e.SecondPublicKey),
	}
	if e.TxID != "" {
		attrs["txId"] = e.TxID
	}
	return &types.Event{Type: TypeSecondSignatureRegistered, Attributes: attrs}
}
