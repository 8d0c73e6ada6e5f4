package handlers

import (
	stderrors "errors"
	"fmt"
	"math/big"
)

// Validation failures returned by CanBeApplied. None of them leave any wallet
// modified.
var (
	ErrUnexpectedMultiSignature         = stderrors.New("handler: wallet is governed by a multisignature policy")
	ErrInsufficientBalance              = stderrors.New("handler: insufficient balance")
	ErrSenderWalletMismatch             = stderrors.New("handler: sender public key does not match wallet")
	ErrInvalidSecondSignature           = stderrors.New("handler: invalid second signature")
	ErrUnexpectedSecondSignature        = stderrors.New("handler: unexpected second signature")
	ErrSecondSignatureAlreadyRegistered = stderrors.New("handler: second signature already registered")
	ErrMissingSecondSignatureAsset      = stderrors.New("handler: second signature asset missing")

	ErrUnknownTransactionType = stderrors.New("handler: unknown transaction type")
	ErrDuplicateHandler       = stderrors.New("handler: duplicate handler for transaction type")
)

// InsufficientBalanceError reports the balance that failed to cover amount
// plus fee. It matches ErrInsufficientBalance under errors.Is.
type InsufficientBalanceError struct {
	Balance  *big.Int
	Required *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: balance %s, required %s", ErrInsufficientBalance, e.Balance, e.Required)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

var kinds = []struct {
	err  error
	kind string
}{
	{ErrUnexpectedMultiSignature, "unexpected_multisignature"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrSenderWalletMismatch, "sender_wallet_mismatch"},
	{ErrInvalidSecondSignature, "invalid_second_signature"},
	{ErrUnexpectedSecondSignature, "unexpected_second_signature"},
	{ErrSecondSignatureAlreadyRegistered, "second_signature_already_registered"},
	{ErrMissingSecondSignatureAsset, "missing_second_signature_asset"},
	{ErrUnknownTransactionType, "unknown_transaction_type"},
}

// Kind maps a validation error to a stable label for metrics and API
// responses. It returns "" for nil and "other" for errors outside the
// handler taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if stderrors.Is(err, k.err) {
			return k.kind
		}
	}
	return "other"
}
