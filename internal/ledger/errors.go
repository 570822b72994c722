package ledger

import (
	"errors"
	"fmt"

	"remitgate/pkg/platform/sentinel"
)

var (
	ErrNotRecipient          = errors.New("caller is not the transfer recipient")
	ErrAlreadyWithdrawn      = errors.New("transfer already withdrawn")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrUnknownTransfer       = fmt.Errorf("unknown transfer: %w", sentinel.ErrNotFound)
	ErrConfirmationTimeout   = errors.New("ledger confirmation timed out")
	ErrReverted              = errors.New("ledger submission reverted")
	ErrMissingTransferID     = errors.New("deposit receipt carries no TransferInitiated event")
)
