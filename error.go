package cardano

import (
	"fmt"
)

var (
	ErrValidation          = fmt.Errorf("validation error")
	ErrInsufficientFunds   = fmt.Errorf("insufficient funds")
	ErrNoSigningKey        = fmt.Errorf("no signing key for account")
	ErrSubmission          = fmt.Errorf("transaction submission rejected")
	ErrTimeout             = fmt.Errorf("timed out waiting for confirmation")
	ErrNetwork             = fmt.Errorf("network error")
	ErrTransactionNotFound = fmt.Errorf("transaction not found")
	ErrRpcFailed           = fmt.Errorf("rpc failed")
	ErrInvalidKey          = fmt.Errorf("invalid signing key")
	ErrInvalidAddress      = fmt.Errorf("invalid address")
	ErrNotFound            = fmt.Errorf("not found")
)

var AllErrors = []error{
	ErrValidation,
	ErrInsufficientFunds,
	ErrNoSigningKey,
	ErrSubmission,
	ErrTimeout,
	ErrNetwork,
	ErrTransactionNotFound,
	ErrRpcFailed,
	ErrInvalidKey,
	ErrInvalidAddress,
	ErrNotFound,
}
