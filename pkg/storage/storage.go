package storage

import (
	"errors"
	"strings"

	"github.com/aiguesbcn/aigues/pkg/types"
)

var (
	// ErrEmptyAccount is returned when an operation is given no account.
	ErrEmptyAccount = errors.New("account cannot be empty")
	// ErrUnparsedTime is returned when a sample without a parsed time is stored.
	ErrUnparsedTime = errors.New("consumption sample has no parsed time")
)

// AccountID returns the storage key for a contract at a provider. Providers
// without contract numbers store under "default".
func AccountID(provider types.ProviderID, contract string) string {
	if contract == "" {
		contract = "default"
	}
	// firestore document ids cannot contain slashes
	contract = strings.ReplaceAll(contract, "/", "_")
	return string(provider) + ":" + contract
}
