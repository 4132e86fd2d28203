package txstore

import "errors"

var (
	// ErrNilParam indicates a required parameter was nil.
	ErrNilParam = errors.New("txstore: nil parameter")

	// ErrDuplicateChain indicates a chain for the deposit already exists.
	ErrDuplicateChain = errors.New("txstore: duplicate chain")

	// ErrChainNotFound indicates no chain is stored for the deposit.
	ErrChainNotFound = errors.New("txstore: chain not found")
)
