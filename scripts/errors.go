package scripts

import "errors"

var (
	// ErrInvalidParams indicates one or more descriptor parameters are invalid.
	ErrInvalidParams = errors.New("scripts: invalid parameters")

	// ErrNotP2WSH indicates the emergency address is not a P2WSH address.
	ErrNotP2WSH = errors.New("scripts: address is not P2WSH")

	// ErrUnknownScript indicates the witness script matches no known template.
	ErrUnknownScript = errors.New("scripts: unrecognized witness script template")

	// ErrMissingSignature indicates not enough signatures were collected to
	// satisfy the script.
	ErrMissingSignature = errors.New("scripts: missing signature")

	// ErrUnmetTimelock indicates the input sequence does not satisfy the
	// script's relative timelock.
	ErrUnmetTimelock = errors.New("scripts: unmet relative timelock")

	// ErrWitnessMismatch indicates a final witness is inconsistent with the
	// scriptPubKey it is supposed to unlock.
	ErrWitnessMismatch = errors.New("scripts: witness inconsistent with script pubkey")
)
