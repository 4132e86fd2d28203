package vaulttx

import "errors"

// Construction errors.
var (
	// ErrInsaneFees indicates the computed fees exceed the sanity ceiling.
	ErrInsaneFees = errors.New("vaulttx: insane fees")

	// ErrDust indicates the funding value cannot cover the fees plus the
	// dust floor.
	ErrDust = errors.New("vaulttx: output value below the dust floor")
)

// Structural validation errors, surfaced when parsing a PSBT.
var (
	// ErrInvalidTransactionVersion indicates the unsigned transaction does
	// not carry the protocol version.
	ErrInvalidTransactionVersion = errors.New("vaulttx: invalid transaction version")

	// ErrInputCountMismatch indicates the unsigned transaction and the PSBT
	// disagree on the number of inputs.
	ErrInputCountMismatch = errors.New("vaulttx: input count mismatch")

	// ErrOutputCountMismatch indicates the unsigned transaction and the PSBT
	// disagree on the number of outputs.
	ErrOutputCountMismatch = errors.New("vaulttx: output count mismatch")

	// ErrMissingWitnessUtxo indicates an input does not declare the output
	// it spends.
	ErrMissingWitnessUtxo = errors.New("vaulttx: missing witness utxo")

	// ErrInvalidInputField indicates an input carries a field the protocol
	// never produces (legacy data, wrong prevout type).
	ErrInvalidInputField = errors.New("vaulttx: invalid input field")

	// ErrPartiallyFinalized indicates the PSBT mixes finalized and
	// non-finalized inputs.
	ErrPartiallyFinalized = errors.New("vaulttx: partially finalized")

	// ErrInvalidInputCount indicates the wrong number of inputs for the
	// transaction kind.
	ErrInvalidInputCount = errors.New("vaulttx: invalid input count")

	// ErrInvalidOutputCount indicates the wrong number of outputs for the
	// transaction kind.
	ErrInvalidOutputCount = errors.New("vaulttx: invalid output count")

	// ErrInvalidSighashType indicates an input does not declare the sighash
	// type its kind must be signed with.
	ErrInvalidSighashType = errors.New("vaulttx: invalid sighash type")

	// ErrMissingInputWitnessScript indicates a non-finalized P2WSH input
	// does not declare its witness script.
	ErrMissingInputWitnessScript = errors.New("vaulttx: missing input witness script")

	// ErrInvalidInputWitnessScript indicates an input witness script does
	// not hash to the scriptPubKey of the spent output.
	ErrInvalidInputWitnessScript = errors.New("vaulttx: invalid input witness script")

	// ErrMissingOutputWitnessScript indicates a P2WSH output does not
	// declare its witness script.
	ErrMissingOutputWitnessScript = errors.New("vaulttx: missing output witness script")

	// ErrInvalidOutputWitnessScript indicates an output witness script does
	// not hash to the output's scriptPubKey.
	ErrInvalidOutputWitnessScript = errors.New("vaulttx: invalid output witness script")

	// ErrInvalidOutputField indicates an output carries a field the protocol
	// never produces (a legacy redeem script).
	ErrInvalidOutputField = errors.New("vaulttx: invalid output field")

	// ErrMissingRevocationInput indicates a revocation transaction has no
	// P2WSH input.
	ErrMissingRevocationInput = errors.New("vaulttx: missing revocation input")

	// ErrMissingFeeBumpInput indicates a two-input revocation transaction
	// has no P2WPKH fee-bump input.
	ErrMissingFeeBumpInput = errors.New("vaulttx: missing fee-bump input")
)

// Signer-role errors. Local and recoverable; they never corrupt the PSBT.
var (
	// ErrInputOutOfBounds indicates the input index does not exist.
	ErrInputOutOfBounds = errors.New("vaulttx: input index out of bounds")

	// ErrMissingWitnessScript indicates the input lacks the witness script
	// needed as sighash script code.
	ErrMissingWitnessScript = errors.New("vaulttx: missing witness script")

	// ErrAlreadyFinalized indicates the input already carries a final
	// witness.
	ErrAlreadyFinalized = errors.New("vaulttx: input already finalized")

	// ErrUnexpectedSighashType indicates the supplied sighash type does not
	// match the one recorded at construction.
	ErrUnexpectedSighashType = errors.New("vaulttx: unexpected sighash type")
)

var (
	// ErrTransactionFinalisation indicates the satisfaction engine could not
	// assemble a final witness for an input.
	ErrTransactionFinalisation = errors.New("vaulttx: transaction finalisation")

	// ErrScriptVerification indicates the consensus script interpreter
	// rejected an input.
	ErrScriptVerification = errors.New("vaulttx: script verification failed")

	// ErrTransactionSerialisation indicates malformed PSBT binary or base64
	// input, or a failed re-encoding.
	ErrTransactionSerialisation = errors.New("vaulttx: transaction serialisation")

	// ErrForeignOutpoint indicates an outpoint does not refer to the given
	// foreign transaction.
	ErrForeignOutpoint = errors.New("vaulttx: outpoint does not match foreign transaction")

	// ErrInvalidFeeBumpOutput indicates a fee-bump previous output is not
	// P2WPKH.
	ErrInvalidFeeBumpOutput = errors.New("vaulttx: fee-bump output is not P2WPKH")
)
