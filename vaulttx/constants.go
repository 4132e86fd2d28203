package vaulttx

import "github.com/btcsuite/btcd/wire"

// Protocol constants. Changing any of them breaks compatibility with
// previously pre-signed transactions.
const (
	// TxVersion is the version of every transaction built here. Version 2
	// is required for OP_CHECKSEQUENCEVERIFY semantics.
	TxVersion int32 = 2

	// UnvaultCPFPValue is the value, in satoshis, of the fee-acceleration
	// output created by an unvault transaction.
	UnvaultCPFPValue int64 = 30_000

	// UnvaultTxFeerate is the feerate, in sat/WU, unvault transactions are
	// created at.
	UnvaultTxFeerate int64 = 6

	// RevaultingTxFeerate is the feerate, in sat/WU, revocation transactions
	// (cancel and both emergencies) are created at.
	RevaultingTxFeerate int64 = 22

	// DustLimit is the minimum value, in satoshis, of any output created
	// here. Well above the network relay floor.
	DustLimit int64 = 200_000

	// InsaneFees is the ceiling, in satoshis, above which computed fees are
	// assumed to come from a bogus input value or feerate.
	InsaneFees int64 = 20_000_000

	// RBFSequence is the sequence signaling opt-in replace-by-fee without
	// activating a relative timelock.
	RBFSequence uint32 = wire.MaxTxInSequenceNum - 2
)
