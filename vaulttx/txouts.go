package vaulttx

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// DepositTxOut is an output paying to the deposit script.
type DepositTxOut struct {
	value int64
	desc  *scripts.DepositDescriptor
}

// NewDepositTxOut pairs a value with the deposit spending conditions.
func NewDepositTxOut(value int64, desc *scripts.DepositDescriptor) DepositTxOut {
	return DepositTxOut{value: value, desc: desc}
}

// Value returns the output value in satoshis.
func (o DepositTxOut) Value() int64 { return o.value }

// TxOut returns the network-serializable output.
func (o DepositTxOut) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.value, o.desc.ScriptPubKey())
}

// WitnessScript returns the script the output's P2WSH program commits to.
func (o DepositTxOut) WitnessScript() []byte { return o.desc.WitnessScript() }

// UnvaultTxOut is an output paying to the unvault script.
type UnvaultTxOut struct {
	value int64
	desc  *scripts.UnvaultDescriptor
}

// NewUnvaultTxOut pairs a value with the unvault spending conditions.
func NewUnvaultTxOut(value int64, desc *scripts.UnvaultDescriptor) UnvaultTxOut {
	return UnvaultTxOut{value: value, desc: desc}
}

// Value returns the output value in satoshis.
func (o UnvaultTxOut) Value() int64 { return o.value }

// TxOut returns the network-serializable output.
func (o UnvaultTxOut) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.value, o.desc.ScriptPubKey())
}

// WitnessScript returns the script the output's P2WSH program commits to.
func (o UnvaultTxOut) WitnessScript() []byte { return o.desc.WitnessScript() }

// CpfpTxOut is the fee-acceleration output of an unvault or spend transaction.
type CpfpTxOut struct {
	value int64
	desc  *scripts.CpfpDescriptor
}

// NewCpfpTxOut pairs a value with the fee-acceleration spending conditions.
func NewCpfpTxOut(value int64, desc *scripts.CpfpDescriptor) CpfpTxOut {
	return CpfpTxOut{value: value, desc: desc}
}

// Value returns the output value in satoshis.
func (o CpfpTxOut) Value() int64 { return o.value }

// TxOut returns the network-serializable output.
func (o CpfpTxOut) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.value, o.desc.ScriptPubKey())
}

// WitnessScript returns the script the output's P2WSH program commits to.
func (o CpfpTxOut) WitnessScript() []byte { return o.desc.WitnessScript() }

// EmergencyTxOut pays to the deep-vault emergency address. The address script
// is opaque, so no witness script is attached to the PSBT output.
type EmergencyTxOut struct {
	value int64
	addr  scripts.EmergencyAddress
}

// NewEmergencyTxOut pairs a value with the emergency destination.
func NewEmergencyTxOut(value int64, addr scripts.EmergencyAddress) EmergencyTxOut {
	return EmergencyTxOut{value: value, addr: addr}
}

// Value returns the output value in satoshis.
func (o EmergencyTxOut) Value() int64 { return o.value }

// TxOut returns the network-serializable output.
func (o EmergencyTxOut) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.value, o.addr.ScriptPubKey())
}

// FeeBumpTxOut is a wallet output consumed to bump the fees of a revocation
// transaction. Only P2WPKH outputs are accepted.
type FeeBumpTxOut struct {
	txOut *wire.TxOut
}

// NewFeeBumpTxOut validates and wraps a wallet output.
func NewFeeBumpTxOut(txOut *wire.TxOut) (FeeBumpTxOut, error) {
	if !txscript.IsPayToWitnessPubKeyHash(txOut.PkScript) {
		return FeeBumpTxOut{}, fmt.Errorf("%w: %x", ErrInvalidFeeBumpOutput, txOut.PkScript)
	}
	return FeeBumpTxOut{txOut: txOut}, nil
}

// Value returns the output value in satoshis.
func (o FeeBumpTxOut) Value() int64 { return o.txOut.Value }

// TxOut returns the network-serializable output.
func (o FeeBumpTxOut) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.txOut.Value, o.txOut.PkScript)
}

// SpendTxOut is an output of a spend transaction: either an external
// destination, whose script is opaque, or a change output back to a deposit.
type SpendTxOut struct {
	txOut         *wire.TxOut
	witnessScript []byte
}

// SpendDestinationTxOut wraps an external payout output.
func SpendDestinationTxOut(txOut *wire.TxOut) SpendTxOut {
	return SpendTxOut{txOut: txOut}
}

// SpendChangeTxOut wraps a change output paying back to the deposit script.
func SpendChangeTxOut(change DepositTxOut) SpendTxOut {
	return SpendTxOut{txOut: change.TxOut(), witnessScript: change.WitnessScript()}
}

// Value returns the output value in satoshis.
func (o SpendTxOut) Value() int64 { return o.txOut.Value }

// TxOut returns the network-serializable output.
func (o SpendTxOut) TxOut() *wire.TxOut {
	return wire.NewTxOut(o.txOut.Value, o.txOut.PkScript)
}

// WitnessScript returns the deposit witness script for change outputs, nil
// for destinations.
func (o SpendTxOut) WitnessScript() []byte { return o.witnessScript }
