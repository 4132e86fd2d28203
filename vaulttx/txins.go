package vaulttx

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DepositTxIn spends a deposit output. Its sequence opts into RBF.
type DepositTxIn struct {
	outPoint wire.OutPoint
	prevOut  DepositTxOut
}

// NewDepositTxIn references a confirmed deposit output.
func NewDepositTxIn(outPoint wire.OutPoint, prevOut DepositTxOut) DepositTxIn {
	return DepositTxIn{outPoint: outPoint, prevOut: prevOut}
}

// OutPoint returns the reference to the spent output.
func (in DepositTxIn) OutPoint() wire.OutPoint { return in.outPoint }

// PrevOut returns the spent output.
func (in DepositTxIn) PrevOut() DepositTxOut { return in.prevOut }

// TxIn returns the network-serializable input.
func (in DepositTxIn) TxIn() *wire.TxIn {
	return &wire.TxIn{PreviousOutPoint: in.outPoint, Sequence: RBFSequence}
}

// MaxSatisfactionWeight bounds the witness weight of spending this input.
func (in DepositTxIn) MaxSatisfactionWeight() int {
	return in.prevOut.desc.MaxSatisfactionWeight()
}

func (in DepositTxIn) packetInput(hashType txscript.SigHashType) packetInput {
	return packetInput{
		txIn:          in.TxIn(),
		witnessUtxo:   in.prevOut.TxOut(),
		witnessScript: in.prevOut.WitnessScript(),
		sighashType:   hashType,
	}
}

// UnvaultTxIn spends an unvault output. The sequence is chosen by the caller:
// the relative timelock value when taking the spend path, an RBF sequence for
// the revocation path.
type UnvaultTxIn struct {
	outPoint wire.OutPoint
	prevOut  UnvaultTxOut
	sequence uint32
}

// NewUnvaultTxIn references an unvault output with the given sequence.
func NewUnvaultTxIn(outPoint wire.OutPoint, prevOut UnvaultTxOut, sequence uint32) UnvaultTxIn {
	return UnvaultTxIn{outPoint: outPoint, prevOut: prevOut, sequence: sequence}
}

// OutPoint returns the reference to the spent output.
func (in UnvaultTxIn) OutPoint() wire.OutPoint { return in.outPoint }

// PrevOut returns the spent output.
func (in UnvaultTxIn) PrevOut() UnvaultTxOut { return in.prevOut }

// Sequence returns the input sequence number.
func (in UnvaultTxIn) Sequence() uint32 { return in.sequence }

// TxIn returns the network-serializable input.
func (in UnvaultTxIn) TxIn() *wire.TxIn {
	return &wire.TxIn{PreviousOutPoint: in.outPoint, Sequence: in.sequence}
}

// MaxSatisfactionWeight bounds the witness weight of spending this input.
func (in UnvaultTxIn) MaxSatisfactionWeight() int {
	return in.prevOut.desc.MaxSatisfactionWeight()
}

func (in UnvaultTxIn) packetInput(hashType txscript.SigHashType) packetInput {
	return packetInput{
		txIn:          in.TxIn(),
		witnessUtxo:   in.prevOut.TxOut(),
		witnessScript: in.prevOut.WitnessScript(),
		sighashType:   hashType,
	}
}

// CpfpTxIn spends a fee-acceleration output. Its sequence opts into RBF.
type CpfpTxIn struct {
	outPoint wire.OutPoint
	prevOut  CpfpTxOut
}

// NewCpfpTxIn references a fee-acceleration output.
func NewCpfpTxIn(outPoint wire.OutPoint, prevOut CpfpTxOut) CpfpTxIn {
	return CpfpTxIn{outPoint: outPoint, prevOut: prevOut}
}

// OutPoint returns the reference to the spent output.
func (in CpfpTxIn) OutPoint() wire.OutPoint { return in.outPoint }

// PrevOut returns the spent output.
func (in CpfpTxIn) PrevOut() CpfpTxOut { return in.prevOut }

// TxIn returns the network-serializable input.
func (in CpfpTxIn) TxIn() *wire.TxIn {
	return &wire.TxIn{PreviousOutPoint: in.outPoint, Sequence: RBFSequence}
}

// FeeBumpTxIn spends a P2WPKH wallet output to bump the fees of a revocation
// transaction. Its sequence opts into RBF.
type FeeBumpTxIn struct {
	outPoint wire.OutPoint
	prevOut  FeeBumpTxOut
}

// NewFeeBumpTxIn references a wallet fee-bump output.
func NewFeeBumpTxIn(outPoint wire.OutPoint, prevOut FeeBumpTxOut) FeeBumpTxIn {
	return FeeBumpTxIn{outPoint: outPoint, prevOut: prevOut}
}

// OutPoint returns the reference to the spent output.
func (in FeeBumpTxIn) OutPoint() wire.OutPoint { return in.outPoint }

// PrevOut returns the spent output.
func (in FeeBumpTxIn) PrevOut() FeeBumpTxOut { return in.prevOut }

// TxIn returns the network-serializable input.
func (in FeeBumpTxIn) TxIn() *wire.TxIn {
	return &wire.TxIn{PreviousOutPoint: in.outPoint, Sequence: RBFSequence}
}

func (in FeeBumpTxIn) packetInput() packetInput {
	return packetInput{
		txIn:        in.TxIn(),
		witnessUtxo: in.prevOut.TxOut(),
		sighashType: txscript.SigHashAll,
	}
}
