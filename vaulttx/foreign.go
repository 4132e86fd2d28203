package vaulttx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// DepositTransaction is a transaction, built by an external wallet, with at
// least one output paying to the deposit script.
type DepositTransaction struct {
	Tx *wire.MsgTx
}

// DepositTxIn derives the input spending this transaction's deposit output at
// outPoint. The outpoint must refer to this transaction and to an output
// paying to desc.
func (t DepositTransaction) DepositTxIn(outPoint wire.OutPoint,
	desc *scripts.DepositDescriptor) (DepositTxIn, error) {

	txOut, err := foreignOutput(t.Tx, outPoint)
	if err != nil {
		return DepositTxIn{}, err
	}
	if !bytes.Equal(txOut.PkScript, desc.ScriptPubKey()) {
		return DepositTxIn{}, fmt.Errorf("%w: output %d does not pay to the deposit script",
			ErrForeignOutpoint, outPoint.Index)
	}
	return NewDepositTxIn(outPoint, NewDepositTxOut(txOut.Value, desc)), nil
}

func foreignOutput(tx *wire.MsgTx, outPoint wire.OutPoint) (*wire.TxOut, error) {
	if txid := tx.TxHash(); outPoint.Hash != txid {
		return nil, fmt.Errorf("%w: %s references %s", ErrForeignOutpoint,
			outPoint.Hash, txid)
	}
	if int(outPoint.Index) >= len(tx.TxOut) {
		return nil, fmt.Errorf("%w: no output %d", ErrForeignOutpoint, outPoint.Index)
	}
	return tx.TxOut[outPoint.Index], nil
}

// FeeBumpTransaction is a wallet transaction funding a P2WPKH output to be
// attached to a revocation transaction.
type FeeBumpTransaction struct {
	Tx *wire.MsgTx
}

// FeeBumpTxIn derives the input spending this transaction's output at
// outPoint. The outpoint must refer to this transaction and to a P2WPKH
// output.
func (t FeeBumpTransaction) FeeBumpTxIn(outPoint wire.OutPoint) (FeeBumpTxIn, error) {
	txOut, err := foreignOutput(t.Tx, outPoint)
	if err != nil {
		return FeeBumpTxIn{}, err
	}
	prevOut, err := NewFeeBumpTxOut(txOut)
	if err != nil {
		return FeeBumpTxIn{}, err
	}
	return NewFeeBumpTxIn(outPoint, prevOut), nil
}
