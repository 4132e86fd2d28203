package vaulttx

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// UnvaultTransaction moves a deposit to the unvault script, carving out a
// fixed-value fee-acceleration output. It is pre-signed by the stakeholders
// before any deposit is considered under custody.
type UnvaultTransaction struct {
	vaultTx
}

// NewUnvaultTransaction creates the unvault transaction spending the given
// deposit. Fees are fixed at creation time from the worst-case satisfied
// weight, and the unvault output gets the remainder after fees and the
// fee-acceleration carve-out.
func NewUnvaultTransaction(depositInput DepositTxIn,
	unvaultDesc *scripts.UnvaultDescriptor, cpfpDesc *scripts.CpfpDescriptor,
	lockTime uint32) (*UnvaultTransaction, error) {

	outputs := func(unvaultValue int64) []packetOutput {
		return []packetOutput{
			{
				txOut:         wire.NewTxOut(unvaultValue, unvaultDesc.ScriptPubKey()),
				witnessScript: unvaultDesc.WitnessScript(),
			},
			{
				txOut:         wire.NewTxOut(UnvaultCPFPValue, cpfpDesc.ScriptPubKey()),
				witnessScript: cpfpDesc.WitnessScript(),
			},
		}
	}

	dummy := createPacket([]packetInput{depositInput.packetInput(txscript.SigHashAll)},
		outputs(placeholderValue), lockTime)
	fees, err := txFees(dummy.UnsignedTx, UnvaultTxFeerate,
		depositInput.MaxSatisfactionWeight())
	if err != nil {
		return nil, err
	}

	depositValue := depositInput.PrevOut().Value()
	unvaultValue := depositValue - fees - UnvaultCPFPValue
	if unvaultValue < DustLimit {
		return nil, fmt.Errorf("%w: deposit of %d sats cannot fund an unvault paying %d sats of fees",
			ErrDust, depositValue, fees)
	}

	packet := createPacket([]packetInput{depositInput.packetInput(txscript.SigHashAll)},
		outputs(unvaultValue), lockTime)
	return &UnvaultTransaction{vaultTx{packet: packet}}, nil
}

// SpendUnvaultTxIn returns the input spending this transaction's unvault
// output with the given sequence. It panics if desc does not describe the
// unvault output, which cannot happen for a transaction built or parsed here.
func (t *UnvaultTransaction) SpendUnvaultTxIn(desc *scripts.UnvaultDescriptor,
	sequence uint32) UnvaultTxIn {

	index, value := t.findOutput(desc.ScriptPubKey())
	outPoint := wire.OutPoint{Hash: t.TxID(), Index: index}
	return NewUnvaultTxIn(outPoint, NewUnvaultTxOut(value, desc), sequence)
}

// CpfpTxIn returns the input spending this transaction's fee-acceleration
// output. It panics if desc does not describe the fee-acceleration output,
// which cannot happen for a transaction built or parsed here.
func (t *UnvaultTransaction) CpfpTxIn(desc *scripts.CpfpDescriptor) CpfpTxIn {
	index, value := t.findOutput(desc.ScriptPubKey())
	outPoint := wire.OutPoint{Hash: t.TxID(), Index: index}
	return NewCpfpTxIn(outPoint, NewCpfpTxOut(value, desc))
}

func (t *vaultTx) findOutput(scriptPubKey []byte) (uint32, int64) {
	for i, txOut := range t.packet.UnsignedTx.TxOut {
		if bytes.Equal(txOut.PkScript, scriptPubKey) {
			return uint32(i), txOut.Value
		}
	}
	panic("vaulttx: transaction pays to no such script")
}

func validateUnvaultPacket(packet *psbt.Packet) error {
	if err := commonSanityChecks(packet); err != nil {
		return err
	}
	if n := len(packet.Inputs); n != 1 {
		return fmt.Errorf("%w: unvault has %d inputs, not 1", ErrInvalidInputCount, n)
	}
	if n := len(packet.Outputs); n != 2 {
		return fmt.Errorf("%w: unvault has %d outputs, not 2", ErrInvalidOutputCount, n)
	}
	if err := checkSignedInput(packet, 0); err != nil {
		return err
	}
	return checkP2WSHOutputs(packet, 0, 1)
}

// UnvaultTransactionFromBytes deserializes and validates a binary PSBT as an
// unvault transaction.
func UnvaultTransactionFromBytes(raw []byte) (*UnvaultTransaction, error) {
	packet, err := parsePacket(raw)
	if err != nil {
		return nil, err
	}
	if err := validateUnvaultPacket(packet); err != nil {
		return nil, err
	}
	return &UnvaultTransaction{vaultTx{packet: packet}}, nil
}

// UnvaultTransactionFromString deserializes and validates a base64 PSBT as an
// unvault transaction.
func UnvaultTransactionFromString(encoded string) (*UnvaultTransaction, error) {
	packet, err := parsePacketString(encoded)
	if err != nil {
		return nil, err
	}
	if err := validateUnvaultPacket(packet); err != nil {
		return nil, err
	}
	return &UnvaultTransaction{vaultTx{packet: packet}}, nil
}

// MarshalJSON encodes the transaction as its base64 PSBT.
func (t *UnvaultTransaction) MarshalJSON() ([]byte, error) {
	return marshalPSBTJSON(&t.vaultTx)
}

// UnmarshalJSON decodes and validates a base64 PSBT.
func (t *UnvaultTransaction) UnmarshalJSON(data []byte) error {
	encoded, err := unmarshalPSBTJSON(data)
	if err != nil {
		return err
	}
	parsed, err := UnvaultTransactionFromString(encoded)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
