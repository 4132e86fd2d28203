package vaulttx

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// SpendTransaction pays out of one or more unvault outputs after their
// relative timelock, under the control of the managers and cosigners. Its
// first output is a fee-acceleration output sized to bump the whole
// transaction.
type SpendTransaction struct {
	vaultTx
}

// NewSpendTransaction creates a spend transaction consuming the given
// unvault outputs, paying to spendTxOuts. The fee-acceleration output is
// prepended and sized from the worst-case satisfied weight. Fees are implied
// by the caller's output values; when insaneFeeCheck is set they are bounded
// by the usual sanity ceiling, which a large batch may legitimately exceed.
func NewSpendTransaction(unvaultInputs []UnvaultTxIn, spendTxOuts []SpendTxOut,
	cpfpDesc *scripts.CpfpDescriptor, lockTime uint32,
	insaneFeeCheck bool) (*SpendTransaction, error) {

	if len(unvaultInputs) == 0 {
		return nil, fmt.Errorf("%w: spend needs at least one unvault input",
			ErrInvalidInputCount)
	}

	inputs := make([]packetInput, len(unvaultInputs))
	satWeights := make([]int, len(unvaultInputs))
	var inputValue int64
	for i, in := range unvaultInputs {
		inputs[i] = in.packetInput(txscript.SigHashAll)
		satWeights[i] = in.MaxSatisfactionWeight()
		inputValue += in.PrevOut().Value()
	}

	outputs := make([]packetOutput, 0, len(spendTxOuts)+1)
	outputs = append(outputs, packetOutput{
		txOut:         wire.NewTxOut(placeholderValue, cpfpDesc.ScriptPubKey()),
		witnessScript: cpfpDesc.WitnessScript(),
	})
	var outputValue int64
	for _, out := range spendTxOuts {
		if out.Value() < DustLimit {
			return nil, fmt.Errorf("%w: output of %d sats", ErrDust, out.Value())
		}
		outputValue += out.Value()
		outputs = append(outputs, packetOutput{
			txOut:         out.TxOut(),
			witnessScript: out.WitnessScript(),
		})
	}

	dummy := createPacket(inputs, outputs, lockTime)
	weight := int64(dummy.UnsignedTx.SerializeSizeStripped()) * 4
	for _, w := range satWeights {
		weight += int64(w)
	}
	// Enough to bump the feerate by 16 sat/WU twice.
	cpfpValue := 2 * 32 * weight

	if outputValue+cpfpValue > inputValue {
		return nil, fmt.Errorf("%w: inputs of %d sats cannot fund outputs of %d sats",
			ErrDust, inputValue, outputValue+cpfpValue)
	}
	if fees := inputValue - outputValue - cpfpValue; insaneFeeCheck && fees > InsaneFees {
		return nil, fmt.Errorf("%w: %d sats", ErrInsaneFees, fees)
	}

	outputs[0].txOut = wire.NewTxOut(cpfpValue, cpfpDesc.ScriptPubKey())
	packet := createPacket(inputs, outputs, lockTime)
	return &SpendTransaction{vaultTx{packet: packet}}, nil
}

// CpfpTxIn returns the input spending this transaction's fee-acceleration
// output. It panics if desc does not describe the fee-acceleration output,
// which cannot happen for a transaction built or parsed here.
func (t *SpendTransaction) CpfpTxIn(desc *scripts.CpfpDescriptor) CpfpTxIn {
	index, value := t.findOutput(desc.ScriptPubKey())
	outPoint := wire.OutPoint{Hash: t.TxID(), Index: index}
	return NewCpfpTxIn(outPoint, NewCpfpTxOut(value, desc))
}

func validateSpendPacket(packet *psbt.Packet) error {
	if err := commonSanityChecks(packet); err != nil {
		return err
	}
	if len(packet.Inputs) == 0 {
		return fmt.Errorf("%w: spend has no input", ErrInvalidInputCount)
	}
	if len(packet.Outputs) < 2 {
		return fmt.Errorf("%w: spend has %d outputs", ErrInvalidOutputCount,
			len(packet.Outputs))
	}
	for i := range packet.Inputs {
		if err := checkSignedInput(packet, i); err != nil {
			return err
		}
	}
	return nil
}

// SpendTransactionFromBytes deserializes and validates a binary PSBT as a
// spend transaction.
func SpendTransactionFromBytes(raw []byte) (*SpendTransaction, error) {
	packet, err := parsePacket(raw)
	if err != nil {
		return nil, err
	}
	if err := validateSpendPacket(packet); err != nil {
		return nil, err
	}
	return &SpendTransaction{vaultTx{packet: packet}}, nil
}

// SpendTransactionFromString deserializes and validates a base64 PSBT as a
// spend transaction.
func SpendTransactionFromString(encoded string) (*SpendTransaction, error) {
	packet, err := parsePacketString(encoded)
	if err != nil {
		return nil, err
	}
	if err := validateSpendPacket(packet); err != nil {
		return nil, err
	}
	return &SpendTransaction{vaultTx{packet: packet}}, nil
}

// MarshalJSON encodes the transaction as its base64 PSBT.
func (t *SpendTransaction) MarshalJSON() ([]byte, error) {
	return marshalPSBTJSON(&t.vaultTx)
}

// UnmarshalJSON decodes and validates a base64 PSBT.
func (t *SpendTransaction) UnmarshalJSON(data []byte) error {
	encoded, err := unmarshalPSBTJSON(data)
	if err != nil {
		return err
	}
	parsed, err := SpendTransactionFromString(encoded)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
