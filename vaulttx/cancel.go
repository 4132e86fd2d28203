package vaulttx

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// CancelTransaction aborts an unvault attempt, sending the unvault output
// back to a deposit. It is pre-signed by the stakeholders with
// ALL|ANYONECANPAY so a wallet input can later be attached to bump its fees.
type CancelTransaction struct {
	vaultTx
}

// revocationValue sizes a revocation transaction from its single-input dummy
// and returns what is left of the revoked value after fees. The optional
// fee-bump input is excluded on purpose: pre-signed fees must not depend on
// whether one gets attached. It only fails if the fees eat the whole revoked
// value. The output may land below the dust floor: that floor binds the
// unvault constructor only, so a revocation exists for every unvault that can
// be built.
func revocationValue(dummyTx *wire.MsgTx, satWeight int, revokedValue int64) (int64, error) {
	fees, err := txFees(dummyTx, RevaultingTxFeerate, satWeight)
	if err != nil {
		return 0, err
	}
	if revokedValue < fees {
		return 0, fmt.Errorf("%w: %d sats revoked, %d sats of fees", ErrDust,
			revokedValue, fees)
	}
	return revokedValue - fees, nil
}

// NewCancelTransaction creates the cancel transaction revoking the given
// unvault output back to depositDesc. feeBumpInput, if non-nil, is an extra
// wallet input signed with ALL.
func NewCancelTransaction(unvaultInput UnvaultTxIn, feeBumpInput *FeeBumpTxIn,
	depositDesc *scripts.DepositDescriptor, lockTime uint32) (*CancelTransaction, error) {

	acp := txscript.SigHashAll | txscript.SigHashAnyOneCanPay
	outputs := func(value int64) []packetOutput {
		return []packetOutput{{
			txOut:         wire.NewTxOut(value, depositDesc.ScriptPubKey()),
			witnessScript: depositDesc.WitnessScript(),
		}}
	}

	dummy := createPacket([]packetInput{unvaultInput.packetInput(acp)},
		outputs(placeholderValue), lockTime)
	value, err := revocationValue(dummy.UnsignedTx,
		unvaultInput.MaxSatisfactionWeight(), unvaultInput.PrevOut().Value())
	if err != nil {
		return nil, err
	}

	inputs := []packetInput{unvaultInput.packetInput(acp)}
	if feeBumpInput != nil {
		inputs = append(inputs, feeBumpInput.packetInput())
	}
	packet := createPacket(inputs, outputs(value), lockTime)
	return &CancelTransaction{vaultTx{packet: packet}}, nil
}

// validateRevocationPacket enforces what cancel and both emergency
// transactions share: one output, a revocation input, and at most one
// fee-bump input.
func validateRevocationPacket(packet *psbt.Packet) error {
	if err := commonSanityChecks(packet); err != nil {
		return err
	}
	if n := len(packet.Outputs); n != 1 {
		return fmt.Errorf("%w: revocation transaction has %d outputs, not 1",
			ErrInvalidOutputCount, n)
	}
	if n := len(packet.Inputs); n != 1 && n != 2 {
		return fmt.Errorf("%w: revocation transaction has %d inputs",
			ErrInvalidInputCount, n)
	}

	if len(packet.Inputs) == 2 {
		index, err := findFeeBumpInput(packet)
		if err != nil {
			return err
		}
		if err := checkFeeBumpInput(packet, index); err != nil {
			return err
		}
	}
	index, err := findRevocationInput(packet)
	if err != nil {
		return err
	}
	return checkRevocationInput(packet, index)
}

func validateCancelPacket(packet *psbt.Packet) error {
	if err := validateRevocationPacket(packet); err != nil {
		return err
	}
	// The single output pays back to a deposit.
	return checkP2WSHOutputs(packet, 0)
}

// CancelTransactionFromBytes deserializes and validates a binary PSBT as a
// cancel transaction.
func CancelTransactionFromBytes(raw []byte) (*CancelTransaction, error) {
	packet, err := parsePacket(raw)
	if err != nil {
		return nil, err
	}
	if err := validateCancelPacket(packet); err != nil {
		return nil, err
	}
	return &CancelTransaction{vaultTx{packet: packet}}, nil
}

// CancelTransactionFromString deserializes and validates a base64 PSBT as a
// cancel transaction.
func CancelTransactionFromString(encoded string) (*CancelTransaction, error) {
	packet, err := parsePacketString(encoded)
	if err != nil {
		return nil, err
	}
	if err := validateCancelPacket(packet); err != nil {
		return nil, err
	}
	return &CancelTransaction{vaultTx{packet: packet}}, nil
}

// MarshalJSON encodes the transaction as its base64 PSBT.
func (t *CancelTransaction) MarshalJSON() ([]byte, error) {
	return marshalPSBTJSON(&t.vaultTx)
}

// UnmarshalJSON decodes and validates a base64 PSBT.
func (t *CancelTransaction) UnmarshalJSON(data []byte) error {
	encoded, err := unmarshalPSBTJSON(data)
	if err != nil {
		return err
	}
	parsed, err := CancelTransactionFromString(encoded)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
