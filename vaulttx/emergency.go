package vaulttx

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// EmergencyTransaction moves a deposit straight to the emergency deep vault.
// It is the last-resort deterrent, pre-signed by the stakeholders with
// ALL|ANYONECANPAY.
type EmergencyTransaction struct {
	vaultTx
}

// UnvaultEmergencyTransaction moves an already unvaulted output to the
// emergency deep vault, covering deposits whose unvault transaction was
// broadcast before the emergency.
type UnvaultEmergencyTransaction struct {
	vaultTx
}

// The emergency address script is opaque, so emergency outputs carry no
// witness script and parsers do not inspect them.
func emergencyOutputs(value int64, addr scripts.EmergencyAddress) []packetOutput {
	return []packetOutput{{txOut: wire.NewTxOut(value, addr.ScriptPubKey())}}
}

// NewEmergencyTransaction creates the emergency transaction draining the
// given deposit to addr. feeBumpInput, if non-nil, is an extra wallet input
// signed with ALL.
func NewEmergencyTransaction(depositInput DepositTxIn, feeBumpInput *FeeBumpTxIn,
	addr scripts.EmergencyAddress, lockTime uint32) (*EmergencyTransaction, error) {

	acp := txscript.SigHashAll | txscript.SigHashAnyOneCanPay

	dummy := createPacket([]packetInput{depositInput.packetInput(acp)},
		emergencyOutputs(placeholderValue, addr), lockTime)
	value, err := revocationValue(dummy.UnsignedTx,
		depositInput.MaxSatisfactionWeight(), depositInput.PrevOut().Value())
	if err != nil {
		return nil, err
	}

	inputs := []packetInput{depositInput.packetInput(acp)}
	if feeBumpInput != nil {
		inputs = append(inputs, feeBumpInput.packetInput())
	}
	packet := createPacket(inputs, emergencyOutputs(value, addr), lockTime)
	return &EmergencyTransaction{vaultTx{packet: packet}}, nil
}

// NewUnvaultEmergencyTransaction creates the emergency transaction draining
// the given unvault output to addr. feeBumpInput, if non-nil, is an extra
// wallet input signed with ALL.
func NewUnvaultEmergencyTransaction(unvaultInput UnvaultTxIn, feeBumpInput *FeeBumpTxIn,
	addr scripts.EmergencyAddress, lockTime uint32) (*UnvaultEmergencyTransaction, error) {

	acp := txscript.SigHashAll | txscript.SigHashAnyOneCanPay

	dummy := createPacket([]packetInput{unvaultInput.packetInput(acp)},
		emergencyOutputs(placeholderValue, addr), lockTime)
	value, err := revocationValue(dummy.UnsignedTx,
		unvaultInput.MaxSatisfactionWeight(), unvaultInput.PrevOut().Value())
	if err != nil {
		return nil, err
	}

	inputs := []packetInput{unvaultInput.packetInput(acp)}
	if feeBumpInput != nil {
		inputs = append(inputs, feeBumpInput.packetInput())
	}
	packet := createPacket(inputs, emergencyOutputs(value, addr), lockTime)
	return &UnvaultEmergencyTransaction{vaultTx{packet: packet}}, nil
}

func validateEmergencyPacket(packet *psbt.Packet) error {
	return validateRevocationPacket(packet)
}

// EmergencyTransactionFromBytes deserializes and validates a binary PSBT as
// an emergency transaction.
func EmergencyTransactionFromBytes(raw []byte) (*EmergencyTransaction, error) {
	packet, err := parsePacket(raw)
	if err != nil {
		return nil, err
	}
	if err := validateEmergencyPacket(packet); err != nil {
		return nil, err
	}
	return &EmergencyTransaction{vaultTx{packet: packet}}, nil
}

// EmergencyTransactionFromString deserializes and validates a base64 PSBT as
// an emergency transaction.
func EmergencyTransactionFromString(encoded string) (*EmergencyTransaction, error) {
	packet, err := parsePacketString(encoded)
	if err != nil {
		return nil, err
	}
	if err := validateEmergencyPacket(packet); err != nil {
		return nil, err
	}
	return &EmergencyTransaction{vaultTx{packet: packet}}, nil
}

// UnvaultEmergencyTransactionFromBytes deserializes and validates a binary
// PSBT as an unvault-emergency transaction.
func UnvaultEmergencyTransactionFromBytes(raw []byte) (*UnvaultEmergencyTransaction, error) {
	packet, err := parsePacket(raw)
	if err != nil {
		return nil, err
	}
	if err := validateEmergencyPacket(packet); err != nil {
		return nil, err
	}
	return &UnvaultEmergencyTransaction{vaultTx{packet: packet}}, nil
}

// UnvaultEmergencyTransactionFromString deserializes and validates a base64
// PSBT as an unvault-emergency transaction.
func UnvaultEmergencyTransactionFromString(encoded string) (*UnvaultEmergencyTransaction, error) {
	packet, err := parsePacketString(encoded)
	if err != nil {
		return nil, err
	}
	if err := validateEmergencyPacket(packet); err != nil {
		return nil, err
	}
	return &UnvaultEmergencyTransaction{vaultTx{packet: packet}}, nil
}

// MarshalJSON encodes the transaction as its base64 PSBT.
func (t *EmergencyTransaction) MarshalJSON() ([]byte, error) {
	return marshalPSBTJSON(&t.vaultTx)
}

// UnmarshalJSON decodes and validates a base64 PSBT.
func (t *EmergencyTransaction) UnmarshalJSON(data []byte) error {
	encoded, err := unmarshalPSBTJSON(data)
	if err != nil {
		return err
	}
	parsed, err := EmergencyTransactionFromString(encoded)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// MarshalJSON encodes the transaction as its base64 PSBT.
func (t *UnvaultEmergencyTransaction) MarshalJSON() ([]byte, error) {
	return marshalPSBTJSON(&t.vaultTx)
}

// UnmarshalJSON decodes and validates a base64 PSBT.
func (t *UnvaultEmergencyTransaction) UnmarshalJSON(data []byte) error {
	encoded, err := unmarshalPSBTJSON(data)
	if err != nil {
		return err
	}
	parsed, err := UnvaultEmergencyTransactionFromString(encoded)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}
