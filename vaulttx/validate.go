package vaulttx

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
)

// parsePacket deserializes a binary PSBT.
func parsePacket(raw []byte) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionSerialisation, err)
	}
	return packet, nil
}

// parsePacketString deserializes a base64 PSBT.
func parsePacketString(encoded string) (*psbt.Packet, error) {
	packet, err := psbt.NewFromRawBytes(strings.NewReader(encoded), true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionSerialisation, err)
	}
	return packet, nil
}

func witnessScriptMatches(witnessScript, scriptPubKey []byte) bool {
	if !txscript.IsPayToWitnessScriptHash(scriptPubKey) {
		return false
	}
	h := sha256.Sum256(witnessScript)
	return bytes.Equal(h[:], scriptPubKey[2:])
}

// commonSanityChecks enforces what holds for every transaction kind: the
// protocol version, matching map counts, a segwit v0 witness utxo on every
// input, no legacy fields, and all-or-nothing finalization.
func commonSanityChecks(packet *psbt.Packet) error {
	tx := packet.UnsignedTx
	if tx.Version != TxVersion {
		return fmt.Errorf("%w: %d", ErrInvalidTransactionVersion, tx.Version)
	}
	if len(tx.TxIn) != len(packet.Inputs) {
		return fmt.Errorf("%w: %d in the transaction, %d in the psbt",
			ErrInputCountMismatch, len(tx.TxIn), len(packet.Inputs))
	}
	if len(tx.TxOut) != len(packet.Outputs) {
		return fmt.Errorf("%w: %d in the transaction, %d in the psbt",
			ErrOutputCountMismatch, len(tx.TxOut), len(packet.Outputs))
	}

	finalized := false
	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if in.WitnessUtxo == nil {
			return fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, i)
		}
		spk := in.WitnessUtxo.PkScript
		if !txscript.IsPayToWitnessScriptHash(spk) && !txscript.IsPayToWitnessPubKeyHash(spk) {
			return fmt.Errorf("%w: input %d spends a non segwit-v0 output",
				ErrInvalidInputField, i)
		}
		if in.NonWitnessUtxo != nil {
			return fmt.Errorf("%w: input %d carries a non-witness utxo",
				ErrInvalidInputField, i)
		}
		if len(in.RedeemScript) > 0 {
			return fmt.Errorf("%w: input %d carries a redeem script",
				ErrInvalidInputField, i)
		}

		final := len(in.FinalScriptWitness) > 0
		if i == 0 {
			finalized = final
		}
		if final != finalized {
			return fmt.Errorf("%w: input %d", ErrPartiallyFinalized, i)
		}
		if final && len(in.WitnessScript) > 0 {
			return fmt.Errorf("%w: input %d is finalized but keeps its witness script",
				ErrPartiallyFinalized, i)
		}
	}
	return nil
}

// findRevocationInput returns the index of the first input spending a P2WSH
// output, the one a revocation transaction revokes.
func findRevocationInput(packet *psbt.Packet) (int, error) {
	for i := range packet.Inputs {
		if txscript.IsPayToWitnessScriptHash(packet.Inputs[i].WitnessUtxo.PkScript) {
			return i, nil
		}
	}
	return 0, ErrMissingRevocationInput
}

// findFeeBumpInput returns the index of the first input spending a P2WPKH
// output, the wallet input bumping a revocation transaction's fees.
func findFeeBumpInput(packet *psbt.Packet) (int, error) {
	for i := range packet.Inputs {
		if txscript.IsPayToWitnessPubKeyHash(packet.Inputs[i].WitnessUtxo.PkScript) {
			return i, nil
		}
	}
	return 0, ErrMissingFeeBumpInput
}

// checkRevocationInput enforces the shape of a revocation input: signed with
// ALL|ANYONECANPAY against a witness script committing to the spent output.
// Finalized inputs were checked before finalization.
func checkRevocationInput(packet *psbt.Packet, index int) error {
	in := &packet.Inputs[index]
	if len(in.FinalScriptWitness) > 0 {
		return nil
	}
	if in.SighashType != txscript.SigHashAll|txscript.SigHashAnyOneCanPay {
		return fmt.Errorf("%w: revocation input %d must use ALL|ANYONECANPAY",
			ErrInvalidSighashType, index)
	}
	return checkWitnessScriptInput(packet, index)
}

// checkFeeBumpInput enforces the shape of a fee-bump input: a P2WPKH spend
// signed with ALL and no witness script.
func checkFeeBumpInput(packet *psbt.Packet, index int) error {
	in := &packet.Inputs[index]
	if len(in.FinalScriptWitness) > 0 {
		return nil
	}
	if in.SighashType != txscript.SigHashAll {
		return fmt.Errorf("%w: fee-bump input %d must use ALL",
			ErrInvalidSighashType, index)
	}
	if !txscript.IsPayToWitnessPubKeyHash(in.WitnessUtxo.PkScript) {
		return fmt.Errorf("%w: fee-bump input %d does not spend a P2WPKH output",
			ErrInvalidInputField, index)
	}
	if len(in.WitnessScript) > 0 {
		return fmt.Errorf("%w: fee-bump input %d carries a witness script",
			ErrInvalidInputField, index)
	}
	return nil
}

// checkWitnessScriptInput requires a non-finalized input to carry the witness
// script its spent output commits to.
func checkWitnessScriptInput(packet *psbt.Packet, index int) error {
	in := &packet.Inputs[index]
	if len(in.WitnessScript) == 0 {
		return fmt.Errorf("%w: input %d", ErrMissingInputWitnessScript, index)
	}
	if !witnessScriptMatches(in.WitnessScript, in.WitnessUtxo.PkScript) {
		return fmt.Errorf("%w: input %d", ErrInvalidInputWitnessScript, index)
	}
	return nil
}

// checkSignedInput requires a non-finalized input to use the plain ALL
// sighash and to carry its witness script.
func checkSignedInput(packet *psbt.Packet, index int) error {
	in := &packet.Inputs[index]
	if len(in.FinalScriptWitness) > 0 {
		return nil
	}
	if in.SighashType != txscript.SigHashAll {
		return fmt.Errorf("%w: input %d must use ALL", ErrInvalidSighashType, index)
	}
	return checkWitnessScriptInput(packet, index)
}

// checkP2WSHOutputs requires every output to declare the witness script its
// scriptPubKey commits to and to carry no legacy redeem script.
func checkP2WSHOutputs(packet *psbt.Packet, indexes ...int) error {
	for _, i := range indexes {
		out := &packet.Outputs[i]
		if len(out.RedeemScript) > 0 {
			return fmt.Errorf("%w: output %d carries a redeem script",
				ErrInvalidOutputField, i)
		}
		if len(out.WitnessScript) == 0 {
			return fmt.Errorf("%w: output %d", ErrMissingOutputWitnessScript, i)
		}
		if !witnessScriptMatches(out.WitnessScript, packet.UnsignedTx.TxOut[i].PkScript) {
			return fmt.Errorf("%w: output %d", ErrInvalidOutputWitnessScript, i)
		}
	}
	return nil
}
