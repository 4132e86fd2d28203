// Package vaulttx builds, validates, signs and finalizes the pre-signed
// transactions of the vault custody protocol: unvault, cancel, emergency,
// unvault-emergency and spend. Every transaction is carried as a PSBT from
// creation to broadcast.
package vaulttx

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// Limits applied when deserializing a final witness. Far above anything the
// protocol scripts can produce.
const (
	maxWitnessItems    = 100
	maxWitnessItemSize = 11_000
)

// VaultTransaction is the behaviour common to every transaction of the
// protocol.
type VaultTransaction interface {
	// SignatureHash returns the BIP143 digest to sign for the given input.
	SignatureHash(index int, hashType txscript.SigHashType) ([]byte, error)

	// AddSignature records a signature for the given input, returning the
	// signature it replaces if the key already signed.
	AddSignature(index int, pubKey *btcec.PublicKey, sig []byte,
		hashType txscript.SigHashType) ([]byte, error)

	// Finalize assembles and verifies the final witness of every input.
	Finalize() error

	// IsFinalizable reports whether Finalize would succeed.
	IsFinalizable() bool

	// IsFinalized reports whether the transaction carries final witnesses.
	IsFinalized() bool

	// IsValid reports whether the finalized transaction passes consensus
	// script verification on every input.
	IsValid() bool

	// BroadcastBytes returns the network serialization of the finalized
	// transaction.
	BroadcastBytes() ([]byte, error)

	// PSBTBytes returns the binary PSBT serialization.
	PSBTBytes() ([]byte, error)

	// PSBTString returns the base64 PSBT serialization.
	PSBTString() (string, error)

	// TxID returns the txid of the unsigned transaction.
	TxID() chainhash.Hash
}

// Compile-time interface checks.
var (
	_ VaultTransaction = (*UnvaultTransaction)(nil)
	_ VaultTransaction = (*CancelTransaction)(nil)
	_ VaultTransaction = (*EmergencyTransaction)(nil)
	_ VaultTransaction = (*UnvaultEmergencyTransaction)(nil)
	_ VaultTransaction = (*SpendTransaction)(nil)
)

// vaultTx is the shared implementation backing every transaction kind. It
// wraps the PSBT and enforces the creation-time invariants through the
// signing and finalizing roles.
type vaultTx struct {
	packet *psbt.Packet
}

// Packet exposes the underlying PSBT. Mutating it bypasses every invariant
// maintained here.
func (t *vaultTx) Packet() *psbt.Packet { return t.packet }

// Tx exposes the unsigned transaction.
func (t *vaultTx) Tx() *wire.MsgTx { return t.packet.UnsignedTx }

// TxID returns the txid of the unsigned transaction.
func (t *vaultTx) TxID() chainhash.Hash { return t.packet.UnsignedTx.TxHash() }

// Fees returns the absolute fees, the difference between the spent and the
// created values.
func (t *vaultTx) Fees() int64 {
	var fees int64
	for i := range t.packet.Inputs {
		if utxo := t.packet.Inputs[i].WitnessUtxo; utxo != nil {
			fees += utxo.Value
		}
	}
	for _, txOut := range t.packet.UnsignedTx.TxOut {
		fees -= txOut.Value
	}
	return fees
}

func (t *vaultTx) input(index int) (*psbt.PInput, error) {
	if index < 0 || index >= len(t.packet.Inputs) {
		return nil, fmt.Errorf("%w: input %d of %d", ErrInputOutOfBounds,
			index, len(t.packet.Inputs))
	}
	return &t.packet.Inputs[index], nil
}

// prevOutFetcher indexes the witness utxos for sighash and interpreter use.
func (t *vaultTx) prevOutFetcher() *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i := range t.packet.Inputs {
		if utxo := t.packet.Inputs[i].WitnessUtxo; utxo != nil {
			fetcher.AddPrevOut(t.packet.UnsignedTx.TxIn[i].PreviousOutPoint, utxo)
		}
	}
	return fetcher
}

// SignatureHash returns the BIP143 digest committing to the given input, with
// its witness script as script code.
func (t *vaultTx) SignatureHash(index int, hashType txscript.SigHashType) ([]byte, error) {
	in, err := t.input(index)
	if err != nil {
		return nil, err
	}
	if len(in.WitnessScript) == 0 {
		return nil, fmt.Errorf("%w: input %d", ErrMissingWitnessScript, index)
	}
	return t.sigHash(index, in.WitnessScript, hashType)
}

// FeeBumpSignatureHash returns the BIP143 digest committing to a P2WPKH
// fee-bump input, scriptCode being the usual P2PKH script of the spent key.
func (t *vaultTx) FeeBumpSignatureHash(index int, scriptCode []byte,
	hashType txscript.SigHashType) ([]byte, error) {

	in, err := t.input(index)
	if err != nil {
		return nil, err
	}
	if in.WitnessUtxo == nil || !txscript.IsPayToWitnessPubKeyHash(in.WitnessUtxo.PkScript) {
		return nil, fmt.Errorf("%w: input %d is not a fee-bump input",
			ErrInvalidInputField, index)
	}
	return t.sigHash(index, scriptCode, hashType)
}

func (t *vaultTx) sigHash(index int, scriptCode []byte,
	hashType txscript.SigHashType) ([]byte, error) {

	in := &t.packet.Inputs[index]
	if in.WitnessUtxo == nil {
		return nil, fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, index)
	}
	sigHashes := txscript.NewTxSigHashes(t.packet.UnsignedTx, t.prevOutFetcher())
	return txscript.CalcWitnessSigHash(scriptCode, sigHashes, hashType,
		t.packet.UnsignedTx, index, in.WitnessUtxo.Value)
}

// AddSignature records a DER-encoded signature for the given input. The
// sighash type must match the one fixed at creation; it is appended to the
// stored signature as its trailing byte. If the key already signed, the
// previous signature is replaced and returned.
func (t *vaultTx) AddSignature(index int, pubKey *btcec.PublicKey, sig []byte,
	hashType txscript.SigHashType) ([]byte, error) {

	in, err := t.input(index)
	if err != nil {
		return nil, err
	}
	if len(in.FinalScriptWitness) > 0 {
		return nil, fmt.Errorf("%w: input %d", ErrAlreadyFinalized, index)
	}
	if in.WitnessUtxo == nil {
		return nil, fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, index)
	}
	if in.NonWitnessUtxo != nil || len(in.RedeemScript) > 0 {
		return nil, fmt.Errorf("%w: input %d carries legacy fields",
			ErrInvalidInputField, index)
	}
	spk := in.WitnessUtxo.PkScript
	if len(in.WitnessScript) > 0 {
		if !witnessScriptMatches(in.WitnessScript, spk) {
			return nil, fmt.Errorf("%w: input %d", ErrInvalidInputWitnessScript, index)
		}
	} else if !txscript.IsPayToWitnessPubKeyHash(spk) {
		return nil, fmt.Errorf("%w: input %d", ErrMissingWitnessScript, index)
	}
	if in.SighashType != hashType {
		return nil, fmt.Errorf("%w: input %d expects %#x, got %#x",
			ErrUnexpectedSighashType, index, uint32(in.SighashType), uint32(hashType))
	}

	stored := make([]byte, 0, len(sig)+1)
	stored = append(stored, sig...)
	stored = append(stored, byte(hashType))
	key := pubKey.SerializeCompressed()

	for _, ps := range in.PartialSigs {
		if bytes.Equal(ps.PubKey, key) {
			previous := ps.Signature
			ps.Signature = stored
			return previous, nil
		}
	}
	in.PartialSigs = append(in.PartialSigs, &psbt.PartialSig{
		PubKey:    key,
		Signature: stored,
	})
	return nil, nil
}

func partialSigs(in *psbt.PInput) []scripts.Signature {
	sigs := make([]scripts.Signature, len(in.PartialSigs))
	for i, ps := range in.PartialSigs {
		sigs[i] = scripts.Signature{PubKey: ps.PubKey, Sig: ps.Signature}
	}
	return sigs
}

func (t *vaultTx) satisfyInput(index int) (wire.TxWitness, error) {
	in := &t.packet.Inputs[index]
	sigs := partialSigs(in)
	if len(in.WitnessScript) > 0 {
		return scripts.Satisfy(in.WitnessScript,
			sigs, t.packet.UnsignedTx.TxIn[index].Sequence)
	}
	if in.WitnessUtxo == nil {
		return nil, fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, index)
	}
	return scripts.SatisfyP2WPKH(in.WitnessUtxo.PkScript, sigs)
}

// Finalize assembles the final witness of every input from the collected
// signatures, wipes the now-redundant signing fields, and runs the consensus
// interpreter on each input as an independent check of the satisfier. Inputs
// already finalized are left untouched. A satisfaction error leaves the PSBT
// unchanged.
func (t *vaultTx) Finalize() error {
	witnesses := make([]wire.TxWitness, len(t.packet.Inputs))
	for i := range t.packet.Inputs {
		if len(t.packet.Inputs[i].FinalScriptWitness) > 0 {
			continue
		}
		witness, err := t.satisfyInput(i)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", ErrTransactionFinalisation, i, err)
		}
		witnesses[i] = witness
	}

	for i, witness := range witnesses {
		if witness == nil {
			continue
		}
		serialized, err := serializeWitness(witness)
		if err != nil {
			return fmt.Errorf("%w: input %d: %w", ErrTransactionFinalisation, i, err)
		}
		in := &t.packet.Inputs[i]
		in.FinalScriptWitness = serialized
		in.PartialSigs = nil
		in.SighashType = 0
		in.WitnessScript = nil
	}

	for i := range t.packet.Inputs {
		if err := t.VerifyInput(i); err != nil {
			return err
		}
	}
	return nil
}

// IsFinalizable reports whether every input either is finalized or has enough
// signatures for its final witness to be assembled. It never mutates the PSBT.
func (t *vaultTx) IsFinalizable() bool {
	for i := range t.packet.Inputs {
		if len(t.packet.Inputs[i].FinalScriptWitness) > 0 {
			continue
		}
		if _, err := t.satisfyInput(i); err != nil {
			return false
		}
	}
	return true
}

// IsFinalized reports whether the transaction carries final witnesses. The
// parsers and Finalize enforce all-or-nothing finalization, so one finalized
// input stands for all of them.
func (t *vaultTx) IsFinalized() bool {
	for i := range t.packet.Inputs {
		if len(t.packet.Inputs[i].FinalScriptWitness) > 0 {
			return true
		}
	}
	return false
}

// VerifyInput runs the consensus script interpreter, with standardness flags,
// on the given finalized input.
func (t *vaultTx) VerifyInput(index int) error {
	in, err := t.input(index)
	if err != nil {
		return err
	}
	if in.WitnessUtxo == nil {
		return fmt.Errorf("%w: input %d", ErrMissingWitnessUtxo, index)
	}

	finalTx, err := t.extractTx()
	if err != nil {
		return err
	}
	fetcher := t.prevOutFetcher()
	sigHashes := txscript.NewTxSigHashes(finalTx, fetcher)
	vm, err := txscript.NewEngine(in.WitnessUtxo.PkScript, finalTx, index,
		txscript.StandardVerifyFlags, nil, sigHashes, in.WitnessUtxo.Value, fetcher)
	if err != nil {
		return fmt.Errorf("%w: input %d: %w", ErrScriptVerification, index, err)
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("%w: input %d: %w", ErrScriptVerification, index, err)
	}
	return nil
}

// IsValid reports whether the transaction is finalized, its witnesses are
// consistent with the spent scriptPubKeys, and every input passes consensus
// verification.
func (t *vaultTx) IsValid() bool {
	if !t.IsFinalized() {
		return false
	}
	finalTx, err := t.extractTx()
	if err != nil {
		return false
	}
	for i := range t.packet.Inputs {
		utxo := t.packet.Inputs[i].WitnessUtxo
		if utxo == nil {
			return false
		}
		if err := scripts.CheckWitness(utxo.PkScript, finalTx.TxIn[i].Witness); err != nil {
			return false
		}
		if err := t.VerifyInput(i); err != nil {
			return false
		}
	}
	return true
}

// extractTx returns the unsigned transaction with whatever final witnesses
// the PSBT carries attached. Unlike the BIP174 extractor role it does not
// require the transaction to be fully finalized.
func (t *vaultTx) extractTx() (*wire.MsgTx, error) {
	tx := t.packet.UnsignedTx.Copy()
	for i := range t.packet.Inputs {
		serialized := t.packet.Inputs[i].FinalScriptWitness
		if len(serialized) == 0 {
			continue
		}
		witness, err := parseWitness(serialized)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d: %w", ErrTransactionSerialisation, i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return tx, nil
}

// BroadcastBytes returns the network serialization of the transaction,
// witnesses included.
func (t *vaultTx) BroadcastBytes() ([]byte, error) {
	tx, err := t.extractTx()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionSerialisation, err)
	}
	return buf.Bytes(), nil
}

// Hex returns the hex-encoded network serialization.
func (t *vaultTx) Hex() (string, error) {
	raw, err := t.BroadcastBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// PSBTBytes returns the binary PSBT serialization.
func (t *vaultTx) PSBTBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransactionSerialisation, err)
	}
	return buf.Bytes(), nil
}

// PSBTString returns the base64 PSBT serialization.
func (t *vaultTx) PSBTString() (string, error) {
	encoded, err := t.packet.B64Encode()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransactionSerialisation, err)
	}
	return encoded, nil
}

// marshalPSBTJSON encodes a transaction as a JSON string holding its base64
// PSBT.
func marshalPSBTJSON(t *vaultTx) ([]byte, error) {
	encoded, err := t.PSBTString()
	if err != nil {
		return nil, err
	}
	return json.Marshal(encoded)
}

func unmarshalPSBTJSON(data []byte) (string, error) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransactionSerialisation, err)
	}
	return encoded, nil
}

// packetInput and packetOutput carry what the creator role records per input
// and output of a fresh PSBT.
type packetInput struct {
	txIn          *wire.TxIn
	witnessUtxo   *wire.TxOut
	witnessScript []byte
	sighashType   txscript.SigHashType
}

type packetOutput struct {
	txOut         *wire.TxOut
	witnessScript []byte
}

func createPacket(ins []packetInput, outs []packetOutput, lockTime uint32) *psbt.Packet {
	tx := wire.NewMsgTx(TxVersion)
	tx.LockTime = lockTime
	for _, in := range ins {
		tx.AddTxIn(in.txIn)
	}
	for _, out := range outs {
		tx.AddTxOut(out.txOut)
	}

	packet := &psbt.Packet{
		UnsignedTx: tx,
		Inputs:     make([]psbt.PInput, len(ins)),
		Outputs:    make([]psbt.POutput, len(outs)),
	}
	for i, in := range ins {
		packet.Inputs[i] = psbt.PInput{
			WitnessUtxo:   in.witnessUtxo,
			WitnessScript: in.witnessScript,
			SighashType:   in.sighashType,
		}
	}
	for i, out := range outs {
		packet.Outputs[i] = psbt.POutput{WitnessScript: out.witnessScript}
	}
	return packet
}

// placeholderValue fills dummy outputs while sizing a transaction. Values
// serialize to a fixed 8 bytes, so any amount gives the same size.
const placeholderValue int64 = 1<<63 - 1

// txFees computes the creation-time fees of tx at the given feerate, the
// weight being the witness-stripped weight plus the satisfaction bound of
// each input.
func txFees(tx *wire.MsgTx, feerate int64, maxSatWeights ...int) (int64, error) {
	weight := int64(tx.SerializeSizeStripped()) * 4
	for _, w := range maxSatWeights {
		weight += int64(w)
	}
	fees := weight * feerate
	if fees > InsaneFees {
		return 0, fmt.Errorf("%w: %d sats for a weight of %d", ErrInsaneFees, fees, weight)
	}
	return fees, nil
}

func serializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, witness); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseWitness reads back a BIP174 final witness field. The psbt package
// keeps its reader unexported.
func parseWitness(serialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(serialized)
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxWitnessItems {
		return nil, fmt.Errorf("witness stack of %d items", count)
	}
	witness := make(wire.TxWitness, count)
	for i := range witness {
		item, err := wire.ReadVarBytes(r, 0, maxWitnessItemSize, "witness item")
		if err != nil {
			return nil, err
		}
		witness[i] = item
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after witness stack", r.Len())
	}
	return witness, nil
}
