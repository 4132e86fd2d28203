package scripts

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Sequence field semantics, per BIP68.
const (
	sequenceLockTimeDisabled = 1 << 31
	sequenceLockTimeTypeFlag = 1 << 22
	sequenceLockTimeMask     = 0x0000ffff
)

// Signature is one collected signature: a compressed public key and the
// DER-encoded signature with its trailing sighash type byte.
type Signature struct {
	PubKey []byte
	Sig    []byte
}

// Satisfy assembles the final witness unlocking witnessScript from the
// collected signatures. sequence is the spending input's sequence number,
// checked against any relative timelock in the script. The returned witness
// includes the trailing witness script push.
func Satisfy(witnessScript []byte, sigs []Signature, sequence uint32) (wire.TxWitness, error) {
	ops, err := tokenize(witnessScript)
	if err != nil {
		return nil, err
	}

	if ms, pos, err := parseMultisig(ops, 0); err == nil && pos == len(ops) {
		items, err := satisfyMultisig(ms, sigs)
		if err != nil {
			return nil, err
		}
		return append(items, witnessScript), nil
	}

	vault, err := parseVault(ops)
	if err != nil {
		return nil, err
	}
	return satisfyVault(vault, witnessScript, sigs, sequence)
}

// SatisfyP2WPKH assembles the two-item witness for a P2WPKH scriptPubKey from
// the collected signatures, picking the one whose key hashes to the witness
// program.
func SatisfyP2WPKH(scriptPubKey []byte, sigs []Signature) (wire.TxWitness, error) {
	if !txscript.IsPayToWitnessPubKeyHash(scriptPubKey) {
		return nil, fmt.Errorf("%w: not a P2WPKH script", ErrUnknownScript)
	}
	program := scriptPubKey[2:]
	for _, sig := range sigs {
		if bytes.Equal(btcutil.Hash160(sig.PubKey), program) {
			return wire.TxWitness{sig.Sig, sig.PubKey}, nil
		}
	}
	return nil, fmt.Errorf("%w: no key matching the witness program", ErrMissingSignature)
}

// CheckWitness verifies that a final witness is shaped for its scriptPubKey:
// for P2WSH the last witness item must hash to the program, for P2WPKH the
// second item must be a key hashing to the program. It performs no script
// execution.
func CheckWitness(scriptPubKey []byte, witness wire.TxWitness) error {
	switch {
	case txscript.IsPayToWitnessScriptHash(scriptPubKey):
		if len(witness) == 0 {
			return fmt.Errorf("%w: empty witness", ErrWitnessMismatch)
		}
		h := sha256.Sum256(witness[len(witness)-1])
		if !bytes.Equal(h[:], scriptPubKey[2:]) {
			return fmt.Errorf("%w: witness script hash", ErrWitnessMismatch)
		}
	case txscript.IsPayToWitnessPubKeyHash(scriptPubKey):
		if len(witness) != 2 {
			return fmt.Errorf("%w: P2WPKH witness must have 2 items", ErrWitnessMismatch)
		}
		if !bytes.Equal(btcutil.Hash160(witness[1]), scriptPubKey[2:]) {
			return fmt.Errorf("%w: witness pubkey hash", ErrWitnessMismatch)
		}
	default:
		return fmt.Errorf("%w: not a segwit v0 script", ErrWitnessMismatch)
	}
	return nil
}

// multisigTemplate is a parsed <k> <keys...> <n> OP_CHECKMULTISIG fragment.
type multisigTemplate struct {
	threshold int
	pubKeys   [][]byte
}

// vaultTemplate is the parsed unvault branch script: managers and cosigners
// behind a relative timelock on the IF branch, stakeholders on the ELSE one.
type vaultTemplate struct {
	csv      uint32
	spenders multisigTemplate
	revokers multisigTemplate
}

type scriptOp struct {
	opcode byte
	data   []byte
}

func tokenize(script []byte) ([]scriptOp, error) {
	var ops []scriptOp
	t := txscript.MakeScriptTokenizer(0, script)
	for t.Next() {
		ops = append(ops, scriptOp{opcode: t.Opcode(), data: t.Data()})
	}
	if err := t.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownScript, err)
	}
	return ops, nil
}

// opNumber decodes a minimally-encoded script number from a tokenized op.
func opNumber(op scriptOp) (int64, bool) {
	switch {
	case op.opcode == txscript.OP_0:
		return 0, true
	case op.opcode >= txscript.OP_1 && op.opcode <= txscript.OP_16:
		return int64(op.opcode-txscript.OP_1) + 1, true
	case len(op.data) > 0 && len(op.data) <= 5:
		return decodeScriptNum(op.data)
	}
	return 0, false
}

// decodeScriptNum interprets data as a minimally-encoded little-endian
// signed script number.
func decodeScriptNum(data []byte) (int64, bool) {
	// Minimal encoding: no trailing zero byte unless it carries the sign bit.
	last := data[len(data)-1]
	if last&0x7f == 0 {
		if len(data) == 1 || data[len(data)-2]&0x80 == 0 {
			return 0, false
		}
	}

	var v int64
	for i, b := range data {
		v |= int64(b) << (8 * i)
	}
	if last&0x80 != 0 {
		v &= ^(int64(0x80) << (8 * (len(data) - 1)))
		v = -v
	}
	return v, true
}

// parseMultisig parses a multisig fragment starting at ops[pos], returning
// the position past OP_CHECKMULTISIG.
func parseMultisig(ops []scriptOp, pos int) (multisigTemplate, int, error) {
	fail := func() (multisigTemplate, int, error) {
		return multisigTemplate{}, 0, fmt.Errorf("%w: not a multisig fragment", ErrUnknownScript)
	}

	if pos >= len(ops) {
		return fail()
	}
	threshold, ok := opNumber(ops[pos])
	if !ok || threshold < 1 {
		return fail()
	}
	pos++

	var keys [][]byte
	for pos < len(ops) && len(ops[pos].data) == 33 {
		keys = append(keys, ops[pos].data)
		pos++
	}
	if len(keys) == 0 || int(threshold) > len(keys) {
		return fail()
	}

	if pos >= len(ops) {
		return fail()
	}
	count, ok := opNumber(ops[pos])
	if !ok || int(count) != len(keys) {
		return fail()
	}
	pos++

	if pos >= len(ops) || ops[pos].opcode != txscript.OP_CHECKMULTISIG {
		return fail()
	}
	return multisigTemplate{threshold: int(threshold), pubKeys: keys}, pos + 1, nil
}

func parseVault(ops []scriptOp) (vaultTemplate, error) {
	fail := func() (vaultTemplate, error) {
		return vaultTemplate{}, fmt.Errorf("%w: not a vault branch script", ErrUnknownScript)
	}

	if len(ops) < 8 || ops[0].opcode != txscript.OP_IF {
		return fail()
	}
	csv, ok := opNumber(ops[1])
	if !ok || csv <= 0 || csv > maxCSVValue {
		return fail()
	}
	if ops[2].opcode != txscript.OP_CHECKSEQUENCEVERIFY || ops[3].opcode != txscript.OP_DROP {
		return fail()
	}

	spenders, pos, err := parseMultisig(ops, 4)
	if err != nil {
		return fail()
	}
	if pos >= len(ops) || ops[pos].opcode != txscript.OP_ELSE {
		return fail()
	}
	revokers, pos, err := parseMultisig(ops, pos+1)
	if err != nil {
		return fail()
	}
	if pos != len(ops)-1 || ops[pos].opcode != txscript.OP_ENDIF {
		return fail()
	}

	return vaultTemplate{csv: uint32(csv), spenders: spenders, revokers: revokers}, nil
}

// satisfyMultisig returns the CHECKMULTISIG stack: the dummy item followed by
// threshold signatures in public key order.
func satisfyMultisig(ms multisigTemplate, sigs []Signature) (wire.TxWitness, error) {
	items := make(wire.TxWitness, 0, ms.threshold+1)
	items = append(items, nil)
	for _, key := range ms.pubKeys {
		if len(items)-1 == ms.threshold {
			break
		}
		if sig := findSig(sigs, key); sig != nil {
			items = append(items, sig)
		}
	}
	if got := len(items) - 1; got < ms.threshold {
		return nil, fmt.Errorf("%w: have %d of %d required signatures",
			ErrMissingSignature, got, ms.threshold)
	}
	return items, nil
}

// satisfyVault prefers the stakeholder revocation branch, falling back to the
// timelocked spend branch.
func satisfyVault(vault vaultTemplate, witnessScript []byte, sigs []Signature,
	sequence uint32) (wire.TxWitness, error) {

	if items, err := satisfyMultisig(vault.revokers, sigs); err == nil {
		// Branch selector false: the ELSE branch.
		items = append(items, nil, witnessScript)
		return items, nil
	}

	items, err := satisfyMultisig(vault.spenders, sigs)
	if err != nil {
		return nil, err
	}
	if sequence&sequenceLockTimeDisabled != 0 || sequence&sequenceLockTimeTypeFlag != 0 ||
		sequence&sequenceLockTimeMask < vault.csv {
		return nil, fmt.Errorf("%w: sequence %#x does not satisfy a csv of %d",
			ErrUnmetTimelock, sequence, vault.csv)
	}
	items = append(items, []byte{0x01}, witnessScript)
	return items, nil
}

func findSig(sigs []Signature, pubKey []byte) []byte {
	for _, sig := range sigs {
		if bytes.Equal(sig.PubKey, pubKey) {
			return sig.Sig
		}
	}
	return nil
}
