// Package scripts derives the spending conditions of the vault custody
// protocol: the deposit, unvault and CPFP witness scripts, the emergency
// address wrapper, and the satisfaction engine assembling final witnesses
// from collected signatures.
package scripts

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const (
	// maxSignatureSize is the size of a worst-case DER-encoded ECDSA
	// signature plus the sighash type byte.
	maxSignatureSize = 73

	// maxMultisigKeys is the consensus limit on OP_CHECKMULTISIG keys.
	maxMultisigKeys = 20

	// maxCSVValue is the largest height-based relative timelock expressible
	// in a sequence number.
	maxCSVValue = 0xffff
)

// DepositDescriptor describes a deposit output: an N-of-N multisig among the
// stakeholders, wrapped in P2WSH.
type DepositDescriptor struct {
	stakeholders  []*btcec.PublicKey
	witnessScript []byte
	scriptPubKey  []byte
}

// NewDepositDescriptor derives the deposit spending conditions from the
// stakeholder public keys. At least two stakeholders are required.
func NewDepositDescriptor(stakeholders []*btcec.PublicKey) (*DepositDescriptor, error) {
	if len(stakeholders) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 stakeholder keys, have %d",
			ErrInvalidParams, len(stakeholders))
	}
	if len(stakeholders) > maxMultisigKeys {
		return nil, fmt.Errorf("%w: at most %d stakeholder keys, have %d",
			ErrInvalidParams, maxMultisigKeys, len(stakeholders))
	}

	ws, err := multisigScript(len(stakeholders), stakeholders)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	return &DepositDescriptor{
		stakeholders:  stakeholders,
		witnessScript: ws,
		scriptPubKey:  witnessScriptHash(ws),
	}, nil
}

// WitnessScript returns the deposit witness script.
func (d *DepositDescriptor) WitnessScript() []byte { return d.witnessScript }

// ScriptPubKey returns the P2WSH scriptPubKey committing to the witness script.
func (d *DepositDescriptor) ScriptPubKey() []byte { return d.scriptPubKey }

// MaxSatisfactionWeight returns an upper bound on the weight added to a
// transaction by satisfying a deposit input: the serialized witness holding
// the CHECKMULTISIG dummy, one signature per stakeholder and the witness
// script.
func (d *DepositDescriptor) MaxSatisfactionWeight() int {
	n := len(d.stakeholders)
	return satisfactionWeight(len(d.witnessScript), n+1, 1+maxSignatureSize*n)
}

// UnvaultDescriptor describes an unvault output. It is spendable either by
// all stakeholders at once (the revocation path) or by the managers together
// with the cosigners after a relative timelock (the spend path).
type UnvaultDescriptor struct {
	stakeholders  []*btcec.PublicKey
	managers      []*btcec.PublicKey
	cosigners     []*btcec.PublicKey
	csv           uint32
	witnessScript []byte
	scriptPubKey  []byte
}

// NewUnvaultDescriptor derives the unvault spending conditions. There must be
// one cosigner per stakeholder, and csv must be a non-zero height-based
// relative timelock.
func NewUnvaultDescriptor(stakeholders, managers, cosigners []*btcec.PublicKey,
	csv uint32) (*UnvaultDescriptor, error) {

	if len(stakeholders) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 stakeholder keys, have %d",
			ErrInvalidParams, len(stakeholders))
	}
	if len(managers) == 0 {
		return nil, fmt.Errorf("%w: need at least 1 manager key", ErrInvalidParams)
	}
	if len(cosigners) != len(stakeholders) {
		return nil, fmt.Errorf("%w: need one cosigner per stakeholder, have %d for %d",
			ErrInvalidParams, len(cosigners), len(stakeholders))
	}
	if len(stakeholders) > maxMultisigKeys || len(managers)+len(cosigners) > maxMultisigKeys {
		return nil, fmt.Errorf("%w: multisig key count above %d", ErrInvalidParams, maxMultisigKeys)
	}
	if csv == 0 || csv > maxCSVValue {
		return nil, fmt.Errorf("%w: csv %d outside (0, %d]", ErrInvalidParams, csv, maxCSVValue)
	}

	spenders := make([]*btcec.PublicKey, 0, len(managers)+len(cosigners))
	spenders = append(spenders, managers...)
	spenders = append(spenders, cosigners...)

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddInt64(int64(csv))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	appendMultisig(builder, len(spenders), spenders)
	builder.AddOp(txscript.OP_ELSE)
	appendMultisig(builder, len(stakeholders), stakeholders)
	builder.AddOp(txscript.OP_ENDIF)
	ws, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	return &UnvaultDescriptor{
		stakeholders:  stakeholders,
		managers:      managers,
		cosigners:     cosigners,
		csv:           csv,
		witnessScript: ws,
		scriptPubKey:  witnessScriptHash(ws),
	}, nil
}

// WitnessScript returns the unvault witness script.
func (d *UnvaultDescriptor) WitnessScript() []byte { return d.witnessScript }

// ScriptPubKey returns the P2WSH scriptPubKey committing to the witness script.
func (d *UnvaultDescriptor) ScriptPubKey() []byte { return d.scriptPubKey }

// CSV returns the relative timelock of the spend path.
func (d *UnvaultDescriptor) CSV() uint32 { return d.csv }

// MaxSatisfactionWeight returns an upper bound on the weight added by
// satisfying an unvault input, whichever spending path is the heavier.
func (d *UnvaultDescriptor) MaxSatisfactionWeight() int {
	nStk := len(d.stakeholders)
	nSpend := len(d.managers) + len(d.cosigners)

	// Revocation path: dummy, one signature per stakeholder, empty branch
	// selector. Spend path: dummy, one signature per manager and cosigner,
	// one-byte branch selector.
	stkElems, stkSize := nStk+2, 1+maxSignatureSize*nStk+1
	spendElems, spendSize := nSpend+2, 1+maxSignatureSize*nSpend+2

	stk := wire.VarIntSerializeSize(uint64(stkElems)) + stkSize
	spend := wire.VarIntSerializeSize(uint64(spendElems)) + spendSize
	worst := stk
	if spend > worst {
		worst = spend
	}
	return 4 + wire.VarIntSerializeSize(uint64(len(d.witnessScript))) +
		len(d.witnessScript) + worst
}

// CpfpDescriptor describes the fee-acceleration output: a 1-of-M multisig
// among the managers, wrapped in P2WSH.
type CpfpDescriptor struct {
	managers      []*btcec.PublicKey
	witnessScript []byte
	scriptPubKey  []byte
}

// NewCpfpDescriptor derives the fee-acceleration spending conditions from the
// manager public keys.
func NewCpfpDescriptor(managers []*btcec.PublicKey) (*CpfpDescriptor, error) {
	if len(managers) == 0 {
		return nil, fmt.Errorf("%w: need at least 1 manager key", ErrInvalidParams)
	}
	if len(managers) > maxMultisigKeys {
		return nil, fmt.Errorf("%w: at most %d manager keys, have %d",
			ErrInvalidParams, maxMultisigKeys, len(managers))
	}

	ws, err := multisigScript(1, managers)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	return &CpfpDescriptor{
		managers:      managers,
		witnessScript: ws,
		scriptPubKey:  witnessScriptHash(ws),
	}, nil
}

// WitnessScript returns the fee-acceleration witness script.
func (d *CpfpDescriptor) WitnessScript() []byte { return d.witnessScript }

// ScriptPubKey returns the P2WSH scriptPubKey committing to the witness script.
func (d *CpfpDescriptor) ScriptPubKey() []byte { return d.scriptPubKey }

// MaxSatisfactionWeight returns an upper bound on the weight added by
// satisfying a fee-acceleration input (dummy plus a single signature).
func (d *CpfpDescriptor) MaxSatisfactionWeight() int {
	return satisfactionWeight(len(d.witnessScript), 2, 1+maxSignatureSize)
}

// EmergencyAddress is the disaster-recovery destination. Its script is opaque
// to the protocol; only P2WSH addresses are accepted.
type EmergencyAddress struct {
	addr         btcutil.Address
	scriptPubKey []byte
}

// NewEmergencyAddress wraps addr, rejecting anything that is not P2WSH.
func NewEmergencyAddress(addr btcutil.Address) (EmergencyAddress, error) {
	if _, ok := addr.(*btcutil.AddressWitnessScriptHash); !ok {
		return EmergencyAddress{}, fmt.Errorf("%w: %T", ErrNotP2WSH, addr)
	}
	spk, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return EmergencyAddress{}, fmt.Errorf("%w: %w", ErrNotP2WSH, err)
	}
	return EmergencyAddress{addr: addr, scriptPubKey: spk}, nil
}

// Address returns the wrapped address.
func (a EmergencyAddress) Address() btcutil.Address { return a.addr }

// ScriptPubKey returns the P2WSH scriptPubKey of the emergency destination.
func (a EmergencyAddress) ScriptPubKey() []byte { return a.scriptPubKey }

// multisigScript builds a <threshold> <keys...> <n> OP_CHECKMULTISIG witness
// script.
func multisigScript(threshold int, keys []*btcec.PublicKey) ([]byte, error) {
	builder := txscript.NewScriptBuilder()
	appendMultisig(builder, threshold, keys)
	return builder.Script()
}

func appendMultisig(builder *txscript.ScriptBuilder, threshold int, keys []*btcec.PublicKey) {
	builder.AddInt64(int64(threshold))
	for _, key := range keys {
		builder.AddData(key.SerializeCompressed())
	}
	builder.AddInt64(int64(len(keys)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
}

// witnessScriptHash returns the segwit v0 P2WSH scriptPubKey for ws.
func witnessScriptHash(ws []byte) []byte {
	h := sha256.Sum256(ws)
	spk, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(h[:]).Script()
	if err != nil {
		// Only reachable on a builder programming error, the push is fixed-size.
		panic(err)
	}
	return spk
}

// satisfactionWeight accounts for the serialized witness: the stack item
// count, the satisfaction items and the trailing witness script push.
func satisfactionWeight(scriptLen, elems, satSize int) int {
	return 4 + wire.VarIntSerializeSize(uint64(scriptLen)) + scriptLen +
		wire.VarIntSerializeSize(uint64(elems)) + satSize
}
