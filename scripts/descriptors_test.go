package scripts

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testKeys derives n deterministic public keys.
func testKeys(t *testing.T, n int) []*btcec.PublicKey {
	t.Helper()
	keys := make([]*btcec.PublicKey, n)
	for i := range keys {
		var seed [32]byte
		seed[31] = byte(i + 1)
		_, keys[i] = btcec.PrivKeyFromBytes(seed[:])
	}
	return keys
}

func assertCommitsTo(t *testing.T, scriptPubKey, witnessScript []byte) {
	t.Helper()
	require.Len(t, scriptPubKey, 34)
	require.True(t, txscript.IsPayToWitnessScriptHash(scriptPubKey))
	h := sha256.Sum256(witnessScript)
	assert.Equal(t, h[:], scriptPubKey[2:])
}

// --- DepositDescriptor tests ---

func TestDepositDescriptor(t *testing.T) {
	keys := testKeys(t, 2)
	desc, err := NewDepositDescriptor(keys)
	require.NoError(t, err)

	assertCommitsTo(t, desc.ScriptPubKey(), desc.WitnessScript())
	// 2-of-2: OP_2 <key> <key> OP_2 OP_CHECKMULTISIG.
	assert.Len(t, desc.WitnessScript(), 71)
	assert.Equal(t, 224, desc.MaxSatisfactionWeight())
}

func TestDepositDescriptor_KeyCount(t *testing.T) {
	_, err := NewDepositDescriptor(testKeys(t, 1))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewDepositDescriptor(testKeys(t, 21))
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewDepositDescriptor(testKeys(t, 20))
	assert.NoError(t, err)
}

// --- UnvaultDescriptor tests ---

func TestUnvaultDescriptor(t *testing.T) {
	keys := testKeys(t, 7)
	stakeholders, managers, cosigners := keys[:2], keys[2:5], keys[5:7]

	desc, err := NewUnvaultDescriptor(stakeholders, managers, cosigners, 18)
	require.NoError(t, err)
	assertCommitsTo(t, desc.ScriptPubKey(), desc.WitnessScript())
	assert.EqualValues(t, 18, desc.CSV())

	ws := desc.WitnessScript()
	assert.EqualValues(t, txscript.OP_IF, ws[0])
	assert.EqualValues(t, txscript.OP_ENDIF, ws[len(ws)-1])

	// The spend branch carries more keys than the revocation branch here, so
	// it dominates the weight bound.
	nSpend := len(managers) + len(cosigners)
	expected := 4 + 1 + len(ws) + 1 + 1 + 73*nSpend + 2
	assert.Equal(t, expected, desc.MaxSatisfactionWeight())
}

func TestUnvaultDescriptor_Params(t *testing.T) {
	keys := testKeys(t, 6)
	stakeholders, managers, cosigners := keys[:2], keys[2:4], keys[4:6]

	_, err := NewUnvaultDescriptor(stakeholders[:1], managers, cosigners, 6)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewUnvaultDescriptor(stakeholders, nil, cosigners, 6)
	assert.ErrorIs(t, err, ErrInvalidParams)

	// One cosigner per stakeholder.
	_, err = NewUnvaultDescriptor(stakeholders, managers, cosigners[:1], 6)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewUnvaultDescriptor(stakeholders, managers, cosigners, 0)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewUnvaultDescriptor(stakeholders, managers, cosigners, 0x10000)
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewUnvaultDescriptor(stakeholders, managers, cosigners, 0xffff)
	assert.NoError(t, err)
}

// --- CpfpDescriptor tests ---

func TestCpfpDescriptor(t *testing.T) {
	desc, err := NewCpfpDescriptor(testKeys(t, 3))
	require.NoError(t, err)
	assertCommitsTo(t, desc.ScriptPubKey(), desc.WitnessScript())

	// Any single manager can spend: dummy plus one signature.
	expected := 4 + 1 + len(desc.WitnessScript()) + 1 + 1 + 73
	assert.Equal(t, expected, desc.MaxSatisfactionWeight())

	_, err = NewCpfpDescriptor(nil)
	assert.ErrorIs(t, err, ErrInvalidParams)
}

// --- EmergencyAddress tests ---

func TestEmergencyAddress(t *testing.T) {
	var scriptHash [32]byte
	scriptHash[0] = 0xab
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], &chaincfg.MainNetParams)
	require.NoError(t, err)

	emer, err := NewEmergencyAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, emer.Address())
	require.Len(t, emer.ScriptPubKey(), 34)
	assert.Equal(t, scriptHash[:], emer.ScriptPubKey()[2:])
}

func TestEmergencyAddress_NotP2WSH(t *testing.T) {
	var keyHash [20]byte
	addr, err := btcutil.NewAddressWitnessPubKeyHash(keyHash[:], &chaincfg.MainNetParams)
	require.NoError(t, err)

	_, err = NewEmergencyAddress(addr)
	assert.ErrorIs(t, err, ErrNotP2WSH)
}
