package vaulttx

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// testSetup holds the keys and descriptors of one vault configuration.
type testSetup struct {
	stakeholders []*btcec.PrivateKey
	managers     []*btcec.PrivateKey
	cosigners    []*btcec.PrivateKey

	depositDesc *scripts.DepositDescriptor
	unvaultDesc *scripts.UnvaultDescriptor
	cpfpDesc    *scripts.CpfpDescriptor
	emergency   scripts.EmergencyAddress
}

func privKeys(t *testing.T, n int) []*btcec.PrivateKey {
	t.Helper()
	keys := make([]*btcec.PrivateKey, n)
	for i := range keys {
		key, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		keys[i] = key
	}
	return keys
}

func pubKeys(keys []*btcec.PrivateKey) []*btcec.PublicKey {
	pubs := make([]*btcec.PublicKey, len(keys))
	for i, key := range keys {
		pubs[i] = key.PubKey()
	}
	return pubs
}

func newTestSetup(t *testing.T, nStakeholders, nManagers int, csv uint32) *testSetup {
	t.Helper()
	s := &testSetup{
		stakeholders: privKeys(t, nStakeholders),
		managers:     privKeys(t, nManagers),
		cosigners:    privKeys(t, nStakeholders),
	}

	var err error
	s.depositDesc, err = scripts.NewDepositDescriptor(pubKeys(s.stakeholders))
	require.NoError(t, err)
	s.unvaultDesc, err = scripts.NewUnvaultDescriptor(pubKeys(s.stakeholders),
		pubKeys(s.managers), pubKeys(s.cosigners), csv)
	require.NoError(t, err)
	s.cpfpDesc, err = scripts.NewCpfpDescriptor(pubKeys(s.managers))
	require.NoError(t, err)

	var scriptHash [32]byte
	scriptHash[0] = 0x5a
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], &chaincfg.MainNetParams)
	require.NoError(t, err)
	s.emergency, err = scripts.NewEmergencyAddress(addr)
	require.NoError(t, err)
	return s
}

// depositTxIn fabricates a confirmed deposit of the given value.
func (s *testSetup) depositTxIn(value int64, seed byte) DepositTxIn {
	var txid chainhash.Hash
	txid[0] = seed
	outPoint := wire.OutPoint{Hash: txid, Index: 0}
	return NewDepositTxIn(outPoint, NewDepositTxOut(value, s.depositDesc))
}

// feeBumpTxIn fabricates a P2WPKH wallet output held by key.
func feeBumpTxIn(t *testing.T, key *btcec.PrivateKey, value int64) FeeBumpTxIn {
	t.Helper()
	spk, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(key.PubKey().SerializeCompressed())).
		Script()
	require.NoError(t, err)

	prevOut, err := NewFeeBumpTxOut(wire.NewTxOut(value, spk))
	require.NoError(t, err)
	var txid chainhash.Hash
	txid[0] = 0xfb
	return NewFeeBumpTxIn(wire.OutPoint{Hash: txid, Index: 0}, prevOut)
}

// signInput collects a signature from each key over the input's digest.
func signInput(t *testing.T, tx *vaultTx, index int, hashType txscript.SigHashType,
	keys []*btcec.PrivateKey) {

	t.Helper()
	hash, err := tx.SignatureHash(index, hashType)
	require.NoError(t, err)
	for _, key := range keys {
		sig := ecdsa.Sign(key, hash)
		previous, err := tx.AddSignature(index, key.PubKey(), sig.Serialize(), hashType)
		require.NoError(t, err)
		require.Nil(t, previous)
	}
}

// signFeeBumpInput signs a P2WPKH fee-bump input with its wallet key.
func signFeeBumpInput(t *testing.T, tx *vaultTx, index int, key *btcec.PrivateKey) {
	t.Helper()
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(key.PubKey().SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	hash, err := tx.FeeBumpSignatureHash(index, scriptCode, txscript.SigHashAll)
	require.NoError(t, err)
	sig := ecdsa.Sign(key, hash)
	_, err = tx.AddSignature(index, key.PubKey(), sig.Serialize(), txscript.SigHashAll)
	require.NoError(t, err)
}

// testDestination builds an opaque P2WSH payout output.
func testDestination(t *testing.T, value int64, seed byte) SpendTxOut {
	t.Helper()
	var scriptHash [32]byte
	scriptHash[0] = seed
	spk, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).AddData(scriptHash[:]).Script()
	require.NoError(t, err)
	return SpendDestinationTxOut(wire.NewTxOut(value, spk))
}

func spenderKeys(s *testSetup) []*btcec.PrivateKey {
	return append(append([]*btcec.PrivateKey{}, s.managers...), s.cosigners...)
}
