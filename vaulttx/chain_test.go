package vaulttx

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

const acp = txscript.SigHashAll | txscript.SigHashAnyOneCanPay

// --- TransactionChain tests ---

func TestTransactionChain(t *testing.T) {
	s := newTestSetup(t, 3, 2, 6)
	const depositValue = 100_000_000
	depositIn := s.depositTxIn(depositValue, 0x01)

	unvaultTx, cancelTx, emergencyTx, unvaultEmergencyTx, err := TransactionChain(
		depositIn, s.depositDesc, s.unvaultDesc, s.cpfpDesc, s.emergency, 0)
	require.NoError(t, err)

	// Unvault values: fees fixed from the worst-case satisfied weight, the
	// fee-acceleration carve-out at its fixed value, the rest to the unvault.
	unvaultShell := int64(unvaultTx.Tx().SerializeSizeStripped()) * 4
	unvaultFees := (unvaultShell + int64(depositIn.MaxSatisfactionWeight())) * UnvaultTxFeerate
	unvaultValue := int64(depositValue) - unvaultFees - UnvaultCPFPValue
	require.Len(t, unvaultTx.Tx().TxOut, 2)
	assert.Equal(t, unvaultValue, unvaultTx.Tx().TxOut[0].Value)
	assert.Equal(t, UnvaultCPFPValue, unvaultTx.Tx().TxOut[1].Value)
	assert.Equal(t, unvaultFees, unvaultTx.Fees())

	// Unvault signing. The sighash type is pinned at creation.
	hash, err := unvaultTx.SignatureHash(0, txscript.SigHashAll)
	require.NoError(t, err)
	sig := ecdsa.Sign(s.stakeholders[0], hash)
	_, err = unvaultTx.AddSignature(0, s.stakeholders[0].PubKey(), sig.Serialize(), acp)
	assert.ErrorIs(t, err, ErrUnexpectedSighashType)

	assert.False(t, unvaultTx.IsFinalizable())
	signInput(t, &unvaultTx.vaultTx, 0, txscript.SigHashAll, s.stakeholders)
	assert.True(t, unvaultTx.IsFinalizable())
	assert.False(t, unvaultTx.IsFinalized())

	require.NoError(t, unvaultTx.Finalize())
	assert.True(t, unvaultTx.IsFinalized())
	assert.True(t, unvaultTx.IsValid())

	_, err = unvaultTx.AddSignature(0, s.stakeholders[0].PubKey(), sig.Serialize(),
		txscript.SigHashAll)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	// Cancel pays back to a deposit, minus its own fixed fees.
	cancelShell := int64(cancelTx.Tx().SerializeSizeStripped()) * 4
	unvaultSatWeight := int64(s.unvaultDesc.MaxSatisfactionWeight())
	cancelValue := unvaultValue - (cancelShell+unvaultSatWeight)*RevaultingTxFeerate
	require.Len(t, cancelTx.Tx().TxOut, 1)
	assert.Equal(t, cancelValue, cancelTx.Tx().TxOut[0].Value)
	assert.Equal(t, s.depositDesc.ScriptPubKey(), cancelTx.Tx().TxOut[0].PkScript)

	signInput(t, &cancelTx.vaultTx, 0, acp, s.stakeholders)
	require.NoError(t, cancelTx.Finalize())
	assert.True(t, cancelTx.IsValid())

	// Emergency drains the deposit itself.
	emergencyShell := int64(emergencyTx.Tx().SerializeSizeStripped()) * 4
	depositSatWeight := int64(depositIn.MaxSatisfactionWeight())
	emergencyValue := int64(depositValue) - (emergencyShell+depositSatWeight)*RevaultingTxFeerate
	require.Len(t, emergencyTx.Tx().TxOut, 1)
	assert.Equal(t, emergencyValue, emergencyTx.Tx().TxOut[0].Value)
	assert.Equal(t, s.emergency.ScriptPubKey(), emergencyTx.Tx().TxOut[0].PkScript)
	// The emergency destination is opaque: no output witness script.
	assert.Empty(t, emergencyTx.Packet().Outputs[0].WitnessScript)

	signInput(t, &emergencyTx.vaultTx, 0, acp, s.stakeholders)
	require.NoError(t, emergencyTx.Finalize())
	assert.True(t, emergencyTx.IsValid())

	// Unvault-emergency drains the unvault output.
	signInput(t, &unvaultEmergencyTx.vaultTx, 0, acp, s.stakeholders)
	require.NoError(t, unvaultEmergencyTx.Finalize())
	assert.True(t, unvaultEmergencyTx.IsValid())
}

func TestTransactionChain_DustDeposit(t *testing.T) {
	// With 2 stakeholders the unvault of a deposit needs exactly 234632 sats
	// to carve out the fee-acceleration value and a dust-floor output.
	s := newTestSetup(t, 2, 1, 6)

	_, _, err := TransactionChainManager(s.depositTxIn(234_631, 0x01),
		s.depositDesc, s.unvaultDesc, s.cpfpDesc, 0)
	assert.ErrorIs(t, err, ErrDust)

	unvaultTx, cancelTx, err := TransactionChainManager(s.depositTxIn(234_632, 0x01),
		s.depositDesc, s.unvaultDesc, s.cpfpDesc, 0)
	require.NoError(t, err)
	assert.Equal(t, DustLimit, unvaultTx.Tx().TxOut[0].Value)

	// The derived cancel pays below the dust floor. That floor only binds the
	// unvault constructor; the revocation chain exists regardless.
	cancelShell := int64(cancelTx.Tx().SerializeSizeStripped()) * 4
	cancelFees := (cancelShell + int64(s.unvaultDesc.MaxSatisfactionWeight())) *
		RevaultingTxFeerate
	assert.Equal(t, DustLimit-cancelFees, cancelTx.Tx().TxOut[0].Value)
	assert.Less(t, cancelTx.Tx().TxOut[0].Value, DustLimit)
}

func TestTransactionChain_LargeQuorum(t *testing.T) {
	s := newTestSetup(t, 8, 3, 144)
	const depositValue int64 = 100_000_000

	unvaultTx, cancelTx, emergencyTx, unvaultEmergencyTx, err := TransactionChain(
		s.depositTxIn(depositValue, 0x01), s.depositDesc, s.unvaultDesc, s.cpfpDesc,
		s.emergency, 0)
	require.NoError(t, err)

	// A 1-input 2-output P2WSH shell weighs 548 WU witness-stripped.
	depositSatWeight := int64(s.depositDesc.MaxSatisfactionWeight())
	expected := depositValue - (548+depositSatWeight)*UnvaultTxFeerate - UnvaultCPFPValue
	assert.Equal(t, expected, unvaultTx.Tx().TxOut[0].Value)

	signInput(t, &unvaultTx.vaultTx, 0, txscript.SigHashAll, s.stakeholders)
	require.NoError(t, unvaultTx.Finalize())
	assert.True(t, unvaultTx.IsValid())

	for _, tx := range []*vaultTx{&cancelTx.vaultTx, &emergencyTx.vaultTx,
		&unvaultEmergencyTx.vaultTx} {
		signInput(t, tx, 0, acp, s.stakeholders)
		require.NoError(t, tx.Finalize())
		assert.True(t, tx.IsValid())
	}
}

func TestCancelTransaction_FeeUnderflow(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)

	// The fees alone exceed the revoked value.
	unvaultIn := NewUnvaultTxIn(wire.OutPoint{}, NewUnvaultTxOut(10_000, s.unvaultDesc),
		RBFSequence)
	_, err := NewCancelTransaction(unvaultIn, nil, s.depositDesc, 0)
	assert.ErrorIs(t, err, ErrDust)

	// A revoked value just above the fees yields a sub-dust cancel output.
	unvaultIn = NewUnvaultTxIn(wire.OutPoint{}, NewUnvaultTxOut(210_000, s.unvaultDesc),
		RBFSequence)
	cancelTx, err := NewCancelTransaction(unvaultIn, nil, s.depositDesc, 0)
	require.NoError(t, err)
	shell := int64(cancelTx.Tx().SerializeSizeStripped()) * 4
	fees := (shell + int64(s.unvaultDesc.MaxSatisfactionWeight())) * RevaultingTxFeerate
	assert.Equal(t, 210_000-fees, cancelTx.Tx().TxOut[0].Value)
	assert.Less(t, cancelTx.Tx().TxOut[0].Value, DustLimit)
}

// --- Fee-bump tests ---

func TestCancelTransaction_FeeBump(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)
	unvaultTx, err := NewUnvaultTransaction(s.depositTxIn(1_000_000, 0x01),
		s.unvaultDesc, s.cpfpDesc, 0)
	require.NoError(t, err)
	unvaultIn := unvaultTx.SpendUnvaultTxIn(s.unvaultDesc, RBFSequence)

	plain, err := NewCancelTransaction(unvaultIn, nil, s.depositDesc, 0)
	require.NoError(t, err)

	walletKey := privKeys(t, 1)[0]
	bumpIn := feeBumpTxIn(t, walletKey, 50_000)
	bumped, err := NewCancelTransaction(unvaultIn, &bumpIn, s.depositDesc, 0)
	require.NoError(t, err)

	// The fee-bump input must not change the pre-signed output value, nor the
	// ALL|ANYONECANPAY digest the stakeholders sign.
	assert.Equal(t, plain.Tx().TxOut[0].Value, bumped.Tx().TxOut[0].Value)
	plainHash, err := plain.SignatureHash(0, acp)
	require.NoError(t, err)
	bumpedHash, err := bumped.SignatureHash(0, acp)
	require.NoError(t, err)
	assert.Equal(t, plainHash, bumpedHash)

	require.Len(t, bumped.Tx().TxIn, 2)
	signInput(t, &bumped.vaultTx, 0, acp, s.stakeholders)
	assert.False(t, bumped.IsFinalizable())
	signFeeBumpInput(t, &bumped.vaultTx, 1, walletKey)
	assert.True(t, bumped.IsFinalizable())

	require.NoError(t, bumped.Finalize())
	assert.True(t, bumped.IsValid())
	// The wallet input value goes entirely to fees.
	assert.Equal(t, plain.Fees()+50_000, bumped.Fees())
}

func TestEmergencyTransaction_FeeBump(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)
	walletKey := privKeys(t, 1)[0]
	bumpIn := feeBumpTxIn(t, walletKey, 40_000)

	emergencyTx, err := NewEmergencyTransaction(s.depositTxIn(1_000_000, 0x02),
		&bumpIn, s.emergency, 0)
	require.NoError(t, err)

	signInput(t, &emergencyTx.vaultTx, 0, acp, s.stakeholders)
	signFeeBumpInput(t, &emergencyTx.vaultTx, 1, walletKey)
	require.NoError(t, emergencyTx.Finalize())
	assert.True(t, emergencyTx.IsValid())
}

// --- Spend tests ---

func TestSpendTransaction(t *testing.T) {
	s := newTestSetup(t, 3, 2, 6)
	unvaultTx, err := NewUnvaultTransaction(s.depositTxIn(100_000_000, 0x01),
		s.unvaultDesc, s.cpfpDesc, 0)
	require.NoError(t, err)

	spendIn := unvaultTx.SpendUnvaultTxIn(s.unvaultDesc, s.unvaultDesc.CSV())
	destination := testDestination(t, 99_000_000, 0xd0)
	spendTx, err := NewSpendTransaction([]UnvaultTxIn{spendIn},
		[]SpendTxOut{destination}, s.cpfpDesc, 0, true)
	require.NoError(t, err)

	// The fee-acceleration output comes first and is sized from the total
	// satisfied weight.
	weight := int64(spendTx.Tx().SerializeSizeStripped())*4 +
		int64(spendIn.MaxSatisfactionWeight())
	require.Len(t, spendTx.Tx().TxOut, 2)
	assert.Equal(t, 2*32*weight, spendTx.Tx().TxOut[0].Value)
	assert.Equal(t, s.cpfpDesc.ScriptPubKey(), spendTx.Tx().TxOut[0].PkScript)

	signInput(t, &spendTx.vaultTx, 0, txscript.SigHashAll, spenderKeys(s))
	require.NoError(t, spendTx.Finalize())
	assert.True(t, spendTx.IsValid())

	// The spend path witness selects the IF branch.
	raw, err := spendTx.BroadcastBytes()
	require.NoError(t, err)
	var final wire.MsgTx
	require.NoError(t, final.Deserialize(bytes.NewReader(raw)))
	witness := final.TxIn[0].Witness
	assert.Equal(t, []byte{0x01}, []byte(witness[len(witness)-2]))
	assert.Equal(t, s.unvaultDesc.WitnessScript(), []byte(witness[len(witness)-1]))
}

func TestSpendTransaction_UnmetTimelock(t *testing.T) {
	s := newTestSetup(t, 3, 2, 6)
	unvaultTx, err := NewUnvaultTransaction(s.depositTxIn(100_000_000, 0x01),
		s.unvaultDesc, s.cpfpDesc, 0)
	require.NoError(t, err)

	// One block short of the relative timelock.
	spendIn := unvaultTx.SpendUnvaultTxIn(s.unvaultDesc, s.unvaultDesc.CSV()-1)
	spendTx, err := NewSpendTransaction([]UnvaultTxIn{spendIn},
		[]SpendTxOut{testDestination(t, 99_000_000, 0xd0)}, s.cpfpDesc, 0, true)
	require.NoError(t, err)

	signInput(t, &spendTx.vaultTx, 0, txscript.SigHashAll, spenderKeys(s))
	assert.False(t, spendTx.IsFinalizable())
	err = spendTx.Finalize()
	assert.ErrorIs(t, err, ErrTransactionFinalisation)
	assert.ErrorIs(t, err, scripts.ErrUnmetTimelock)
}

func TestSpendTransaction_Params(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)

	_, err := NewSpendTransaction(nil, []SpendTxOut{testDestination(t, DustLimit, 0xd0)},
		s.cpfpDesc, 0, true)
	assert.ErrorIs(t, err, ErrInvalidInputCount)

	unvaultIn := NewUnvaultTxIn(wire.OutPoint{},
		NewUnvaultTxOut(10_000_000, s.unvaultDesc), s.unvaultDesc.CSV())

	_, err = NewSpendTransaction([]UnvaultTxIn{unvaultIn},
		[]SpendTxOut{testDestination(t, DustLimit-1, 0xd0)}, s.cpfpDesc, 0, true)
	assert.ErrorIs(t, err, ErrDust)

	// Outputs above the inputs.
	_, err = NewSpendTransaction([]UnvaultTxIn{unvaultIn},
		[]SpendTxOut{testDestination(t, 11_000_000, 0xd0)}, s.cpfpDesc, 0, true)
	assert.ErrorIs(t, err, ErrDust)
}

func TestSpendTransactionFromDeposits(t *testing.T) {
	s := newTestSetup(t, 2, 2, 12)

	deposits := make([]DepositTxIn, 4)
	for i := range deposits {
		deposits[i] = s.depositTxIn(int64(i+1)*1_000_000, byte(i+1))
	}
	change := SpendChangeTxOut(NewDepositTxOut(8_000_000, s.depositDesc))
	outs := []SpendTxOut{testDestination(t, 500_000, 0xd0), change}

	spendTx, err := SpendTransactionFromDeposits(deposits, outs, s.unvaultDesc,
		s.cpfpDesc, 0, true)
	require.NoError(t, err)

	require.Len(t, spendTx.Tx().TxIn, 4)
	for _, txIn := range spendTx.Tx().TxIn {
		assert.Equal(t, s.unvaultDesc.CSV(), txIn.Sequence)
	}
	require.Len(t, spendTx.Tx().TxOut, 3)
	// The change output carries the deposit witness script, the destination
	// stays opaque.
	assert.Empty(t, spendTx.Packet().Outputs[1].WitnessScript)
	assert.Equal(t, s.depositDesc.WitnessScript(),
		spendTx.Packet().Outputs[2].WitnessScript)

	// Each input has its own digest and is satisfied on its own.
	for i := range deposits {
		signInput(t, &spendTx.vaultTx, i, txscript.SigHashAll, spenderKeys(s))
	}
	require.NoError(t, spendTx.Finalize())
	assert.True(t, spendTx.IsValid())
}

// --- Signer-role tests ---

func TestAddSignature_Replace(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)
	unvaultTx, err := NewUnvaultTransaction(s.depositTxIn(1_000_000, 0x01),
		s.unvaultDesc, s.cpfpDesc, 0)
	require.NoError(t, err)

	hash, err := unvaultTx.SignatureHash(0, txscript.SigHashAll)
	require.NoError(t, err)
	key := s.stakeholders[0]
	first := append(ecdsa.Sign(key, hash).Serialize(), byte(txscript.SigHashAll))

	previous, err := unvaultTx.AddSignature(0, key.PubKey(), first[:len(first)-1],
		txscript.SigHashAll)
	require.NoError(t, err)
	assert.Nil(t, previous)

	previous, err = unvaultTx.AddSignature(0, key.PubKey(), first[:len(first)-1],
		txscript.SigHashAll)
	require.NoError(t, err)
	assert.Equal(t, first, previous)
	assert.Len(t, unvaultTx.Packet().Inputs[0].PartialSigs, 1)
}

func TestSignatureHash_Bounds(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)
	unvaultTx, err := NewUnvaultTransaction(s.depositTxIn(1_000_000, 0x01),
		s.unvaultDesc, s.cpfpDesc, 0)
	require.NoError(t, err)

	_, err = unvaultTx.SignatureHash(1, txscript.SigHashAll)
	assert.ErrorIs(t, err, ErrInputOutOfBounds)
	_, err = unvaultTx.AddSignature(-1, s.stakeholders[0].PubKey(), nil,
		txscript.SigHashAll)
	assert.ErrorIs(t, err, ErrInputOutOfBounds)
}

func TestTxFees_Insane(t *testing.T) {
	tx := wire.NewMsgTx(TxVersion)
	_, err := txFees(tx, UnvaultTxFeerate, 10_000_000)
	assert.ErrorIs(t, err, ErrInsaneFees)
}

// --- Foreign transaction tests ---

func TestForeignTransactions(t *testing.T) {
	s := newTestSetup(t, 2, 1, 6)

	funding := wire.NewMsgTx(TxVersion)
	funding.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	funding.AddTxOut(wire.NewTxOut(500_000, s.depositDesc.ScriptPubKey()))
	funding.AddTxOut(wire.NewTxOut(100_000, s.cpfpDesc.ScriptPubKey()))
	deposit := DepositTransaction{Tx: funding}

	depositIn, err := deposit.DepositTxIn(wire.OutPoint{Hash: funding.TxHash()},
		s.depositDesc)
	require.NoError(t, err)
	assert.EqualValues(t, 500_000, depositIn.PrevOut().Value())

	_, err = deposit.DepositTxIn(wire.OutPoint{Index: 0}, s.depositDesc)
	assert.ErrorIs(t, err, ErrForeignOutpoint)
	_, err = deposit.DepositTxIn(wire.OutPoint{Hash: funding.TxHash(), Index: 5},
		s.depositDesc)
	assert.ErrorIs(t, err, ErrForeignOutpoint)
	// Output 1 does not pay to the deposit script.
	_, err = deposit.DepositTxIn(wire.OutPoint{Hash: funding.TxHash(), Index: 1},
		s.depositDesc)
	assert.ErrorIs(t, err, ErrForeignOutpoint)

	walletKey := privKeys(t, 1)[0]
	wallet := wire.NewMsgTx(TxVersion)
	wallet.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	wallet.AddTxOut(feeBumpTxIn(t, walletKey, 42_000).PrevOut().TxOut())
	wallet.AddTxOut(wire.NewTxOut(10_000, s.depositDesc.ScriptPubKey()))
	feeBump := FeeBumpTransaction{Tx: wallet}

	bumpIn, err := feeBump.FeeBumpTxIn(wire.OutPoint{Hash: wallet.TxHash()})
	require.NoError(t, err)
	assert.EqualValues(t, 42_000, bumpIn.PrevOut().Value())

	_, err = feeBump.FeeBumpTxIn(wire.OutPoint{Hash: wallet.TxHash(), Index: 1})
	assert.ErrorIs(t, err, ErrInvalidFeeBumpOutput)
}
