package vaulttx

import (
	"github.com/bitvaultorg/libvaulttx-go/scripts"
)

// TransactionChainManager derives the part of the pre-signed chain the
// managers care about: the unvault transaction and its cancel. The cancel
// spends through the revocation branch, which carries no timelock, so its
// input is created replaceable.
func TransactionChainManager(depositInput DepositTxIn,
	depositDesc *scripts.DepositDescriptor, unvaultDesc *scripts.UnvaultDescriptor,
	cpfpDesc *scripts.CpfpDescriptor,
	lockTime uint32) (*UnvaultTransaction, *CancelTransaction, error) {

	unvaultTx, err := NewUnvaultTransaction(depositInput, unvaultDesc, cpfpDesc, lockTime)
	if err != nil {
		return nil, nil, err
	}

	cancelInput := unvaultTx.SpendUnvaultTxIn(unvaultDesc, RBFSequence)
	cancelTx, err := NewCancelTransaction(cancelInput, nil, depositDesc, lockTime)
	if err != nil {
		return nil, nil, err
	}
	return unvaultTx, cancelTx, nil
}

// TransactionChain derives the complete pre-signed chain protecting a
// deposit: unvault, cancel, emergency and unvault-emergency. None of the
// revocation transactions carries a fee-bump input; those are attached at
// broadcast time.
func TransactionChain(depositInput DepositTxIn,
	depositDesc *scripts.DepositDescriptor, unvaultDesc *scripts.UnvaultDescriptor,
	cpfpDesc *scripts.CpfpDescriptor, emergencyAddr scripts.EmergencyAddress,
	lockTime uint32) (*UnvaultTransaction, *CancelTransaction,
	*EmergencyTransaction, *UnvaultEmergencyTransaction, error) {

	unvaultTx, cancelTx, err := TransactionChainManager(depositInput, depositDesc,
		unvaultDesc, cpfpDesc, lockTime)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	emergencyTx, err := NewEmergencyTransaction(depositInput, nil, emergencyAddr, lockTime)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	unvaultEmergencyInput := unvaultTx.SpendUnvaultTxIn(unvaultDesc, RBFSequence)
	unvaultEmergencyTx, err := NewUnvaultEmergencyTransaction(unvaultEmergencyInput,
		nil, emergencyAddr, lockTime)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return unvaultTx, cancelTx, emergencyTx, unvaultEmergencyTx, nil
}

// SpendTransactionFromDeposits derives the unvault transaction of every
// deposit and batches their unvault outputs into a single spend transaction.
// Convenience for fee estimation and chain inspection; each unvault
// transaction still has to be built and signed on its own to be broadcast.
func SpendTransactionFromDeposits(depositInputs []DepositTxIn, spendTxOuts []SpendTxOut,
	unvaultDesc *scripts.UnvaultDescriptor, cpfpDesc *scripts.CpfpDescriptor,
	lockTime uint32, insaneFeeCheck bool) (*SpendTransaction, error) {

	unvaultInputs := make([]UnvaultTxIn, 0, len(depositInputs))
	for _, depositInput := range depositInputs {
		unvaultTx, err := NewUnvaultTransaction(depositInput, unvaultDesc, cpfpDesc, lockTime)
		if err != nil {
			return nil, err
		}
		unvaultInputs = append(unvaultInputs,
			unvaultTx.SpendUnvaultTxIn(unvaultDesc, unvaultDesc.CSV()))
	}
	return NewSpendTransaction(unvaultInputs, spendTxOuts, cpfpDesc, lockTime, insaneFeeCheck)
}
