// Package validate implements the block, transaction and stake admission
// predicates (spec.md §4.6): the staged structural checks run against the
// fork tree plus a dynamic fork's replayed state, and the per-tx/per-stake
// rules shared between pending-pool admission and block acceptance.
package validate

import (
	"driftchain/amount"
	"driftchain/block"
	"driftchain/params"
	"driftchain/stake"
	"driftchain/state"
	"driftchain/transaction"
	"driftchain/tree"
	"driftchain/xcrypto"
)

// Transaction runs the admission predicates for tx against fork, given the
// upper timestamp bound blockTimestamp this transaction is being considered
// for inclusion under.
func Transaction(tx *transaction.Transaction, fork *state.State, blockTimestamp uint32) error {
	amt := amount.Decode(tx.Amount)
	if amt.Sign() == 0 {
		return ErrTransactionAmountZero
	}
	fee := amount.Decode(tx.Fee)
	if fee.Sign() == 0 {
		return ErrTransactionFeeZero
	}
	if !amount.IsFloor(amt) {
		return ErrTransactionAmountFloor
	}
	if !amount.IsFloor(fee) {
		return ErrTransactionFeeFloor
	}
	input, err := tx.InputAddress()
	if err != nil {
		return ErrKey
	}
	if input == tx.OutputAddress {
		return ErrTransactionInputOutput
	}
	if tx.Timestamp > blockTimestamp {
		return ErrTransactionTimestampFuture
	}
	latest := fork.LatestBlock
	if latest != nil && tx.Timestamp+params.Elapsed < latest.Timestamp {
		return ErrTransactionTimestamp
	}
	if fork.ContainsTransaction(tx.Hash()) {
		return ErrTransactionInChain
	}
	return nil
}

// Stake runs the admission predicates for st against fork. Amount checks
// are omitted — stake carries no amount field (spec.md §9).
func Stake(st *stake.Stake, fork *state.State, blockTimestamp uint32) error {
	fee := amount.Decode(st.Fee)
	if fee.Sign() == 0 {
		return ErrStakeFeeZero
	}
	if !amount.IsFloor(fee) {
		return ErrStakeFeeFloor
	}
	if _, err := st.InputAddress(); err != nil {
		return ErrKey
	}
	if st.Timestamp > blockTimestamp {
		return ErrStakeTimestampFuture
	}
	latest := fork.LatestBlock
	if latest != nil && st.Timestamp+params.Elapsed < latest.Timestamp {
		return ErrStakeTimestamp
	}
	if fork.ContainsStake(st.Hash()) {
		return ErrStakeInChain
	}
	return nil
}

// Block runs Stage A (structural) validation for b against the fork tree
// tr and the dynamic fork state — the replayed state ending exactly at
// b.PreviousHash. now+timeDelta bounds how far into the future b's
// timestamp may sit.
func Block(b *block.Block, tr *tree.Tree, fork *state.State, now, timeDelta uint32) error {
	hash := b.Hash()
	if tr.Contains(hash) {
		return ErrBlockHashInTree
	}
	if b.Timestamp > now+timeDelta {
		return ErrBlockTimestampFuture
	}
	if !block.IsGenesisPrevious(b.PreviousHash) && !tr.Contains(b.PreviousHash) {
		return ErrBlockPreviousHashNotInTree
	}

	previousBeta, err := fork.LatestBeta()
	if err != nil {
		return ErrKey
	}
	pub, err := b.InputPublicKey()
	if err != nil {
		return ErrKey
	}
	alpha := block.Alpha(b.PreviousHash, previousBeta)
	if _, err := xcrypto.VRFVerify(pub, alpha, b.Pi); err != nil {
		return ErrKey
	}

	// No elected staker means the draw exhausted the stake pool: the only
	// admissible block is a mint block, whose sole stake is a shape marker
	// exempt from the generic per-stake predicates.
	elected, ok := fork.NextStaker(b.Timestamp)
	if !ok {
		if len(b.Transactions) != 0 {
			return ErrBlockMintTransactions
		}
		if len(b.Stakes) != 1 {
			return ErrBlockMintStakeCount
		}
		mint := b.Stakes[0]
		if !mint.Deposit || amount.Decode(mint.Fee).Sign() != 0 || mint.Timestamp != b.Timestamp {
			return ErrBlockMintStakeShape
		}
		return nil
	}

	previousTimestamp := uint32(0)
	if fork.LatestBlock != nil {
		previousTimestamp = fork.LatestBlock.Timestamp
	}
	if b.Timestamp != previousTimestamp+params.BlockTime {
		return ErrBlockTimestamp
	}
	input, err := b.InputAddress()
	if err != nil {
		return ErrKey
	}
	if elected != input {
		return ErrBlockStakerAddress
	}

	for i := range b.Stakes {
		if err := Stake(&b.Stakes[i], fork, b.Timestamp); err != nil {
			return err
		}
	}
	for i := range b.Transactions {
		if err := Transaction(&b.Transactions[i], fork, b.Timestamp); err != nil {
			return err
		}
	}

	if !fork.CanApply(b) {
		return ErrOverflow
	}
	return nil
}
