package chain

import "errors"

// Lookup errors (spec.md §7).
var (
	ErrHeightByHash = errors.New("chain: hash not found in fork tree")
	ErrHashByHeight = errors.New("chain: height exceeds known chain")
	ErrSyncBlock    = errors.New("chain: sync index out of range")
)

// Fork and admission errors.
var (
	ErrNotAllowedToForkStableChain = errors.New("chain: fork point is at or beyond the stability threshold")
	ErrTransactionPending          = errors.New("chain: transaction already pending")
	ErrStakePending                = errors.New("chain: stake already pending")
	ErrBlockPending                = errors.New("chain: block already pending or known")

	ErrTransactionTooExpensive         = errors.New("chain: transaction exceeds pending-adjusted spendable balance")
	ErrStakeDepositTooExpensive        = errors.New("chain: deposit amount plus fee exceeds pending-adjusted balance")
	ErrStakeWithdrawFeeTooExpensive    = errors.New("chain: withdraw fee exceeds the staked balance being released")
	ErrStakeWithdrawAmountTooExpensive = errors.New("chain: no staked balance left to withdraw")
)
