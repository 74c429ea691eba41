// Package chain implements the blockchain facade (spec.md §4.7): the fork
// tree, the stable/unstable state pair, the sync tracker, and the three
// pending pools, wired together the way the teacher's miner/worker.go wires
// its own drain-pack-seal loop around a shared pending-transaction set.
package chain

import (
	"math/big"
	"sort"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"driftchain/amount"
	"driftchain/block"
	"driftchain/params"
	"driftchain/stake"
	"driftchain/state"
	"driftchain/syncstat"
	"driftchain/transaction"
	"driftchain/tree"
	"driftchain/validate"
	"driftchain/xcrypto"
)

// Store is the persistence surface the facade needs: append-only block
// storage plus a single checkpoint slot for the promoted stable state.
// The concrete implementation (column-family goleveldb) lives in package
// store; chain depends only on this interface to avoid an import cycle.
type Store interface {
	PutBlock(b *block.Block) error
	BlockByHash(hash xcrypto.Hash) (*block.Block, error)
	AllBlockHashes() ([]xcrypto.Hash, error)
	SaveCheckpoint(s *state.State, height uint64) error
	LoadCheckpoint() (*state.State, uint64, bool, error)
}

// Blockchain is the consensus facade: the fork tree, the stable/unstable
// state pair derived from it, the sync tracker, and the three FIFO pending
// pools awaiting inclusion.
type Blockchain struct {
	Tree                 *tree.Tree
	Stable               *state.State
	Unstable             *state.State
	Sync                 *syncstat.Tracker
	TrustForkAfterBlocks uint64

	PendingTransactions []transaction.Transaction
	PendingStakes       []stake.Stake
	PendingBlocks       []block.Block

	pendingTxSeen    mapset.Set
	pendingStakeSeen mapset.Set
	pendingBlockSeen mapset.Set

	store Store
}

// New returns an empty blockchain facade, ready for Load.
func New(store Store, trustForkAfterBlocks uint64) *Blockchain {
	return &Blockchain{
		Tree:                 tree.New(),
		Stable:               state.New(),
		Unstable:             state.New(),
		Sync:                 syncstat.New(0),
		TrustForkAfterBlocks: trustForkAfterBlocks,
		pendingTxSeen:        mapset.NewThreadUnsafeSet(),
		pendingStakeSeen:     mapset.NewThreadUnsafeSet(),
		pendingBlockSeen:     mapset.NewThreadUnsafeSet(),
		store:                store,
	}
}

// Load rebuilds the fork tree from the store, loads the stable state
// (from a checkpoint if one exists, replaying any stable blocks recorded
// after it), and derives the unstable state by replay.
func (bc *Blockchain) Load() error {
	hashes, err := bc.store.AllBlockHashes()
	if err != nil {
		return err
	}
	byHash := make(map[xcrypto.Hash]*block.Block, len(hashes))
	pending := make(map[xcrypto.Hash]*block.Block, len(hashes))
	for _, h := range hashes {
		blk, err := bc.store.BlockByHash(h)
		if err != nil {
			return err
		}
		byHash[h] = blk
		pending[h] = blk
	}
	// Blocks arrive from the store in key order, not ancestry order, so
	// insert in topological waves: any block whose parent is already
	// known can be inserted, repeated until a pass makes no progress.
	for len(pending) > 0 {
		progressed := false
		for h, blk := range pending {
			if bc.Tree.Contains(blk.PreviousHash) {
				bc.Tree.Insert(h, blk.PreviousHash, blk.Timestamp)
				delete(pending, h)
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	bc.Tree.SortBranches()

	if checkpoint, height, ok, err := bc.store.LoadCheckpoint(); err != nil {
		return err
	} else if ok {
		bc.Stable = checkpoint
		logrus.WithField("height", height).Info("loaded stable checkpoint")
	} else {
		bc.Stable = state.New()
	}

	stableHashes, unstableHashes := bc.Tree.StableAndUnstableHashes(bc.TrustForkAfterBlocks)
	already := len(bc.Stable.Hashes)
	if already > len(stableHashes) {
		already = len(stableHashes)
	}
	prevTs := uint32(0)
	if bc.Stable.LatestBlock != nil {
		prevTs = bc.Stable.LatestBlock.Timestamp
	}
	for _, h := range stableHashes[already:] {
		blk := byHash[h]
		if err := bc.Stable.AppendBlock(blk, prevTs, true); err != nil {
			return err
		}
		prevTs = blk.Timestamp
	}

	unstable := bc.Stable.Clone()
	// the unstable fork's hash list holds only the blocks past the stable
	// tail, so Height and HashByHeight can concatenate the two.
	unstable.Hashes = nil
	prevTs = uint32(0)
	if unstable.LatestBlock != nil {
		prevTs = unstable.LatestBlock.Timestamp
	}
	for _, h := range unstableHashes {
		blk := byHash[h]
		if err := unstable.AppendBlock(blk, prevTs, true); err != nil {
			return err
		}
		prevTs = blk.Timestamp
	}
	bc.Unstable = unstable
	return nil
}

// Height is the total number of applied blocks across both forks.
func (bc *Blockchain) Height() uint64 {
	return uint64(len(bc.Stable.Hashes) + len(bc.Unstable.Hashes))
}

// HeightByHash returns the 1-indexed height of hash (0 for the genesis
// sentinel).
func (bc *Blockchain) HeightByHash(hash xcrypto.Hash) (uint64, error) {
	if block.IsGenesisPrevious(hash) {
		return 0, nil
	}
	if !bc.Tree.Contains(hash) {
		return 0, ErrHeightByHash
	}
	return bc.Tree.Height(hash), nil
}

// HashByHeight returns the hash applied at height (the genesis sentinel at
// height 0).
func (bc *Blockchain) HashByHeight(height uint64) (xcrypto.Hash, error) {
	if height == 0 {
		return params.ZeroHash, nil
	}
	idx := height - 1
	if idx < uint64(len(bc.Stable.Hashes)) {
		return bc.Stable.Hashes[idx], nil
	}
	idx -= uint64(len(bc.Stable.Hashes))
	if idx < uint64(len(bc.Unstable.Hashes)) {
		return bc.Unstable.Hashes[idx], nil
	}
	return xcrypto.Hash{}, ErrHashByHeight
}

// SyncBlock returns the full block at the given 1-indexed height, for the
// sync request/response stream.
func (bc *Blockchain) SyncBlock(index uint64) (*block.Block, error) {
	hash, err := bc.HashByHeight(index)
	if err != nil {
		return nil, ErrSyncBlock
	}
	blk, err := bc.fetchBlock(hash, nil)
	if err != nil {
		return nil, ErrSyncBlock
	}
	return blk, nil
}

func (bc *Blockchain) fetchBlock(hash xcrypto.Hash, justInserted *block.Block) (*block.Block, error) {
	if justInserted != nil && justInserted.Hash() == hash {
		return justInserted, nil
	}
	return bc.store.BlockByHash(hash)
}

// dynamicFork replays the unstable prefix ending at previousHash over a
// fresh copy of the stable state, capped at TrustForkAfterBlocks. Forking
// deeper than that is rejected.
func (bc *Blockchain) dynamicFork(previousHash xcrypto.Hash) (*state.State, error) {
	if block.IsGenesisPrevious(previousHash) {
		if len(bc.Stable.Hashes) == 0 {
			return state.New(), nil
		}
		return nil, ErrNotAllowedToForkStableChain
	}
	if !bc.Tree.Contains(previousHash) {
		return nil, validate.ErrBlockPreviousHashNotInTree
	}
	height := bc.Tree.Height(previousHash)
	stableHeight := uint64(len(bc.Stable.Hashes))
	if height < stableHeight || height-stableHeight > bc.TrustForkAfterBlocks {
		return nil, ErrNotAllowedToForkStableChain
	}

	depth := height - stableHeight
	hashes := make([]xcrypto.Hash, depth)
	cur := previousHash
	for i := int(depth) - 1; i >= 0; i-- {
		hashes[i] = cur
		prev, ok := bc.Tree.Previous(cur)
		if !ok {
			break
		}
		cur = prev
	}

	fork := bc.Stable.Clone()
	fork.Hashes = nil
	prevTs := uint32(0)
	if fork.LatestBlock != nil {
		prevTs = fork.LatestBlock.Timestamp
	}
	for _, h := range hashes {
		blk, err := bc.fetchBlock(h, nil)
		if err != nil {
			return nil, err
		}
		if err := fork.AppendBlock(blk, prevTs, true); err != nil {
			return nil, err
		}
		prevTs = blk.Timestamp
	}
	return fork, nil
}

// recompute promotes any stable hashes that the fork tree now considers
// past the stability threshold, then rebuilds the unstable state from
// scratch over the (possibly advanced) stable tail.
func (bc *Blockchain) recompute(justInserted *block.Block) error {
	stableHashes, unstableHashes := bc.Tree.StableAndUnstableHashes(bc.TrustForkAfterBlocks)
	already := len(bc.Stable.Hashes)
	if len(stableHashes) > already {
		prevTs := uint32(0)
		if bc.Stable.LatestBlock != nil {
			prevTs = bc.Stable.LatestBlock.Timestamp
		}
		for _, h := range stableHashes[already:] {
			blk, err := bc.fetchBlock(h, justInserted)
			if err != nil {
				return err
			}
			if err := bc.Stable.AppendBlock(blk, prevTs, false); err != nil {
				return err
			}
			prevTs = blk.Timestamp
		}
		if err := bc.store.SaveCheckpoint(bc.Stable, uint64(len(bc.Stable.Hashes))); err != nil {
			return err
		}
	}

	unstable := bc.Stable.Clone()
	unstable.Hashes = nil
	prevTs := uint32(0)
	if unstable.LatestBlock != nil {
		prevTs = unstable.LatestBlock.Timestamp
	}
	for _, h := range unstableHashes {
		blk, err := bc.fetchBlock(h, justInserted)
		if err != nil {
			return err
		}
		if err := unstable.AppendBlock(blk, prevTs, false); err != nil {
			return err
		}
		prevTs = blk.Timestamp
	}
	bc.Unstable = unstable
	return nil
}

// SaveBlock persists b, inserts it into the fork tree, and recomputes the
// derived state. forged marks a block the local node produced itself
// (suppressing the sync tracker's accepted-block counter, since a locally
// forged block is applied before it is ever gossiped).
func (bc *Blockchain) SaveBlock(b *block.Block, forged bool) error {
	if err := bc.store.PutBlock(b); err != nil {
		return err
	}
	hash := b.Hash()
	prevMain, hadMain := bc.Tree.Main()

	res := bc.Tree.Insert(hash, b.PreviousHash, b.Timestamp)
	if res == nil {
		return nil
	}
	bc.Tree.SortBranches()
	if *res {
		logrus.WithField("hash", hash).Info("fork tree branch")
	}

	newMain, _ := bc.Tree.Main()
	if hadMain && newMain.Hash != prevMain.Hash {
		logrus.WithFields(logrus.Fields{"from": prevMain.Hash, "to": newMain.Hash}).Warn("main chain reorg")
	}

	if err := bc.recompute(b); err != nil {
		return err
	}
	if !forged && newMain.Hash == hash {
		bc.Sync.RecordAccepted()
	}
	return nil
}

// ForgeBlock drains the pending pools for a block at timestamp, packs them
// under the block size limit, signs with key and saves the result.
func (bc *Blockchain) ForgeBlock(key *xcrypto.PrivateKey, timestamp uint32) (*block.Block, error) {
	previousHash := params.ZeroHash
	if main, ok := bc.Tree.Main(); ok {
		previousHash = main.Hash
	}
	previousBeta, err := bc.Unstable.LatestBeta()
	if err != nil {
		return nil, err
	}

	var txs []transaction.Transaction
	var stakes []stake.Stake

	if _, ok := bc.Unstable.NextStaker(timestamp); !ok {
		mintStake, err := stake.Sign(key, true, big.NewInt(0), timestamp)
		if err != nil {
			return nil, err
		}
		stakes = []stake.Stake{*mintStake}
	} else {
		size := 0
		pendingTx := append([]transaction.Transaction(nil), bc.PendingTransactions...)
		sort.SliceStable(pendingTx, func(i, j int) bool {
			return amount.Decode(pendingTx[i].Fee).Cmp(amount.Decode(pendingTx[j].Fee)) > 0
		})
		for _, tx := range pendingTx {
			if tx.Timestamp > timestamp || bc.Unstable.ContainsTransaction(tx.Hash()) {
				continue
			}
			if size+transaction.Size > params.BlockSizeLimit {
				break
			}
			txs = append(txs, tx)
			size += transaction.Size
		}
		pendingStakes := append([]stake.Stake(nil), bc.PendingStakes...)
		sort.SliceStable(pendingStakes, func(i, j int) bool {
			return amount.Decode(pendingStakes[i].Fee).Cmp(amount.Decode(pendingStakes[j].Fee)) > 0
		})
		for _, st := range pendingStakes {
			if st.Timestamp > timestamp || bc.Unstable.ContainsStake(st.Hash()) {
				continue
			}
			if size+stake.Size > params.BlockSizeLimit {
				break
			}
			stakes = append(stakes, st)
			size += stake.Size
		}
	}

	b, err := block.Sign(key, previousHash, previousBeta, timestamp, txs, stakes)
	if err != nil {
		return nil, err
	}
	if err := bc.SaveBlock(b, true); err != nil {
		return nil, err
	}
	bc.removePendingTransactions(txs)
	bc.removePendingStakes(stakes)
	return b, nil
}

func (bc *Blockchain) removePendingTransactions(included []transaction.Transaction) {
	if len(included) == 0 {
		return
	}
	seen := make(map[xcrypto.Hash]bool, len(included))
	for _, tx := range included {
		seen[tx.Hash()] = true
		bc.pendingTxSeen.Remove(tx.Hash())
	}
	kept := bc.PendingTransactions[:0]
	for _, tx := range bc.PendingTransactions {
		if !seen[tx.Hash()] {
			kept = append(kept, tx)
		}
	}
	bc.PendingTransactions = kept
}

func (bc *Blockchain) removePendingStakes(included []stake.Stake) {
	if len(included) == 0 {
		return
	}
	seen := make(map[xcrypto.Hash]bool, len(included))
	for _, st := range included {
		seen[st.Hash()] = true
		bc.pendingStakeSeen.Remove(st.Hash())
	}
	kept := bc.PendingStakes[:0]
	for _, st := range bc.PendingStakes {
		if !seen[st.Hash()] {
			kept = append(kept, st)
		}
	}
	bc.PendingStakes = kept
}

// SaveBlocks drains pending-blocks whose timestamp has arrived, in FIFO
// order, calling SaveBlock(forged=false) for each.
func (bc *Blockchain) SaveBlocks(now uint32) {
	var remaining []block.Block
	for i := range bc.PendingBlocks {
		b := bc.PendingBlocks[i]
		if b.Timestamp > now {
			remaining = append(remaining, b)
			continue
		}
		if err := bc.SaveBlock(&b, false); err != nil {
			logrus.WithError(err).Debug("rejected pending block")
		}
		bc.pendingBlockSeen.Remove(b.Hash())
	}
	bc.PendingBlocks = remaining
}

// PendingRetainNonAncient drops every pending entry older than ELAPSED
// seconds relative to now.
func (bc *Blockchain) PendingRetainNonAncient(now uint32) {
	txs := bc.PendingTransactions[:0]
	for _, tx := range bc.PendingTransactions {
		if tx.Timestamp+params.Elapsed >= now {
			txs = append(txs, tx)
		} else {
			bc.pendingTxSeen.Remove(tx.Hash())
		}
	}
	bc.PendingTransactions = txs

	stakes := bc.PendingStakes[:0]
	for _, st := range bc.PendingStakes {
		if st.Timestamp+params.Elapsed >= now {
			stakes = append(stakes, st)
		} else {
			bc.pendingStakeSeen.Remove(st.Hash())
		}
	}
	bc.PendingStakes = stakes

	blocks := bc.PendingBlocks[:0]
	for _, b := range bc.PendingBlocks {
		if b.Timestamp+params.Elapsed >= now {
			blocks = append(blocks, b)
		} else {
			bc.pendingBlockSeen.Remove(b.Hash())
		}
	}
	bc.PendingBlocks = blocks
}

// PendingBlocksPush validates and enqueues b for a later SaveBlocks pass.
func (bc *Blockchain) PendingBlocksPush(b *block.Block, now, timeDelta uint32) error {
	hash := b.Hash()
	if bc.pendingBlockSeen.Contains(hash) || bc.Tree.Contains(hash) {
		return ErrBlockPending
	}
	fork, err := bc.dynamicFork(b.PreviousHash)
	if err != nil {
		return err
	}
	if err := validate.Block(b, bc.Tree, fork, now, timeDelta); err != nil {
		return err
	}
	bc.PendingBlocks = append(bc.PendingBlocks, *b)
	bc.pendingBlockSeen.Add(hash)
	return nil
}

func (bc *Blockchain) pendingBalanceDelta(a xcrypto.Address) *big.Int {
	delta := big.NewInt(0)
	for i := range bc.PendingTransactions {
		tx := &bc.PendingTransactions[i]
		input, err := tx.InputAddress()
		if err != nil || input != a {
			continue
		}
		delta.Sub(delta, new(big.Int).Add(amount.Decode(tx.Amount), amount.Decode(tx.Fee)))
	}
	for i := range bc.PendingStakes {
		st := &bc.PendingStakes[i]
		input, err := st.InputAddress()
		if err != nil || input != a {
			continue
		}
		fee := amount.Decode(st.Fee)
		if st.Deposit {
			delta.Sub(delta, new(big.Int).Add(params.Coin, fee))
		} else {
			delta.Sub(delta, fee)
		}
	}
	return delta
}

// BalancePendingMin is the address's balance after every pending debit
// against it has been applied, ignoring any pending credit.
func (bc *Blockchain) BalancePendingMin(a xcrypto.Address) *big.Int {
	return new(big.Int).Add(bc.Unstable.BalanceOf(a), bc.pendingBalanceDelta(a))
}

// BalancePendingMax additionally credits incoming pending transactions.
func (bc *Blockchain) BalancePendingMax(a xcrypto.Address) *big.Int {
	credit := big.NewInt(0)
	for i := range bc.PendingTransactions {
		tx := &bc.PendingTransactions[i]
		if tx.OutputAddress == a {
			credit.Add(credit, amount.Decode(tx.Amount))
		}
	}
	return new(big.Int).Add(bc.BalancePendingMin(a), credit)
}

// StakedPendingMin is the address's staked balance after every pending
// withdraw against it has been applied.
func (bc *Blockchain) StakedPendingMin(a xcrypto.Address) *big.Int {
	delta := big.NewInt(0)
	for i := range bc.PendingStakes {
		st := &bc.PendingStakes[i]
		input, err := st.InputAddress()
		if err != nil || input != a || st.Deposit {
			continue
		}
		delta.Sub(delta, bc.Unstable.StakedOf(a))
	}
	return new(big.Int).Add(bc.Unstable.StakedOf(a), delta)
}

// StakedPendingMax additionally credits pending deposits.
func (bc *Blockchain) StakedPendingMax(a xcrypto.Address) *big.Int {
	credit := big.NewInt(0)
	for i := range bc.PendingStakes {
		st := &bc.PendingStakes[i]
		input, err := st.InputAddress()
		if err != nil || input != a || !st.Deposit {
			continue
		}
		credit.Add(credit, params.Coin)
	}
	return new(big.Int).Add(bc.StakedPendingMin(a), credit)
}

// PendingTransactionsPush hydrates, deduplicates, and admits tx into the
// pending-transactions pool.
func (bc *Blockchain) PendingTransactionsPush(tx *transaction.Transaction, now, timeDelta uint32) error {
	hash := tx.Hash()
	if bc.pendingTxSeen.Contains(hash) {
		return ErrTransactionPending
	}
	input, err := tx.InputAddress()
	if err != nil {
		return validate.ErrKey
	}
	need := new(big.Int).Add(amount.Decode(tx.Amount), amount.Decode(tx.Fee))
	if bc.BalancePendingMin(input).Cmp(need) < 0 {
		return ErrTransactionTooExpensive
	}
	if err := validate.Transaction(tx, bc.Unstable, now+timeDelta); err != nil {
		return err
	}
	bc.PendingTransactions = append(bc.PendingTransactions, *tx)
	bc.pendingTxSeen.Add(hash)
	return nil
}

// PendingStakesPush hydrates, deduplicates, and admits st into the
// pending-stakes pool.
func (bc *Blockchain) PendingStakesPush(st *stake.Stake, now, timeDelta uint32) error {
	hash := st.Hash()
	if bc.pendingStakeSeen.Contains(hash) {
		return ErrStakePending
	}
	input, err := st.InputAddress()
	if err != nil {
		return validate.ErrKey
	}
	fee := amount.Decode(st.Fee)
	if st.Deposit {
		need := new(big.Int).Add(params.Coin, fee)
		if bc.BalancePendingMin(input).Cmp(need) < 0 {
			return ErrStakeDepositTooExpensive
		}
	} else {
		stakedMin := bc.StakedPendingMin(input)
		if stakedMin.Sign() <= 0 {
			return ErrStakeWithdrawAmountTooExpensive
		}
		if stakedMin.Cmp(fee) < 0 {
			return ErrStakeWithdrawFeeTooExpensive
		}
	}
	if err := validate.Stake(st, bc.Unstable, now+timeDelta); err != nil {
		return err
	}
	bc.PendingStakes = append(bc.PendingStakes, *st)
	bc.pendingStakeSeen.Add(hash)
	return nil
}
