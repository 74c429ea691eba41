package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"driftchain/block"
	"driftchain/params"
	"driftchain/stake"
	"driftchain/state"
	"driftchain/transaction"
	"driftchain/xcrypto"
)

// memStore is a minimal in-memory Store for exercising the facade without
// a real goleveldb handle.
type memStore struct {
	blocks     map[xcrypto.Hash]*block.Block
	order      []xcrypto.Hash
	checkpoint *state.State
	height     uint64
	hasCkpt    bool
}

func newMemStore() *memStore {
	return &memStore{blocks: make(map[xcrypto.Hash]*block.Block)}
}

func (m *memStore) PutBlock(b *block.Block) error {
	h := b.Hash()
	if _, ok := m.blocks[h]; !ok {
		m.order = append(m.order, h)
	}
	m.blocks[h] = b
	return nil
}

func (m *memStore) BlockByHash(hash xcrypto.Hash) (*block.Block, error) {
	b, ok := m.blocks[hash]
	if !ok {
		return nil, ErrHeightByHash
	}
	return b, nil
}

func (m *memStore) AllBlockHashes() ([]xcrypto.Hash, error) {
	return append([]xcrypto.Hash(nil), m.order...), nil
}

func (m *memStore) SaveCheckpoint(s *state.State, height uint64) error {
	m.checkpoint = s
	m.height = height
	m.hasCkpt = true
	return nil
}

func (m *memStore) LoadCheckpoint() (*state.State, uint64, bool, error) {
	return m.checkpoint, m.height, m.hasCkpt, nil
}

func mintBlock(t *testing.T, key *xcrypto.PrivateKey, timestamp uint32) *block.Block {
	t.Helper()
	st, err := stake.Sign(key, true, big.NewInt(0), timestamp)
	require.NoError(t, err)
	b, err := block.Sign(key, params.ZeroHash, xcrypto.Hash{}, timestamp, nil, []stake.Stake{*st})
	require.NoError(t, err)
	return b
}

func TestForgeBlockProducesMintWhenNoStakers(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := New(newMemStore(), 8)
	b, err := bc.ForgeBlock(key, 60)
	require.NoError(t, err)
	require.Len(t, b.Stakes, 1)
	require.True(t, b.Stakes[0].Deposit)
	require.Equal(t, uint64(1), bc.Height())
}

func TestSaveBlockInsertsIntoTreeAndRecomputes(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := New(newMemStore(), 8)
	b := mintBlock(t, key, 60)
	require.NoError(t, bc.SaveBlock(b, false))

	require.True(t, bc.Tree.Contains(b.Hash()))
	require.Equal(t, uint64(1), bc.Height())
	require.Equal(t, 0, bc.Unstable.StakedOf(key.Address()).Cmp(params.Coin))
}

func TestPendingTransactionsPushRejectsTooExpensive(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := New(newMemStore(), 8)
	require.NoError(t, bc.SaveBlock(mintBlock(t, key, 60), false))

	tx, err := transaction.Sign(key, other.Address(),
		new(big.Int).Mul(params.Coin, big.NewInt(10)),
		big.NewInt(1), 120)
	require.NoError(t, err)

	err = bc.PendingTransactionsPush(tx, 120, 30)
	require.ErrorIs(t, err, ErrTransactionTooExpensive)
}

func TestPendingTransactionsPushAcceptsAffordable(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	other, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := New(newMemStore(), 8)
	require.NoError(t, bc.SaveBlock(mintBlock(t, key, 60), false))

	half := new(big.Int).Div(params.Coin, big.NewInt(2))
	tx, err := transaction.Sign(key, other.Address(), half, big.NewInt(1), 120)
	require.NoError(t, err)

	require.NoError(t, bc.PendingTransactionsPush(tx, 120, 30))
	require.Len(t, bc.PendingTransactions, 1)

	err = bc.PendingTransactionsPush(tx, 120, 30)
	require.ErrorIs(t, err, ErrTransactionPending)
}

func TestPendingStakesPushRejectsWithdrawWithNoStake(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := New(newMemStore(), 8)
	st, err := stake.Sign(key, false, big.NewInt(1), 60)
	require.NoError(t, err)

	err = bc.PendingStakesPush(st, 60, 30)
	require.ErrorIs(t, err, ErrStakeWithdrawAmountTooExpensive)
}

func TestDynamicForkRejectsForkingStablePast(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	// trust=0 promotes every applied block to the stable tail immediately,
	// so re-forking from genesis is now forking the stable chain.
	bc := New(newMemStore(), 0)
	require.NoError(t, bc.SaveBlock(mintBlock(t, key, 60), false))
	require.NotEmpty(t, bc.Stable.Hashes)

	_, err = bc.dynamicFork(params.ZeroHash)
	require.ErrorIs(t, err, ErrNotAllowedToForkStableChain)
}

func TestStabilityPromotion(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := New(newMemStore(), 3)
	b := mintBlock(t, key, 60)
	require.NoError(t, bc.SaveBlock(b, false))

	var hashes []xcrypto.Hash
	hashes = append(hashes, b.Hash())
	for ts := uint32(120); ts <= 300; ts += 60 {
		beta, err := bc.Unstable.LatestBeta()
		require.NoError(t, err)
		next, err := block.Sign(key, b.Hash(), beta, ts, nil, nil)
		require.NoError(t, err)
		require.NoError(t, bc.SaveBlock(next, false))
		b = next
		hashes = append(hashes, b.Hash())
	}

	// five blocks with trust=3: the two oldest are promoted to the stable
	// tail, the last three stay unstable.
	require.Equal(t, uint64(5), bc.Height())
	require.Len(t, bc.Stable.Hashes, 2)
	require.Len(t, bc.Unstable.Hashes, 3)

	for i, h := range hashes {
		got, err := bc.HashByHeight(uint64(i + 1))
		require.NoError(t, err)
		require.Equal(t, h, got)
	}
	sb, err := bc.SyncBlock(3)
	require.NoError(t, err)
	require.Equal(t, hashes[2], sb.Hash())
}

func TestHeightByHashUnknownReturnsError(t *testing.T) {
	bc := New(newMemStore(), 8)
	_, err := bc.HeightByHash(xcrypto.Hash{1, 2, 3})
	require.ErrorIs(t, err, ErrHeightByHash)
}
