package store

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"driftchain/block"
	"driftchain/params"
	"driftchain/stake"
	"driftchain/state"
	"driftchain/xcrypto"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mintBlock(t *testing.T, key *xcrypto.PrivateKey, timestamp uint32) *block.Block {
	t.Helper()
	st, err := stake.Sign(key, true, big.NewInt(0), timestamp)
	require.NoError(t, err)
	b, err := block.Sign(key, params.ZeroHash, xcrypto.Hash{}, timestamp, nil, []stake.Stake{*st})
	require.NoError(t, err)
	return b
}

func TestPutAndGetBlockRoundTrips(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	s := openTemp(t)

	b := mintBlock(t, key, 60)
	require.NoError(t, s.PutBlock(b))

	got, err := s.BlockByHash(b.Hash())
	require.NoError(t, err)
	require.Equal(t, b.Hash(), got.Hash())

	hashes, err := s.AllBlockHashes()
	require.NoError(t, err)
	require.Equal(t, []xcrypto.Hash{b.Hash()}, hashes)
}

func TestBlockByHashMissingReturnsNotFound(t *testing.T) {
	s := openTemp(t)
	_, err := s.BlockByHash(xcrypto.Hash{1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpointRoundTrips(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	s := openTemp(t)

	st := state.New()
	require.NoError(t, st.AppendBlock(mintBlock(t, key, 60), 0, false))

	require.NoError(t, s.SaveCheckpoint(st, 1))
	loaded, height, ok, err := s.LoadCheckpoint()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), height)
	require.Equal(t, 0, loaded.StakedOf(key.Address()).Cmp(params.Coin))
	require.Len(t, loaded.Hashes, 1)
}

func TestLoadCheckpointEmptyIsNotOK(t *testing.T) {
	s := openTemp(t)
	_, _, ok, err := s.LoadCheckpoint()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPeerRoundTrip(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.PutPeer("203.0.113.7"))
	require.NoError(t, s.PutPeer("203.0.113.8"))
	peers, err := s.AllPeers()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"203.0.113.7", "203.0.113.8"}, peers)

	require.NoError(t, s.DeletePeer("203.0.113.7"))
	peers, err = s.AllPeers()
	require.NoError(t, err)
	require.Equal(t, []string{"203.0.113.8"}, peers)
}
