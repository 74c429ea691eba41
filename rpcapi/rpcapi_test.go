package rpcapi

import (
	"bytes"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"driftchain/block"
	"driftchain/chain"
	"driftchain/params"
	"driftchain/ratelimit"
	"driftchain/stake"
	"driftchain/state"
	"driftchain/transaction"
	"driftchain/xcrypto"
)

type memStore struct {
	blocks map[xcrypto.Hash]*block.Block
	order  []xcrypto.Hash
}

func newMemStore() *memStore { return &memStore{blocks: make(map[xcrypto.Hash]*block.Block)} }

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
		return nil, chain.ErrHeightByHash
	}
	return b, nil
}
func (m *memStore) AllBlockHashes() ([]xcrypto.Hash, error) { return m.order, nil }
func (m *memStore) SaveCheckpoint(*state.State, uint64) error { return nil }
func (m *memStore) LoadCheckpoint() (*state.State, uint64, bool, error) {
	return nil, 0, false, nil
}

func newTestHandler(t *testing.T) (*Handler, *xcrypto.PrivateKey) {
	t.Helper()
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	bc := chain.New(newMemStore(), 8)
	st, err := stake.Sign(key, true, big.NewInt(0), 60)
	require.NoError(t, err)
	b, err := block.Sign(key, params.ZeroHash, xcrypto.Hash{}, 60, nil, []stake.Stake{*st})
	require.NoError(t, err)
	require.NoError(t, bc.SaveBlock(b, false))

	return &Handler{Chain: bc, Limiter: ratelimit.New(ratelimit.DefaultLimits())}, key
}

func TestSubmitTransactionSuccess(t *testing.T) {
	h, key := newTestHandler(t)
	other, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	half := new(big.Int).Div(params.Coin, big.NewInt(2))
	tx, err := transaction.Sign(key, other.Address(), half, big.NewInt(1), now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/transaction", bytes.NewReader(tx.Serialize()))
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", rec.Body.String())
}

func TestSubmitTransactionRejectionReturnsErrorString(t *testing.T) {
	h, key := newTestHandler(t)

	tx, err := transaction.Sign(key, key.Address(), big.NewInt(1), big.NewInt(1), now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/transaction", bytes.NewReader(tx.Serialize()))
	req.RemoteAddr = "203.0.113.10:1234"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}

func TestSubmitTransactionMalformedBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/transaction", bytes.NewReader([]byte("short")))
	req.RemoteAddr = "203.0.113.11:1234"
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
