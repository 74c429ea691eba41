package stake

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"driftchain/xcrypto"
)

func TestSignRecoversInputAddress(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	st, err := Sign(key, true, big.NewInt(1), 120)
	require.NoError(t, err)

	input, err := st.InputAddress()
	require.NoError(t, err)
	require.Equal(t, key.Address(), input)
}

func TestDepositAndWithdrawHashDiffer(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	dep, err := Sign(key, true, big.NewInt(1), 120)
	require.NoError(t, err)
	wd, err := Sign(key, false, big.NewInt(1), 120)
	require.NoError(t, err)

	require.NotEqual(t, dep.Hash(), wd.Hash())
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	st, err := Sign(key, false, big.NewInt(9), 480)
	require.NoError(t, err)

	raw := st.Serialize()
	require.Len(t, raw, Size)

	got, err := Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, st.Hash(), got.Hash())
	require.Equal(t, *st, *got)
	require.False(t, got.Deposit)
}

func TestDeserializeRejectsWrongLength(t *testing.T) {
	_, err := Deserialize(make([]byte, Size-1))
	require.ErrorIs(t, err, ErrShortBuffer)
	_, err = Deserialize(make([]byte, Size+1))
	require.ErrorIs(t, err, ErrShortBuffer)
}
