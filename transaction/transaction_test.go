package transaction

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"driftchain/amount"
	"driftchain/xcrypto"
)

func TestSignRecoversInputAddress(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	out, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	tx, err := Sign(key, out.Address(), big.NewInt(100), big.NewInt(1), 120)
	require.NoError(t, err)

	input, err := tx.InputAddress()
	require.NoError(t, err)
	require.Equal(t, key.Address(), input)
}

func TestSignFloorsAmountThroughCodec(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	out, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	// one more than 2^36 cannot carry its low bits through the 28-bit
	// mantissa once shifted
	raw := new(big.Int).Lsh(big.NewInt(1), 36)
	raw.Add(raw, big.NewInt(1))
	tx, err := Sign(key, out.Address(), raw, big.NewInt(1), 120)
	require.NoError(t, err)

	decoded := amount.Decode(tx.Amount)
	require.Equal(t, 0, decoded.Cmp(amount.Floor(raw)))
	require.True(t, decoded.Cmp(raw) <= 0)
	require.True(t, amount.IsFloor(decoded))
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	out, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	tx, err := Sign(key, out.Address(), big.NewInt(12345), big.NewInt(7), 360)
	require.NoError(t, err)

	raw := tx.Serialize()
	require.Len(t, raw, Size)

	got, err := Deserialize(raw)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), got.Hash())
	require.Equal(t, tx.Signature, got.Signature)
	require.Equal(t, *tx, *got)
}

func TestDeserializeRejectsWrongLength(t *testing.T) {
	_, err := Deserialize(make([]byte, Size-1))
	require.ErrorIs(t, err, ErrShortBuffer)
	_, err = Deserialize(make([]byte, Size+1))
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestHashIgnoresSignature(t *testing.T) {
	key, err := xcrypto.GenerateKey()
	require.NoError(t, err)
	out, err := xcrypto.GenerateKey()
	require.NoError(t, err)

	tx, err := Sign(key, out.Address(), big.NewInt(5), big.NewInt(1), 120)
	require.NoError(t, err)

	mutated := *tx
	mutated.Signature[0] ^= 0xff
	require.Equal(t, tx.Hash(), mutated.Hash())
}
