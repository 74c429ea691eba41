package xcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignRecoverRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	hash := Sum([]byte("block preimage"))
	sig, err := Sign(key, hash)
	require.NoError(t, err)

	pub, err := Recover(hash, sig)
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), pub)
	require.Equal(t, key.Address(), AddressFromPublicKey(pub))
}

func TestSignDifferentHashesDifferentSignatures(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sigA, err := Sign(key, Sum([]byte("a")))
	require.NoError(t, err)
	sigB, err := Sign(key, Sum([]byte("b")))
	require.NoError(t, err)
	require.NotEqual(t, sigA, sigB)
}

func TestKeyFromBytesRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	loaded, err := KeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), loaded.PublicKey())
}

func TestVRFProveVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	alpha := Sum([]byte("genesis beta"))
	pi, beta, err := VRFProve(key, alpha[:])
	require.NoError(t, err)

	gotBeta, err := VRFVerify(key.PublicKey(), alpha[:], pi)
	require.NoError(t, err)
	require.Equal(t, beta, gotBeta)

	fromProof, err := ProofToHash(pi)
	require.NoError(t, err)
	require.Equal(t, beta, fromProof)
}

func TestVRFVerifyRejectsWrongKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	other, err := GenerateKey()
	require.NoError(t, err)

	alpha := Sum([]byte("seed"))
	pi, _, err := VRFProve(key, alpha[:])
	require.NoError(t, err)

	_, err = VRFVerify(other.PublicKey(), alpha[:], pi)
	require.Error(t, err)
}
