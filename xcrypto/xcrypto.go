// Package xcrypto wraps the black-box primitives the core treats as
// external collaborators: SHA-256 content hashing, secp256k1 keypairs,
// fixed-recovery-id recoverable ECDSA signatures, and the
// ECVRF-SECP256K1-SHA256-TAI verifiable random function used for leader
// election.
package xcrypto

import (
	stdecdsa "crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/vechain/go-ecvrf"
)

const (
	// HashSize is the width of a SHA-256 digest, a beta, and a block/tx
	// content hash.
	HashSize = 32
	// AddressSize is the width of an address: the first 20 bytes of
	// SHA-256(public key).
	AddressSize = 20
	// PublicKeySize is the width of a compressed secp256k1 public key.
	PublicKeySize = 33
	// SignatureSize is the width of a recoverable signature with the
	// recovery id omitted (it is fixed by convention, see Sign).
	SignatureSize = 64
	// ProofSize is the width of a VRF proof (ECVRF-SECP256K1-SHA256-TAI).
	ProofSize = 81

	// fixedRecoveryID is the recovery id every signature produced by Sign
	// is guaranteed to have, letting the id be omitted from the wire
	// signature entirely.
	fixedRecoveryID = 0

	// vrfSuiteString identifies ECVRF-SECP256K1-SHA256-TAI in beta
	// derivation.
	vrfSuiteString = 0xfe
)

// Hash is a 32-byte SHA-256 digest.
type Hash [HashSize]byte

// Address is the 20-byte identity derived from a public key.
type Address [AddressSize]byte

// PublicKey is a compressed secp256k1 public key.
type PublicKey [PublicKeySize]byte

// Signature is a 64-byte recoverable ECDSA signature with a fixed,
// implicit recovery id.
type Signature [SignatureSize]byte

// Proof is a VRF proof.
type Proof [ProofSize]byte

// PrivateKey is a validator's or wallet's signing key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// Sum computes the SHA-256 digest of data.
func Sum(data []byte) Hash {
	return Hash(sha256.Sum256(data))
}

// GenerateKey creates a new random private key.
func GenerateKey() (*PrivateKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: key}, nil
}

// KeyFromBytes loads a private key from its 32-byte scalar encoding.
func KeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, errors.New("xcrypto: private key must be 32 bytes")
	}
	key := secp256k1.PrivKeyFromBytes(b)
	return &PrivateKey{key: key}, nil
}

// Bytes returns the 32-byte scalar encoding of the private key.
func (k *PrivateKey) Bytes() []byte {
	return k.key.Serialize()
}

// PublicKey returns the compressed public key for k.
func (k *PrivateKey) PublicKey() PublicKey {
	var pub PublicKey
	copy(pub[:], k.key.PubKey().SerializeCompressed())
	return pub
}

// Address returns the address derived from k's public key.
func (k *PrivateKey) Address() Address {
	return AddressFromPublicKey(k.PublicKey())
}

// AddressFromPublicKey derives an address as the first 20 bytes of
// SHA-256(public key).
func AddressFromPublicKey(pub PublicKey) Address {
	h := sha256.Sum256(pub[:])
	var addr Address
	copy(addr[:], h[:AddressSize])
	return addr
}

// Sign produces a 64-byte recoverable signature over hash whose implicit
// recovery id is always fixedRecoveryID. When the deterministic nonce lands
// on the other parity, (r, n-s) is the complementary signature for the
// negated nonce, whose R point is the original's negation; substituting it
// flips the recovery id's parity bit without changing the signed message.
func Sign(k *PrivateKey, hash Hash) (Signature, error) {
	compact := ecdsa.SignCompact(k.key, hash[:], true)
	recID := int(compact[0]) - 27 - 4
	var sig Signature
	copy(sig[:32], compact[1:33])
	switch recID {
	case fixedRecoveryID:
		copy(sig[32:], compact[33:65])
	case fixedRecoveryID ^ 1:
		copy(sig[32:], negateS(compact[33:65]))
	default:
		// recovery ids 2 and 3 mean r overflowed the curve order, which
		// cannot be repaired by negation.
		return Signature{}, errors.New("xcrypto: signature r overflowed curve order")
	}
	return sig, nil
}

// Recover recovers the signer's public key from a signature produced by
// Sign, reconstructing the implicit fixedRecoveryID header byte.
func Recover(hash Hash, sig Signature) (PublicKey, error) {
	compact := make([]byte, 65)
	compact[0] = byte(27 + 4 + fixedRecoveryID) // compressed, fixed id
	copy(compact[1:], sig[:])
	pub, _, err := ecdsa.RecoverCompact(compact, hash[:])
	if err != nil {
		return PublicKey{}, err
	}
	var out PublicKey
	copy(out[:], pub.SerializeCompressed())
	return out, nil
}

func negateS(s []byte) []byte {
	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(s)
	scalar.Negate()
	out := scalar.Bytes()
	return out[:]
}

func (k *PrivateKey) stdKey() *stdecdsa.PrivateKey {
	pub := k.key.PubKey()
	return &stdecdsa.PrivateKey{
		PublicKey: stdecdsa.PublicKey{Curve: secp256k1.S256(), X: pub.X(), Y: pub.Y()},
		D:         new(big.Int).SetBytes(k.key.Serialize()),
	}
}

func stdPublicKey(pub PublicKey) (*stdecdsa.PublicKey, error) {
	p, err := secp256k1.ParsePubKey(pub[:])
	if err != nil {
		return nil, err
	}
	return &stdecdsa.PublicKey{Curve: secp256k1.S256(), X: p.X(), Y: p.Y()}, nil
}

var vrfSuite = ecvrf.Secp256k1Sha256Tai

// VRFProve computes a VRF proof over alpha using k, and the beta (VRF
// output hash) that proof commits to.
func VRFProve(k *PrivateKey, alpha []byte) (Proof, Hash, error) {
	_, pi, err := vrfSuite.Prove(k.stdKey(), alpha)
	if err != nil {
		return Proof{}, Hash{}, err
	}
	if len(pi) != ProofSize {
		return Proof{}, Hash{}, errors.New("xcrypto: unexpected VRF proof length")
	}
	var p Proof
	copy(p[:], pi)
	beta, err := ProofToHash(p)
	if err != nil {
		return Proof{}, Hash{}, err
	}
	return p, beta, nil
}

// VRFVerify checks that pi is a valid VRF proof by pub over alpha, and
// returns the beta it commits to.
func VRFVerify(pub PublicKey, alpha []byte, pi Proof) (Hash, error) {
	pk, err := stdPublicKey(pub)
	if err != nil {
		return Hash{}, err
	}
	if _, err := vrfSuite.Verify(pk, alpha, pi[:]); err != nil {
		return Hash{}, err
	}
	return ProofToHash(pi)
}

// ProofToHash derives beta from a proof alone, for callers (like the
// fork-tree replay path) that only need the seed for the following slot and
// already trust the proof was verified when the block was first accepted.
// beta = SHA-256(suite ‖ 0x03 ‖ gamma); the cofactor is 1 on secp256k1, so
// gamma is the proof's leading compressed point unchanged.
func ProofToHash(pi Proof) (Hash, error) {
	if _, err := secp256k1.ParsePubKey(pi[:PublicKeySize]); err != nil {
		return Hash{}, err
	}
	buf := make([]byte, 0, 2+PublicKeySize)
	buf = append(buf, vrfSuiteString, 0x03)
	buf = append(buf, pi[:PublicKeySize]...)
	return Sum(buf), nil
}
