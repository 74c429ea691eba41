// Package block implements the wire layout, Merkle commitments and content
// hashing of a forged block, and the leader's Sign entry point.
package block

import (
	"encoding/binary"
	"errors"
	"math/big"

	"driftchain/amount"
	"driftchain/params"
	"driftchain/stake"
	"driftchain/transaction"
	"driftchain/xcrypto"
)

// PreimageSize is the width of the hashed block header:
// previous_hash ‖ merkle(tx) ‖ merkle(stake) ‖ timestamp_be ‖ pi.
const PreimageSize = xcrypto.HashSize*3 + 4 + xcrypto.ProofSize

var errNilPrevious = errors.New("block: previous header required to derive alpha")

// Block is one forged slot: a header committing to an ordered list of
// transactions and stakes, sealed by the leader's signature.
type Block struct {
	PreviousHash xcrypto.Hash
	Timestamp    uint32
	Pi           xcrypto.Proof
	Signature    xcrypto.Signature
	Transactions []transaction.Transaction
	Stakes       []stake.Stake
}

// MerkleRoot computes the root of a complete binary Merkle tree over
// leaves, combining pairs with SHA-256(left‖right). An empty leaf set
// yields the all-zero hash.
func MerkleRoot(leaves []xcrypto.Hash) xcrypto.Hash {
	switch len(leaves) {
	case 0:
		return xcrypto.Hash{}
	case 1:
		return leaves[0]
	}
	mid := (len(leaves) + 1) / 2
	left := MerkleRoot(leaves[:mid])
	right := MerkleRoot(leaves[mid:])
	buf := make([]byte, xcrypto.HashSize*2)
	copy(buf, left[:])
	copy(buf[xcrypto.HashSize:], right[:])
	return xcrypto.Sum(buf)
}

func (b *Block) txHashes() []xcrypto.Hash {
	hashes := make([]xcrypto.Hash, len(b.Transactions))
	for i := range b.Transactions {
		hashes[i] = b.Transactions[i].Hash()
	}
	return hashes
}

func (b *Block) stakeHashes() []xcrypto.Hash {
	hashes := make([]xcrypto.Hash, len(b.Stakes))
	for i := range b.Stakes {
		hashes[i] = b.Stakes[i].Hash()
	}
	return hashes
}

func (b *Block) preimage() []byte {
	buf := make([]byte, PreimageSize)
	n := copy(buf, b.PreviousHash[:])
	txRoot := MerkleRoot(b.txHashes())
	n += copy(buf[n:], txRoot[:])
	stakeRoot := MerkleRoot(b.stakeHashes())
	n += copy(buf[n:], stakeRoot[:])
	binary.BigEndian.PutUint32(buf[n:], b.Timestamp)
	n += 4
	copy(buf[n:], b.Pi[:])
	return buf
}

// Hash is the content address of b.
func (b *Block) Hash() xcrypto.Hash {
	return xcrypto.Sum(b.preimage())
}

// InputPublicKey recovers the forger's public key from Signature over Hash.
func (b *Block) InputPublicKey() (xcrypto.PublicKey, error) {
	return xcrypto.Recover(b.Hash(), b.Signature)
}

// InputAddress recovers the forger's address.
func (b *Block) InputAddress() (xcrypto.Address, error) {
	pub, err := b.InputPublicKey()
	if err != nil {
		return xcrypto.Address{}, err
	}
	return xcrypto.AddressFromPublicKey(pub), nil
}

// Beta is the VRF output this block's proof commits to, the seed for the
// following slot's leader election.
func (b *Block) Beta() (xcrypto.Hash, error) {
	return xcrypto.ProofToHash(b.Pi)
}

// Reward is the total credited to the forger: every transaction and stake
// fee plus one coin of newly minted block subsidy.
func (b *Block) Reward() *big.Int {
	total := new(big.Int).Set(params.Coin)
	for i := range b.Transactions {
		total.Add(total, amount.Decode(b.Transactions[i].Fee))
	}
	for i := range b.Stakes {
		total.Add(total, amount.Decode(b.Stakes[i].Fee))
	}
	return total
}

// IsGenesisPrevious reports whether previousHash is the all-zero sentinel.
func IsGenesisPrevious(previousHash xcrypto.Hash) bool {
	return previousHash == params.ZeroHash
}

// Alpha returns the VRF input for the block that follows a header with the
// given hash and beta: the previous block's beta, or the genesis beta
// constant if previous is the genesis sentinel itself.
func Alpha(previousHash xcrypto.Hash, previousBeta xcrypto.Hash) []byte {
	if IsGenesisPrevious(previousHash) {
		return params.GenesisBeta[:]
	}
	return previousBeta[:]
}

// Sign assembles and seals a new block: it proves the VRF over alpha(the
// previous block's beta, or GenesisBeta), computes the content hash, and
// signs it with key.
func Sign(key *xcrypto.PrivateKey, previousHash xcrypto.Hash, previousBeta xcrypto.Hash, timestamp uint32, txs []transaction.Transaction, stakes []stake.Stake) (*Block, error) {
	alpha := Alpha(previousHash, previousBeta)
	pi, _, err := xcrypto.VRFProve(key, alpha)
	if err != nil {
		return nil, err
	}
	b := &Block{
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Pi:           pi,
		Transactions: txs,
		Stakes:       stakes,
	}
	sig, err := xcrypto.Sign(key, b.Hash())
	if err != nil {
		return nil, err
	}
	b.Signature = sig
	return b, nil
}

// Serialize encodes b as a fixed-size header that ends with the transaction
// count and the stake count, followed by the serialized transactions and
// then the serialized stakes.
func (b *Block) Serialize() []byte {
	head := make([]byte, xcrypto.HashSize+4+xcrypto.ProofSize+xcrypto.SignatureSize+8)
	n := copy(head, b.PreviousHash[:])
	binary.BigEndian.PutUint32(head[n:], b.Timestamp)
	n += 4
	n += copy(head[n:], b.Pi[:])
	n += copy(head[n:], b.Signature[:])
	binary.BigEndian.PutUint32(head[n:], uint32(len(b.Transactions)))
	n += 4
	binary.BigEndian.PutUint32(head[n:], uint32(len(b.Stakes)))

	out := make([]byte, 0, len(head)+len(b.Transactions)*transaction.Size+len(b.Stakes)*stake.Size)
	out = append(out, head...)
	for i := range b.Transactions {
		out = append(out, b.Transactions[i].Serialize()...)
	}
	for i := range b.Stakes {
		out = append(out, b.Stakes[i].Serialize()...)
	}
	return out
}

// ErrShortBuffer is returned by Deserialize on a truncated or malformed
// input.
var ErrShortBuffer = errors.New("block: short buffer")

// Deserialize decodes a block previously produced by Serialize.
func Deserialize(b []byte) (*Block, error) {
	headSize := xcrypto.HashSize + 4 + xcrypto.ProofSize + xcrypto.SignatureSize + 8
	if len(b) < headSize {
		return nil, ErrShortBuffer
	}
	var blk Block
	n := copy(blk.PreviousHash[:], b)
	blk.Timestamp = binary.BigEndian.Uint32(b[n:])
	n += 4
	n += copy(blk.Pi[:], b[n:])
	n += copy(blk.Signature[:], b[n:])
	txCount := binary.BigEndian.Uint32(b[n:])
	n += 4
	stakeCount := binary.BigEndian.Uint32(b[n:])
	n += 4

	rest := b[n:]
	need := int(txCount)*transaction.Size + int(stakeCount)*stake.Size
	if len(rest) < need {
		return nil, ErrShortBuffer
	}
	blk.Transactions = make([]transaction.Transaction, txCount)
	for i := range blk.Transactions {
		tx, err := transaction.Deserialize(rest[:transaction.Size])
		if err != nil {
			return nil, err
		}
		blk.Transactions[i] = *tx
		rest = rest[transaction.Size:]
	}
	blk.Stakes = make([]stake.Stake, stakeCount)
	for i := range blk.Stakes {
		st, err := stake.Deserialize(rest[:stake.Size])
		if err != nil {
			return nil, err
		}
		blk.Stakes[i] = *st
		rest = rest[stake.Size:]
	}
	return &blk, nil
}
