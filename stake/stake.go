// Package stake implements the wire layout, content hashing and signing of
// a deposit/withdraw stake operation. Per spec.md §9's open question, the
// amount field is treated as absent: a deposit always stakes exactly one
// coin and a withdraw always releases the signer's full staked balance.
package stake

import (
	"encoding/binary"
	"errors"
	"math/big"

	"driftchain/amount"
	"driftchain/xcrypto"
)

// Size is the wire width of a serialized stake.
const Size = 4 + amount.Size + 1 + xcrypto.SignatureSize

// ErrShortBuffer is returned by Deserialize when given a buffer whose length
// is not exactly Size.
var ErrShortBuffer = errors.New("stake: short buffer")

// Stake deposits one coin of stake or withdraws the signer's entire staked
// balance, depending on Deposit.
type Stake struct {
	Timestamp uint32
	Fee       [amount.Size]byte
	Deposit   bool
	Signature xcrypto.Signature
}

func (s *Stake) depositByte() byte {
	if s.Deposit {
		return 1
	}
	return 0
}

// preimage returns the 9-byte content that Hash digests.
func (s *Stake) preimage() []byte {
	buf := make([]byte, 4+amount.Size+1)
	binary.BigEndian.PutUint32(buf, s.Timestamp)
	n := 4
	n += copy(buf[n:], s.Fee[:])
	buf[n] = s.depositByte()
	return buf
}

// Hash is the content address of s.
func (s *Stake) Hash() xcrypto.Hash {
	return xcrypto.Sum(s.preimage())
}

// InputAddress recovers the signer's address from the signature over Hash.
func (s *Stake) InputAddress() (xcrypto.Address, error) {
	pub, err := xcrypto.Recover(s.Hash(), s.Signature)
	if err != nil {
		return xcrypto.Address{}, err
	}
	return xcrypto.AddressFromPublicKey(pub), nil
}

// Sign builds and signs a new Stake, flooring fee through the compact
// codec.
func Sign(key *xcrypto.PrivateKey, deposit bool, fee *big.Int, timestamp uint32) (*Stake, error) {
	st := &Stake{
		Timestamp: timestamp,
		Fee:       amount.Encode(fee),
		Deposit:   deposit,
	}
	sig, err := xcrypto.Sign(key, st.Hash())
	if err != nil {
		return nil, err
	}
	st.Signature = sig
	return st, nil
}

// Serialize encodes s in its fixed wire layout.
func (s *Stake) Serialize() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint32(buf, s.Timestamp)
	n := 4
	n += copy(buf[n:], s.Fee[:])
	buf[n] = s.depositByte()
	n++
	copy(buf[n:], s.Signature[:])
	return buf
}

// Deserialize decodes a stake from its wire layout.
func Deserialize(b []byte) (*Stake, error) {
	if len(b) != Size {
		return nil, ErrShortBuffer
	}
	var s Stake
	s.Timestamp = binary.BigEndian.Uint32(b)
	n := 4
	n += copy(s.Fee[:], b[n:n+amount.Size])
	s.Deposit = b[n] != 0
	n++
	copy(s.Signature[:], b[n:])
	return &s, nil
}
