// Package transaction implements the wire layout, content hashing and
// signing of a value transfer.
package transaction

import (
	"encoding/binary"
	"errors"
	"math/big"

	"driftchain/amount"
	"driftchain/xcrypto"
)

// Size is the wire width of a serialized transaction.
const Size = xcrypto.AddressSize + 4 + amount.Size + amount.Size + xcrypto.SignatureSize

// ErrShortBuffer is returned by Deserialize when given a buffer whose length
// is not exactly Size.
var ErrShortBuffer = errors.New("transaction: short buffer")

// Transaction moves Amount of the native asset from the signer to
// OutputAddress, paying Fee to the forger that includes it.
type Transaction struct {
	OutputAddress xcrypto.Address
	Timestamp     uint32
	Amount        [amount.Size]byte
	Fee           [amount.Size]byte
	Signature     xcrypto.Signature
}

// preimage returns the 32-byte content that Hash digests: every field
// except the signature.
func (t *Transaction) preimage() []byte {
	buf := make([]byte, xcrypto.AddressSize+4+amount.Size+amount.Size)
	n := copy(buf, t.OutputAddress[:])
	binary.BigEndian.PutUint32(buf[n:], t.Timestamp)
	n += 4
	n += copy(buf[n:], t.Amount[:])
	copy(buf[n:], t.Fee[:])
	return buf
}

// Hash is the content address of t: SHA-256 over every field but the
// signature.
func (t *Transaction) Hash() xcrypto.Hash {
	return xcrypto.Sum(t.preimage())
}

// InputAddress recovers the sender's address from the signature over Hash.
func (t *Transaction) InputAddress() (xcrypto.Address, error) {
	pub, err := xcrypto.Recover(t.Hash(), t.Signature)
	if err != nil {
		return xcrypto.Address{}, err
	}
	return xcrypto.AddressFromPublicKey(pub), nil
}

// Sign builds a new Transaction, flooring amt and fee through the compact
// codec before hashing and signing so the fields stored are always fixed
// points of it.
func Sign(key *xcrypto.PrivateKey, output xcrypto.Address, amt, fee *big.Int, timestamp uint32) (*Transaction, error) {
	tx := &Transaction{
		OutputAddress: output,
		Timestamp:     timestamp,
		Amount:        amount.Encode(amt),
		Fee:           amount.Encode(fee),
	}
	sig, err := xcrypto.Sign(key, tx.Hash())
	if err != nil {
		return nil, err
	}
	tx.Signature = sig
	return tx, nil
}

// Serialize encodes t in its fixed wire layout.
func (t *Transaction) Serialize() []byte {
	buf := make([]byte, Size)
	n := copy(buf, t.OutputAddress[:])
	binary.BigEndian.PutUint32(buf[n:], t.Timestamp)
	n += 4
	n += copy(buf[n:], t.Amount[:])
	n += copy(buf[n:], t.Fee[:])
	copy(buf[n:], t.Signature[:])
	return buf
}

// Deserialize decodes a transaction from its wire layout.
func Deserialize(b []byte) (*Transaction, error) {
	if len(b) != Size {
		return nil, ErrShortBuffer
	}
	var t Transaction
	n := copy(t.OutputAddress[:], b)
	t.Timestamp = binary.BigEndian.Uint32(b[n:])
	n += 4
	n += copy(t.Amount[:], b[n:n+amount.Size])
	n += copy(t.Fee[:], b[n:n+amount.Size])
	copy(t.Signature[:], b[n:])
	return &t, nil
}
