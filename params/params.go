// Package params collects the wire-observable network constants that must
// match bit-exactly across every validator on the same network (spec.md
// §6). They are plain values rather than a loaded config because changing
// any of them changes the protocol, not a node's local policy.
package params

import (
	"math/big"

	"driftchain/xcrypto"
)

const (
	// BlockTime is the fixed slot period in seconds.
	BlockTime = 60
	// Elapsed is the ancient threshold in seconds: anything older than
	// latest_block.timestamp - Elapsed is evicted from pending pools and
	// rejected from new blocks.
	Elapsed = 90
	// BlockSizeLimit bounds the serialized size of a forged block's
	// transactions and stakes.
	BlockSizeLimit = 4 << 20 // 4 MiB
	// MaxTransmitSize bounds a single sync response's serialized blocks.
	MaxTransmitSize = 16 << 20 // 16 MiB
)

// Coin is one whole unit of stake/balance (10^18 base units).
var Coin = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// GenesisBeta is the fixed VRF seed used in place of a previous block's
// beta when proving/verifying the first block after genesis. It is a
// network parameter: every validator on the same network must agree on it.
var GenesisBeta = xcrypto.Sum([]byte("driftchain genesis beta v1"))

// ZeroHash is the all-zero previous_hash that marks genesis.
var ZeroHash xcrypto.Hash
