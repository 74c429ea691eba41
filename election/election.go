// Package election implements the VRF-beta-seeded leader draw: how many
// slots were missed since the previous block, the geometric slashing
// penalty applied to stakers drawn for those missed slots, and the
// deterministic stakers_n procedure both slashing and forging consult.
package election

import (
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/holiman/uint256"

	"driftchain/params"
	"driftchain/xcrypto"
)

// Offline returns the number of whole slots missed between prev and t,
// clamped at zero.
func Offline(t, prev uint32) uint64 {
	if t <= prev {
		return 0
	}
	delta := uint64(t) - uint64(prev) - 1
	return delta / params.BlockTime
}

// Penalty is the geometric slashing deduction applied to the staker drawn
// at position i (1-indexed in the draw sequence); Penalty(0) is zero.
func Penalty(i uint64) *big.Int {
	if i == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Lsh(params.Coin, uint(i-1))
}

func seedFor(beta xcrypto.Hash, i uint64) xcrypto.Hash {
	var buf [xcrypto.HashSize + 16]byte
	copy(buf[:xcrypto.HashSize], beta[:])
	binary.BigEndian.PutUint64(buf[xcrypto.HashSize+8:], i)
	return xcrypto.Sum(buf[:])
}

// draw returns (u256(seed) mod modulo) + 1, in [1, modulo]. modulo must be
// positive.
func draw(seed xcrypto.Hash, modulo *big.Int) *big.Int {
	var seedU256, moduloU256, rU256 uint256.Int
	seedU256.SetBytes(seed[:])
	moduloU256.SetFromBig(modulo)
	rU256.Mod(&seedU256, &moduloU256)
	r := rU256.ToBig()
	return r.Add(r, big.NewInt(1))
}

type weighted struct {
	address xcrypto.Address
	staked  *big.Int
}

// StakersN produces the ordered n+1-length draw sequence over the given
// staker queue (stakers, in queue order) and their staked balances, seeded
// by beta. It returns the sequence and whether the draw was cut short
// because the remaining stake pool (modulo) was exhausted by slashing.
func StakersN(stakers []xcrypto.Address, staked map[xcrypto.Address]*big.Int, beta xcrypto.Hash, n uint64) ([]xcrypto.Address, bool) {
	v := make([]weighted, len(stakers))
	for i, a := range stakers {
		amt, ok := staked[a]
		if !ok {
			amt = big.NewInt(0)
		}
		v[i] = weighted{address: a, staked: new(big.Int).Set(amt)}
	}
	sort.SliceStable(v, func(i, j int) bool {
		return v[i].staked.Cmp(v[j].staked) > 0
	})

	modulo := big.NewInt(0)
	for _, w := range v {
		modulo.Add(modulo, w.staked)
	}

	seq := make([]xcrypto.Address, 0, n+1)
	for i := uint64(0); i <= n; i++ {
		p := Penalty(i)
		if modulo.Cmp(p) <= 0 {
			modulo.SetInt64(0)
		} else {
			modulo.Sub(modulo, p)
		}
		if modulo.Sign() == 0 {
			return seq, true
		}

		seed := seedFor(beta, i)
		r := draw(seed, modulo)

		cumulative := big.NewInt(0)
		k := len(v) - 1
		for idx, w := range v {
			cumulative.Add(cumulative, w.staked)
			if cumulative.Cmp(r) >= 0 {
				k = idx
				break
			}
		}
		seq = append(seq, v[k].address)
		if v[k].staked.Cmp(p) <= 0 {
			v[k].staked.SetInt64(0)
		} else {
			v[k].staked.Sub(v[k].staked, p)
		}
	}
	return seq, false
}

// NextStaker returns the elected forger for slot timestamp t, given the
// current staker queue/stakes and the previous block's timestamp and beta.
// It returns false if the draw exhausted the pool before completing.
func NextStaker(stakers []xcrypto.Address, staked map[xcrypto.Address]*big.Int, beta xcrypto.Hash, t, latestBlockTimestamp uint32) (xcrypto.Address, bool) {
	n := Offline(t, latestBlockTimestamp)
	seq, exhausted := StakersN(stakers, staked, beta, n)
	if exhausted || len(seq) == 0 {
		return xcrypto.Address{}, false
	}
	return seq[len(seq)-1], true
}
