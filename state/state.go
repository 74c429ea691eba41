// Package state implements the per-fork ledger: the sparse balance/staked
// maps, the ordered staker queue, the rolling latest_blocks replay window,
// and append_block, the four-step block-application procedure that both
// the stable and unstable forks run (spec.md §4.4). Two independent State
// values exist in a running node — the promoted stable tail and the
// unstable state rebuilt by replay on every fork-tree update — so State
// carries no notion of which one it is; the caller decides.
package state

import (
	"math/big"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"driftchain/amount"
	"driftchain/block"
	"driftchain/election"
	"driftchain/params"
	"driftchain/xcrypto"
)

// State is one fork's replayed ledger.
type State struct {
	LatestBlock *block.Block
	Hashes      []xcrypto.Hash

	stakerOrder []xcrypto.Address
	stakerSet   mapset.Set

	balance map[xcrypto.Address]*big.Int
	staked  map[xcrypto.Address]*big.Int

	LatestBlocks []block.Block
}

// New returns an empty state, as used for a fresh genesis fork.
func New() *State {
	return &State{
		stakerSet: mapset.NewThreadUnsafeSet(),
		balance:   make(map[xcrypto.Address]*big.Int),
		staked:    make(map[xcrypto.Address]*big.Int),
	}
}

// Clone deep-copies s, for dynamic_fork replay and for seeding a fresh
// unstable state from the stable tail.
func (s *State) Clone() *State {
	c := New()
	c.LatestBlock = s.LatestBlock
	c.Hashes = append([]xcrypto.Hash(nil), s.Hashes...)
	c.stakerOrder = append([]xcrypto.Address(nil), s.stakerOrder...)
	c.stakerSet = s.stakerSet.Clone()
	for a, v := range s.balance {
		c.balance[a] = new(big.Int).Set(v)
	}
	for a, v := range s.staked {
		c.staked[a] = new(big.Int).Set(v)
	}
	c.LatestBlocks = append([]block.Block(nil), s.LatestBlocks...)
	return c
}

// Stakers returns a copy of the ordered staker queue.
func (s *State) Stakers() []xcrypto.Address {
	out := make([]xcrypto.Address, len(s.stakerOrder))
	copy(out, s.stakerOrder)
	return out
}

// Snapshot is the serializable projection of a State, used by package store
// to persist a checkpoint without exposing the internal staker-set/map
// representation.
type Snapshot struct {
	LatestBlock  *block.Block
	Hashes       []xcrypto.Hash
	StakerOrder  []xcrypto.Address
	Balance      map[xcrypto.Address]*big.Int
	Staked       map[xcrypto.Address]*big.Int
	LatestBlocks []block.Block
}

// Snapshot returns a serializable copy of s.
func (s *State) Snapshot() Snapshot {
	balance := make(map[xcrypto.Address]*big.Int, len(s.balance))
	for a, v := range s.balance {
		balance[a] = new(big.Int).Set(v)
	}
	staked := make(map[xcrypto.Address]*big.Int, len(s.staked))
	for a, v := range s.staked {
		staked[a] = new(big.Int).Set(v)
	}
	return Snapshot{
		LatestBlock:  s.LatestBlock,
		Hashes:       append([]xcrypto.Hash(nil), s.Hashes...),
		StakerOrder:  append([]xcrypto.Address(nil), s.stakerOrder...),
		Balance:      balance,
		Staked:       staked,
		LatestBlocks: append([]block.Block(nil), s.LatestBlocks...),
	}
}

// FromSnapshot rebuilds a State from a previously-taken Snapshot.
func FromSnapshot(snap Snapshot) *State {
	s := New()
	s.LatestBlock = snap.LatestBlock
	s.Hashes = append([]xcrypto.Hash(nil), snap.Hashes...)
	for a, v := range snap.Balance {
		s.balance[a] = new(big.Int).Set(v)
	}
	for a, v := range snap.Staked {
		s.staked[a] = new(big.Int).Set(v)
	}
	s.LatestBlocks = append([]block.Block(nil), snap.LatestBlocks...)
	for _, a := range snap.StakerOrder {
		s.stakerOrder = append(s.stakerOrder, a)
		s.stakerSet.Add(a)
	}
	return s
}

// BalanceOf returns a's balance, zero if absent.
func (s *State) BalanceOf(a xcrypto.Address) *big.Int {
	if v, ok := s.balance[a]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// StakedOf returns a's staked balance, zero if absent.
func (s *State) StakedOf(a xcrypto.Address) *big.Int {
	if v, ok := s.staked[a]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (s *State) setBalance(a xcrypto.Address, v *big.Int) {
	if v.Sign() == 0 {
		delete(s.balance, a)
		return
	}
	s.balance[a] = v
}

func (s *State) setStaked(a xcrypto.Address, v *big.Int) {
	if v.Sign() == 0 {
		delete(s.staked, a)
		return
	}
	s.staked[a] = v
}

func (s *State) addBalance(a xcrypto.Address, delta *big.Int) {
	s.setBalance(a, new(big.Int).Add(s.BalanceOf(a), delta))
}

func (s *State) subBalance(a xcrypto.Address, delta *big.Int) {
	s.setBalance(a, new(big.Int).Sub(s.BalanceOf(a), delta))
}

func (s *State) addStaked(a xcrypto.Address, delta *big.Int) {
	s.setStaked(a, new(big.Int).Add(s.StakedOf(a), delta))
}

// subStakedSaturating subtracts delta from a's staked balance, clamping at
// zero, as the slashing penalty requires.
func (s *State) subStakedSaturating(a xcrypto.Address, delta *big.Int) {
	v := new(big.Int).Sub(s.StakedOf(a), delta)
	if v.Sign() < 0 {
		v.SetInt64(0)
	}
	s.setStaked(a, v)
}

// updateStakerMembership enforces the invariant a ∈ stakers ⇔ staked[a] ≥
// one coin.
func (s *State) updateStakerMembership(a xcrypto.Address) {
	eligible := s.StakedOf(a).Cmp(params.Coin) >= 0
	if eligible {
		if s.stakerSet.Add(a) {
			s.stakerOrder = append(s.stakerOrder, a)
		}
		return
	}
	if s.stakerSet.Contains(a) {
		s.stakerSet.Remove(a)
		for i, addr := range s.stakerOrder {
			if addr == a {
				s.stakerOrder = append(s.stakerOrder[:i], s.stakerOrder[i+1:]...)
				break
			}
		}
	}
}

func (s *State) latestBeta() (xcrypto.Hash, error) {
	if s.LatestBlock == nil {
		return params.GenesisBeta, nil
	}
	return s.LatestBlock.Beta()
}

// LatestBeta is the VRF seed the next block along this fork must prove
// against: GenesisBeta if this fork has applied no blocks yet.
func (s *State) LatestBeta() (xcrypto.Hash, error) {
	return s.latestBeta()
}

// CanApply reports whether b's transactions and stakes can be debited from
// this fork without any balance or staked subtraction underflowing. Scratch
// maps shadow the fork's values, so operations that each pass pending-pool
// admission in isolation are still caught in combination.
func (s *State) CanApply(b *block.Block) bool {
	balance := make(map[xcrypto.Address]*big.Int)
	staked := make(map[xcrypto.Address]*big.Int)
	balanceOf := func(a xcrypto.Address) *big.Int {
		if v, ok := balance[a]; ok {
			return v
		}
		v := s.BalanceOf(a)
		balance[a] = v
		return v
	}
	stakedOf := func(a xcrypto.Address) *big.Int {
		if v, ok := staked[a]; ok {
			return v
		}
		v := s.StakedOf(a)
		staked[a] = v
		return v
	}

	for i := range b.Transactions {
		tx := &b.Transactions[i]
		input, err := tx.InputAddress()
		if err != nil {
			return false
		}
		need := new(big.Int).Add(amount.Decode(tx.Amount), amount.Decode(tx.Fee))
		bal := balanceOf(input)
		if bal.Cmp(need) < 0 {
			return false
		}
		bal.Sub(bal, need)
	}
	for i := range b.Stakes {
		st := &b.Stakes[i]
		input, err := st.InputAddress()
		if err != nil {
			return false
		}
		fee := amount.Decode(st.Fee)
		if st.Deposit {
			need := new(big.Int).Add(params.Coin, fee)
			bal := balanceOf(input)
			if bal.Cmp(need) < 0 {
				return false
			}
			bal.Sub(bal, need)
		} else {
			stk := stakedOf(input)
			if stk.Cmp(fee) < 0 {
				return false
			}
			bal := balanceOf(input)
			bal.Add(bal, new(big.Int).Sub(stk, fee))
			stk.SetInt64(0)
		}
	}
	return true
}

func (s *State) latestTimestamp() uint32 {
	if s.LatestBlock == nil {
		return 0
	}
	return s.LatestBlock.Timestamp
}

// ContainsTransaction reports whether hash was already applied within the
// latest_blocks replay window.
func (s *State) ContainsTransaction(hash xcrypto.Hash) bool {
	for i := range s.LatestBlocks {
		for j := range s.LatestBlocks[i].Transactions {
			if s.LatestBlocks[i].Transactions[j].Hash() == hash {
				return true
			}
		}
	}
	return false
}

// ContainsStake reports whether hash was already applied within the
// latest_blocks replay window.
func (s *State) ContainsStake(hash xcrypto.Hash) bool {
	for i := range s.LatestBlocks {
		for j := range s.LatestBlocks[i].Stakes {
			if s.LatestBlocks[i].Stakes[j].Hash() == hash {
				return true
			}
		}
	}
	return false
}

// AppendBlock runs the four-step application procedure for b, assuming it
// has already passed validation. previousTimestamp is the timestamp of the
// block previously at the head of this fork (0 for genesis). loading
// suppresses slashing/cold-start-mint log lines during a bulk store replay.
func (s *State) AppendBlock(b *block.Block, previousTimestamp uint32, loading bool) error {
	forger, err := b.InputAddress()
	if err != nil {
		return err
	}

	// (1) slash stakers drawn for the missed slots, then re-run the draw
	// for this slot: if it exhausts the remaining stake pool, the forger is
	// staked one coin directly. That cold-start mint is the only path into
	// the initial staker set, and it re-seeds the queue whenever slashing
	// empties it.
	n := election.Offline(b.Timestamp, previousTimestamp)
	beta, err := s.latestBeta()
	if err != nil {
		return err
	}
	if n >= 1 {
		seq, _ := election.StakersN(s.Stakers(), s.staked, beta, n-1)
		for i, addr := range seq {
			s.subStakedSaturating(addr, election.Penalty(uint64(i+1)))
			s.updateStakerMembership(addr)
			if !loading {
				logrus.WithField("staker", addr).Warn("slashed for missed slot")
			}
		}
	}
	minted := false
	if _, exhausted := election.StakersN(s.Stakers(), s.staked, beta, n); exhausted {
		s.setStaked(forger, new(big.Int).Set(params.Coin))
		s.updateStakerMembership(forger)
		minted = true
		if !loading {
			logrus.WithField("forger", forger).Info("staker pool exhausted, minted stake to forger")
		}
	}

	// (2) credit block reward.
	s.addBalance(forger, b.Reward())

	// (3) apply transactions then stakes, in block order. The single stake
	// of a mint block is a shape marker only: its coin was staked in (1).
	touched := make([]xcrypto.Address, 0, len(b.Stakes))
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		input, err := tx.InputAddress()
		if err != nil {
			return err
		}
		amt := amount.Decode(tx.Amount)
		fee := amount.Decode(tx.Fee)
		s.subBalance(input, new(big.Int).Add(amt, fee))
		s.addBalance(tx.OutputAddress, amt)
	}
	for i := range b.Stakes {
		st := &b.Stakes[i]
		input, err := st.InputAddress()
		if err != nil {
			return err
		}
		touched = append(touched, input)
		if minted {
			continue
		}
		fee := amount.Decode(st.Fee)
		if st.Deposit {
			s.subBalance(input, new(big.Int).Add(params.Coin, fee))
			s.addStaked(input, params.Coin)
		} else {
			withdrawn := s.StakedOf(input)
			s.addBalance(input, new(big.Int).Sub(withdrawn, fee))
			s.setStaked(input, big.NewInt(0))
		}
	}

	// (4) update staker membership for every stake input.
	for _, a := range touched {
		s.updateStakerMembership(a)
	}

	hash := b.Hash()
	s.Hashes = append(s.Hashes, hash)
	kept := s.LatestBlocks[:0]
	for _, blk := range s.LatestBlocks {
		if blk.Timestamp+params.Elapsed >= b.Timestamp {
			kept = append(kept, blk)
		}
	}
	s.LatestBlocks = append(kept, *b)
	s.LatestBlock = b
	return nil
}

// NextStaker returns the elected forger for slot t, or false when the draw
// exhausts the stake pool (always the case for an empty pool), in which case
// any address may forge a mint block.
func (s *State) NextStaker(t uint32) (xcrypto.Address, bool) {
	beta, err := s.latestBeta()
	if err != nil {
		return xcrypto.Address{}, false
	}
	return election.NextStaker(s.Stakers(), s.staked, beta, t, s.latestTimestamp())
}
