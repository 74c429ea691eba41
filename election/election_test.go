package election

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"driftchain/params"
	"driftchain/xcrypto"
)

func addrN(n byte) xcrypto.Address {
	var a xcrypto.Address
	a[len(a)-1] = n
	return a
}

func TestOfflineZeroWhenOnTime(t *testing.T) {
	require.Equal(t, uint64(0), Offline(120, 60))
}

func TestOfflineOneMissedSlot(t *testing.T) {
	// matches spec.md's worked example: offline(180, 60) = 1
	require.Equal(t, uint64(1), Offline(180, 60))
}

func TestPenaltyZeroAtDrawZero(t *testing.T) {
	require.Equal(t, 0, Penalty(0).Sign())
}

func TestPenaltyGeometric(t *testing.T) {
	require.Equal(t, 0, Penalty(1).Cmp(params.Coin))
	require.Equal(t, 0, Penalty(2).Cmp(new(big.Int).Mul(params.Coin, big.NewInt(2))))
	require.Equal(t, 0, Penalty(3).Cmp(new(big.Int).Mul(params.Coin, big.NewInt(4))))
}

func TestStakersNSingleStakerDrawsRepeatedly(t *testing.T) {
	a := addrN(1)
	staked := map[xcrypto.Address]*big.Int{a: new(big.Int).Mul(params.Coin, big.NewInt(10))}
	beta := xcrypto.Sum([]byte("beta"))

	seq, exhausted := StakersN([]xcrypto.Address{a}, staked, beta, 2)
	require.False(t, exhausted)
	require.Equal(t, []xcrypto.Address{a, a, a}, seq)
}

func TestStakersNExhaustsWhenStakeTooLow(t *testing.T) {
	a := addrN(1)
	staked := map[xcrypto.Address]*big.Int{a: big.NewInt(1)}
	beta := xcrypto.Sum([]byte("beta"))

	_, exhausted := StakersN([]xcrypto.Address{a}, staked, beta, 2)
	require.True(t, exhausted)
}

func TestStakersNDeterministic(t *testing.T) {
	a, b, c := addrN(1), addrN(2), addrN(3)
	staked := map[xcrypto.Address]*big.Int{
		a: new(big.Int).Mul(params.Coin, big.NewInt(5)),
		b: new(big.Int).Mul(params.Coin, big.NewInt(3)),
		c: new(big.Int).Mul(params.Coin, big.NewInt(2)),
	}
	beta := xcrypto.Sum([]byte("fixed-beta"))
	queue := []xcrypto.Address{a, b, c}

	seq1, ex1 := StakersN(queue, staked, beta, 4)
	seq2, ex2 := StakersN(queue, staked, beta, 4)
	require.Equal(t, ex1, ex2)
	require.Equal(t, seq1, seq2)
}

func TestNextStakerEmptyQueueReturnsFalse(t *testing.T) {
	beta := xcrypto.Sum([]byte("beta"))
	_, ok := NextStaker(nil, nil, beta, 120, 60)
	require.False(t, ok)
}
