package ballot

import (
	"encoding/json"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vote(balance int64, aye bool) VoteRecord {
	return VoteRecord{Balance: big.NewInt(balance), IsAye: aye}
}

func requireInvariants(t *testing.T, b *Ballot) {
	require.Equal(t, b.VoteCount, b.VoteCountAye+b.VoteCountNay)
	require.Zero(t, new(big.Int).Add(b.VotedAye, b.VotedNay).Cmp(b.VotedTotal))
}

func TestAggregateScenario(t *testing.T) {
	b := Aggregate([]VoteRecord{vote(100, true), vote(50, false), vote(25, true)})

	assert.Equal(t, uint64(3), b.VoteCount)
	assert.Equal(t, uint64(2), b.VoteCountAye)
	assert.Equal(t, uint64(1), b.VoteCountNay)
	assert.Equal(t, "125", b.VotedAye.String())
	assert.Equal(t, "50", b.VotedNay.String())
	assert.Equal(t, "175", b.VotedTotal.String())
	requireInvariants(t, b)
}

func TestAggregateEmpty(t *testing.T) {
	b := Aggregate(nil)
	assert.True(t, b.Equal(Empty()))
	assert.Zero(t, b.VoteCount)
	assert.Zero(t, b.VotedTotal.Sign())
	assert.Zero(t, b.AyeShare())
	assert.Zero(t, b.NayShare())
	requireInvariants(t, b)
}

func TestAggregateOrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 50; i++ {
		records := make([]VoteRecord, r.Intn(20))
		for j := range records {
			records[j] = vote(r.Int63(), r.Intn(2) == 0)
		}
		expected := Aggregate(records)
		requireInvariants(t, expected)

		shuffled := make([]VoteRecord, len(records))
		copy(shuffled, records)
		r.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		require.True(t, expected.Equal(Aggregate(shuffled)), "permutation %d changed the ballot", i)
	}
}

func TestAggregateDoesNotOverflow(t *testing.T) {
	huge, ok := new(big.Int).SetString("340282366920938463463374607431768211455", 10) // 2^128-1
	require.True(t, ok)

	b := Aggregate([]VoteRecord{{Balance: huge, IsAye: true}, {Balance: huge, IsAye: true}})
	expected := new(big.Int).Mul(huge, big.NewInt(2))
	assert.Zero(t, expected.Cmp(b.VotedAye))
	assert.Zero(t, expected.Cmp(b.VotedTotal))
}

func TestAggregateDoesNotMutateRecords(t *testing.T) {
	records := []VoteRecord{vote(10, true), vote(20, true)}
	Aggregate(records)
	assert.Equal(t, "10", records[0].Balance.String())
	assert.Equal(t, "20", records[1].Balance.String())
}

func TestAggregateNilBalance(t *testing.T) {
	b := Aggregate([]VoteRecord{{IsAye: false}})
	assert.Equal(t, uint64(1), b.VoteCountNay)
	assert.Zero(t, b.VotedNay.Sign())
	requireInvariants(t, b)
}

func TestShares(t *testing.T) {
	b := Aggregate([]VoteRecord{vote(100, true), vote(50, false), vote(25, true)})
	assert.Equal(t, uint64(7142), b.AyeShare())
	assert.Equal(t, uint64(2857), b.NayShare())
	assert.Equal(t, "71.42%", FormatShare(b.AyeShare()))
}

func TestEqual(t *testing.T) {
	a := Aggregate([]VoteRecord{vote(1, true)})
	b := Aggregate([]VoteRecord{vote(1, true)})
	c := Aggregate([]VoteRecord{vote(1, false)})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*Ballot)(nil).Equal(nil))
}

func TestBallotJSON(t *testing.T) {
	b := Aggregate([]VoteRecord{vote(100, true), vote(50, false)})
	bits, err := json.Marshal(b)
	require.Nil(t, err)
	assert.Contains(t, string(bits), `"votedTotal":"0x96"`)

	decoded := &Ballot{}
	require.Nil(t, json.Unmarshal(bits, decoded))
	assert.True(t, b.Equal(decoded))
}

func TestFormatBalance(t *testing.T) {
	assert.Equal(t, "175.0000", FormatBalance(big.NewInt(175), 0, ""))
	assert.Equal(t, "1.2345 M", FormatBalance(big.NewInt(1234567), 0, ""))
	assert.Equal(t, "1.5000 kUnit", FormatBalance(big.NewInt(1500000), 3, "Unit"))
	assert.Equal(t, "0.0012 DOT", FormatBalance(big.NewInt(12), 4, "DOT"))
	assert.Equal(t, "0.0000", FormatBalance(nil, 0, ""))
}
