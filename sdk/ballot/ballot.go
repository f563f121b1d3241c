package ballot

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ShareScale is the fixed point denominator used by AyeShare and NayShare,
// a share of 10000 is 100.00%.
const ShareScale = 10000

// VoteRecord is a single ballot entry as reported by the chain indexer.
type VoteRecord struct {
	Balance *big.Int
	IsAye   bool
}

// Ballot is the aggregated tally of a referendum at a point in time.
// VoteCount == VoteCountAye + VoteCountNay and VotedTotal == VotedAye + VotedNay
// hold for every Ballot returned by Aggregate.
type Ballot struct {
	VoteCount    uint64
	VoteCountAye uint64
	VoteCountNay uint64
	VotedAye     *big.Int
	VotedNay     *big.Int
	VotedTotal   *big.Int
}

// Empty returns the all-zero Ballot.
func Empty() *Ballot {
	return &Ballot{
		VotedAye:   new(big.Int),
		VotedNay:   new(big.Int),
		VotedTotal: new(big.Int),
	}
}

// Aggregate folds the records into a freshly allocated Ballot. The records are
// never mutated and the result does not depend on their order.
func Aggregate(records []VoteRecord) *Ballot {
	b := Empty()
	for _, r := range records {
		balance := r.Balance
		if balance == nil {
			balance = new(big.Int)
		}
		if r.IsAye {
			b.VoteCountAye++
			b.VotedAye.Add(b.VotedAye, balance)
		} else {
			b.VoteCountNay++
			b.VotedNay.Add(b.VotedNay, balance)
		}
		b.VoteCount++
		b.VotedTotal.Add(b.VotedTotal, balance)
	}
	return b
}

// Equal compares two ballots by value.
func (b *Ballot) Equal(other *Ballot) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.VoteCount == other.VoteCount &&
		b.VoteCountAye == other.VoteCountAye &&
		b.VoteCountNay == other.VoteCountNay &&
		bigEqual(b.VotedAye, other.VotedAye) &&
		bigEqual(b.VotedNay, other.VotedNay) &&
		bigEqual(b.VotedTotal, other.VotedTotal)
}

// AyeShare returns the aye share of the voted balance in units of 1/ShareScale.
// An empty ballot has a share of zero.
func (b *Ballot) AyeShare() uint64 {
	return share(b.VotedAye, b.VotedTotal)
}

// NayShare returns the nay share of the voted balance in units of 1/ShareScale.
func (b *Ballot) NayShare() uint64 {
	return share(b.VotedNay, b.VotedTotal)
}

func share(part, total *big.Int) uint64 {
	if total == nil || total.Sign() == 0 || part == nil {
		return 0
	}
	scaled := new(big.Int).Mul(part, big.NewInt(ShareScale))
	return scaled.Div(scaled, total).Uint64()
}

func bigEqual(a, b *big.Int) bool {
	return orZero(a).Cmp(orZero(b)) == 0
}

type jsonBallot struct {
	VoteCount    hexutil.Uint64 `json:"voteCount"`
	VoteCountAye hexutil.Uint64 `json:"voteCountAye"`
	VoteCountNay hexutil.Uint64 `json:"voteCountNay"`
	VotedAye     *hexutil.Big   `json:"votedAye"`
	VotedNay     *hexutil.Big   `json:"votedNay"`
	VotedTotal   *hexutil.Big   `json:"votedTotal"`
}

// MarshalJSON encodes the ballot with hex quantities, the same way the node
// encodes balances.
func (b *Ballot) MarshalJSON() ([]byte, error) {
	return json.Marshal(&jsonBallot{
		VoteCount:    hexutil.Uint64(b.VoteCount),
		VoteCountAye: hexutil.Uint64(b.VoteCountAye),
		VoteCountNay: hexutil.Uint64(b.VoteCountNay),
		VotedAye:     (*hexutil.Big)(orZero(b.VotedAye)),
		VotedNay:     (*hexutil.Big)(orZero(b.VotedNay)),
		VotedTotal:   (*hexutil.Big)(orZero(b.VotedTotal)),
	})
}

func (b *Ballot) UnmarshalJSON(input []byte) error {
	var dec jsonBallot
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	b.VoteCount = uint64(dec.VoteCount)
	b.VoteCountAye = uint64(dec.VoteCountAye)
	b.VoteCountNay = uint64(dec.VoteCountNay)
	b.VotedAye = orZero((*big.Int)(dec.VotedAye))
	b.VotedNay = orZero((*big.Int)(dec.VotedNay))
	b.VotedTotal = orZero((*big.Int)(dec.VotedTotal))
	return nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
