package chain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/quorumcontrol/ballotbox/sdk/ballot"
)

// ProposalID is the on-chain index of a referendum.
type ProposalID uint32

// CallIndex identifies a runtime call by (section index, method index).
type CallIndex [2]byte

func (i CallIndex) String() string {
	return hexutil.Encode(i[:])
}

func (i CallIndex) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *CallIndex) UnmarshalText(input []byte) error {
	bits, err := hexutil.Decode(string(input))
	if err != nil {
		return fmt.Errorf("error decoding call index %q: %w", input, err)
	}
	if len(bits) != len(i) {
		return fmt.Errorf("call index %q must be %d bytes", input, len(i))
	}
	copy(i[:], bits)
	return nil
}

// Call is an encoded runtime call. Args are opaque until the call index has
// been resolved against the metadata of the matching spec version.
type Call struct {
	Index CallIndex     `json:"callIndex"`
	Args  hexutil.Bytes `json:"args"`
}

// RawRecord is the undecoded referendum record as stored on chain.
type RawRecord struct {
	ProposalHash common.Hash    `json:"proposalHash"`
	Proposal     Call           `json:"proposal"`
	SpecVersion  uint32         `json:"specVersion"`
	End          hexutil.Uint64 `json:"end"`
	Threshold    string         `json:"threshold"`
	Delay        hexutil.Uint64 `json:"delay"`
}

// Equal compares two records by value.
func (r *RawRecord) Equal(other *RawRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ProposalHash == other.ProposalHash &&
		r.Proposal.Index == other.Proposal.Index &&
		bytes.Equal(r.Proposal.Args, other.Proposal.Args) &&
		r.SpecVersion == other.SpecVersion &&
		r.End == other.End &&
		r.Threshold == other.Threshold &&
		r.Delay == other.Delay
}

// Vote is a single entry of democracy_referendumVotesFor.
type Vote struct {
	Voter   common.Address `json:"voter"`
	Balance *hexutil.Big   `json:"balance"`
	IsAye   bool           `json:"isAye"`
}

func (v Vote) Record() ballot.VoteRecord {
	var balance *big.Int
	if v.Balance != nil {
		balance = new(big.Int).Set((*big.Int)(v.Balance))
	}
	return ballot.VoteRecord{Balance: balance, IsAye: v.IsAye}
}

type Header struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
}

type RuntimeVersion struct {
	SpecName    string `json:"specName"`
	SpecVersion uint32 `json:"specVersion"`
}

type Health struct {
	IsSyncing       bool `json:"isSyncing"`
	Peers           int  `json:"peers"`
	ShouldHavePeers bool `json:"shouldHavePeers"`
}

// Subscription is a live referendum feed. Err delivers at most one error and
// is closed by Unsubscribe.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Client is everything the watcher and the voter need from a node. The
// readiness flag is polled, never awaited; callers go through a gate.Gate
// before issuing requests.
type Client interface {
	IsReady() bool
	GenesisHash(ctx context.Context) (common.Hash, error)
	Head(ctx context.Context) (*Header, error)
	RuntimeVersion(ctx context.Context) (*RuntimeVersion, error)

	// QueryReferendumRecord returns nil without error when the referendum
	// does not exist.
	QueryReferendumRecord(ctx context.Context, id ProposalID) (*RawRecord, error)
	QueryVotesFor(ctx context.Context, id ProposalID) ([]ballot.VoteRecord, error)
	SubscribeReferendum(ctx context.Context, id ProposalID, ch chan<- *RawRecord) (Subscription, error)

	QueryAccountNonce(ctx context.Context, addr common.Address) (uint64, error)
	QueryFreeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	SubmitSignedExtrinsic(ctx context.Context, tx []byte) (common.Hash, error)

	Close() error
}
