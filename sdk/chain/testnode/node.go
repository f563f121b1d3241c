// Package testnode is an in-memory ledger that serves the node JSON-RPC API
// over an in-process connection.
package testnode

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/extrinsic"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
	"github.com/quorumcontrol/ballotbox/sdk/signatures"
)

// Error codes returned by author_submitExtrinsic.
const (
	CodeMalformed           = 1001
	CodeBadSignature        = 1002
	CodeInsufficientBalance = 1003
	CodeWrongRuntime        = 1004
	CodeUnknownReferendum   = 1005
	CodeUnsupportedCall     = 1006
	CodeStaleNonce          = 1010
)

// RejectionError is what the node answers when it refuses an extrinsic.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return e.Message
}

func (e *RejectionError) ErrorCode() int {
	return e.Code
}

type referendum struct {
	record *chain.RawRecord
	votes  []chain.Vote
}

type update struct {
	id     chain.ProposalID
	record *chain.RawRecord
}

type Node struct {
	sync.RWMutex

	genesis  common.Hash
	head     uint64
	runtime  chain.RuntimeVersion
	syncing  bool
	registry *metadata.Registry

	referenda map[chain.ProposalID]*referendum
	nonces    map[common.Address]uint64
	balances  map[common.Address]*big.Int
	submitted []*extrinsic.Signed
	reject    *RejectionError

	feed   event.Feed
	server *rpc.Server
}

// New starts a node at spec version 1 with the built-in call tables.
func New() (*Node, error) {
	registry, err := metadata.NewRegistry()
	if err != nil {
		return nil, err
	}
	n := &Node{
		genesis:   crypto.Keccak256Hash([]byte("ballotbox testnode genesis")),
		head:      1,
		runtime:   chain.RuntimeVersion{SpecName: "testnode", SpecVersion: 1},
		registry:  registry,
		referenda: make(map[chain.ProposalID]*referendum),
		nonces:    make(map[common.Address]uint64),
		balances:  make(map[common.Address]*big.Int),
		server:    rpc.NewServer(),
	}

	apis := map[string]interface{}{
		"system":    &systemAPI{n},
		"chain":     &chainAPI{n},
		"state":     &stateAPI{n},
		"democracy": &democracyAPI{n},
		"balances":  &balancesAPI{n},
		"author":    &authorAPI{n},
	}
	for name, api := range apis {
		if err := n.server.RegisterName(name, api); err != nil {
			return nil, fmt.Errorf("error registering %s api: %w", name, err)
		}
	}
	return n, nil
}

// Dial returns a chain client connected in-process to the node.
func (n *Node) Dial(ctx context.Context, opts ...chain.Option) (*chain.RPCClient, error) {
	return chain.Dial(ctx, append([]chain.Option{chain.WithRPCClient(rpc.DialInProc(n.server))}, opts...)...)
}

func (n *Node) Stop() {
	n.server.Stop()
}

func (n *Node) GenesisHash() common.Hash {
	return n.genesis
}

func (n *Node) SetSyncing(syncing bool) {
	n.Lock()
	defer n.Unlock()
	n.syncing = syncing
}

func (n *Node) SetBalance(addr common.Address, balance *big.Int) {
	n.Lock()
	defer n.Unlock()
	n.balances[addr] = new(big.Int).Set(balance)
}

func (n *Node) Nonce(addr common.Address) uint64 {
	n.RLock()
	defer n.RUnlock()
	return n.nonces[addr]
}

// SetReferendum creates or replaces a referendum and notifies subscribers.
func (n *Node) SetReferendum(id chain.ProposalID, record *chain.RawRecord) {
	n.Lock()
	ref, ok := n.referenda[id]
	if !ok {
		ref = &referendum{}
		n.referenda[id] = ref
	}
	ref.record = record
	n.Unlock()
	n.Notify(id)
}

// AddVote records a vote directly, bypassing extrinsic validation.
func (n *Node) AddVote(id chain.ProposalID, voter common.Address, balance *big.Int, aye bool) error {
	n.Lock()
	ref, ok := n.referenda[id]
	if !ok {
		n.Unlock()
		return fmt.Errorf("unknown referendum %d", id)
	}
	ref.setVote(voter, balance, aye)
	n.head++
	n.Unlock()
	n.Notify(id)
	return nil
}

// Notify sends the current record of id to its subscribers, whether or not
// it changed.
func (n *Node) Notify(id chain.ProposalID) {
	n.RLock()
	var record *chain.RawRecord
	if ref, ok := n.referenda[id]; ok {
		record = ref.record
	}
	n.RUnlock()
	n.feed.Send(update{id: id, record: record})
}

// RejectNext makes the next submission fail with the given error.
func (n *Node) RejectNext(code int, message string) {
	n.Lock()
	defer n.Unlock()
	n.reject = &RejectionError{Code: code, Message: message}
}

func (n *Node) Submitted() []*extrinsic.Signed {
	n.RLock()
	defer n.RUnlock()
	submitted := make([]*extrinsic.Signed, len(n.submitted))
	copy(submitted, n.submitted)
	return submitted
}

func (r *referendum) setVote(voter common.Address, balance *big.Int, aye bool) {
	v := chain.Vote{Voter: voter, Balance: (*hexutil.Big)(new(big.Int).Set(balance)), IsAye: aye}
	for i, existing := range r.votes {
		if existing.Voter == voter {
			r.votes[i] = v
			return
		}
	}
	r.votes = append(r.votes, v)
}

func (n *Node) submit(ctx context.Context, bits []byte) (common.Hash, error) {
	signed, err := extrinsic.DecodeSigned(bits)
	if err != nil {
		return common.Hash{}, &RejectionError{Code: CodeMalformed, Message: err.Error()}
	}

	n.Lock()
	id, err := n.apply(ctx, signed)
	n.Unlock()
	if err != nil {
		return common.Hash{}, err
	}

	n.Notify(id)
	return extrinsic.Hash(bits), nil
}

// apply validates and executes signed. It must be called with the lock held.
func (n *Node) apply(ctx context.Context, signed *extrinsic.Signed) (chain.ProposalID, error) {
	if n.reject != nil {
		err := n.reject
		n.reject = nil
		return 0, err
	}

	payload, err := signed.Payload(n.genesis).Encode()
	if err != nil {
		return 0, &RejectionError{Code: CodeMalformed, Message: err.Error()}
	}
	valid, err := signatures.Valid(ctx, signed.Signer, payload, signed.Signature)
	if err != nil || !valid {
		return 0, &RejectionError{Code: CodeBadSignature, Message: "bad signature"}
	}
	if signed.SpecVersion != n.runtime.SpecVersion {
		return 0, &RejectionError{Code: CodeWrongRuntime, Message: fmt.Sprintf("spec version %d is not current", signed.SpecVersion)}
	}
	if expected := n.nonces[signed.Signer]; signed.Nonce != expected {
		return 0, &RejectionError{Code: CodeStaleNonce, Message: fmt.Sprintf("Invalid Transaction: stale nonce %d, expected %d", signed.Nonce, expected)}
	}
	balance, ok := n.balances[signed.Signer]
	if !ok || balance.Sign() == 0 {
		return 0, &RejectionError{Code: CodeInsufficientBalance, Message: "Inability to pay some fees"}
	}

	method, err := n.registry.Lookup(signed.SpecVersion, signed.Call.Index)
	if err != nil || method.String() != "democracy.vote" {
		return 0, &RejectionError{Code: CodeUnsupportedCall, Message: fmt.Sprintf("unsupported call %s", signed.Call.Index)}
	}
	args, err := extrinsic.DecodeVoteArgs(signed.Call.Args)
	if err != nil {
		return 0, &RejectionError{Code: CodeMalformed, Message: err.Error()}
	}
	id := chain.ProposalID(args.Referendum)
	ref, ok := n.referenda[id]
	if !ok || ref.record == nil {
		return 0, &RejectionError{Code: CodeUnknownReferendum, Message: fmt.Sprintf("unknown referendum %d", id)}
	}

	ref.setVote(signed.Signer, balance, args.Aye)
	n.nonces[signed.Signer]++
	n.head++
	n.submitted = append(n.submitted, signed)
	return id, nil
}

func (n *Node) header() chain.Header {
	return chain.Header{
		Number:     hexutil.Uint64(n.head),
		Hash:       blockHash(n.head),
		ParentHash: blockHash(n.head - 1),
	}
}

func blockHash(number uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(fmt.Sprintf("block %d", number)))
}
