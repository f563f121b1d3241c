package voter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/quorumcontrol/ballotbox/keystore"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/extrinsic"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
	"github.com/quorumcontrol/ballotbox/sdk/signatures"
)

// Outcome describes an accepted vote.
type Outcome struct {
	ProposalID chain.ProposalID
	Aye        bool
	Signer     common.Address
	Kind       keystore.Kind
	Nonce      uint64
	Hash       common.Hash
}

type action struct {
	id  chain.ProposalID
	aye bool
}

func (a action) String() string {
	if a.aye {
		return fmt.Sprintf("vote-%d-aye", a.id)
	}
	return fmt.Sprintf("vote-%d-nay", a.id)
}

// Coordinator turns a vote intent into a submitted extrinsic. Every action
// waits on its own gate session so retries for an aye vote never count
// against a nay vote. Once ready, actions take turns on the account: only
// one at a time fetches a nonce, signs and submits.
type Coordinator struct {
	client      chain.Client
	gate        *gate.Gate
	registry    *metadata.Registry
	accounts    Accounts
	external    ExternalSigner
	submitter   Submitter
	account     common.Address
	voteSection string
	voteMethod  string
	logger      logging.EventLogger

	lock     sync.Mutex
	inflight map[action]struct{}
	turn     chan struct{}
}

func New(opts ...Option) (*Coordinator, error) {
	c := &Config{}
	err := c.ApplyOptions(opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(c)
}

func NewWithConfig(config *Config) (*Coordinator, error) {
	err := config.SetDefaults()
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		client:      config.Client,
		gate:        config.Gate,
		registry:    config.Registry,
		accounts:    config.Accounts,
		external:    config.External,
		submitter:   config.Submitter,
		account:     config.Account,
		voteSection: config.VoteSection,
		voteMethod:  config.VoteMethod,
		logger:      config.Logger,
		inflight:    make(map[action]struct{}),
		turn:        make(chan struct{}, 1),
	}, nil
}

// SubmitVote casts a vote from the selected account. It fails with
// gate.ErrConnectionTimeout when the node never becomes ready,
// ErrInsufficientBalance when the account has no free balance and
// qrsign.ErrSigningAborted when an external signature is abandoned.
func (c *Coordinator) SubmitVote(parentCtx context.Context, id chain.ProposalID, aye bool) (*Outcome, error) {
	sp, ctx := opentracing.StartSpanFromContext(parentCtx, "voter.SubmitVote")
	defer sp.Finish()

	if c.account == (common.Address{}) {
		return nil, ErrNoAccount
	}

	a := action{id: id, aye: aye}
	sp.SetTag("action", a.String())
	if !c.begin(a) {
		return nil, ErrActionPending
	}
	defer c.end(a)

	session := c.gate.NewSession(a.String())
	defer session.Cancel()
	if err := session.Wait(ctx); err != nil {
		return nil, err
	}

	select {
	case c.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.turn }()

	account, err := c.accounts.Resolve(c.account)
	if err != nil {
		return nil, fmt.Errorf("error resolving account %s: %w", c.account.Hex(), err)
	}

	req, err := c.prepare(ctx, id, aye)
	if err != nil {
		return nil, err
	}
	payload, err := req.Payload().Encode()
	if err != nil {
		return nil, fmt.Errorf("error encoding payload: %w", err)
	}

	sig, err := c.sign(ctx, account, req, payload)
	if err != nil {
		return nil, err
	}
	signed, err := req.Unsigned.AddSignature(req, sig)
	if err != nil {
		return nil, fmt.Errorf("error attaching signature: %w", err)
	}

	balance, err := c.client.QueryFreeBalance(ctx, c.account)
	if err != nil {
		return nil, fmt.Errorf("error getting free balance: %w", err)
	}
	if balance.Sign() <= 0 {
		c.logger.Warningf("%s: %s has no free balance", a, c.account.Hex())
		return nil, ErrInsufficientBalance
	}

	hash, err := c.submitter.Submit(ctx, signed)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("%s submitted as %s", a, hash.Hex())

	return &Outcome{
		ProposalID: id,
		Aye:        aye,
		Signer:     c.account,
		Kind:       account.Kind,
		Nonce:      req.Nonce,
		Hash:       hash,
	}, nil
}

func (c *Coordinator) begin(a action) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.inflight[a]; ok {
		return false
	}
	c.inflight[a] = struct{}{}
	return true
}

func (c *Coordinator) end(a action) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.inflight, a)
}

// prepare builds the vote call against the current runtime and anchors it
// to the current head.
func (c *Coordinator) prepare(ctx context.Context, id chain.ProposalID, aye bool) (*extrinsic.SignRequest, error) {
	version, err := c.client.RuntimeVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting runtime version: %w", err)
	}
	index, err := c.registry.Index(version.SpecVersion, c.voteSection, c.voteMethod)
	if err != nil {
		return nil, fmt.Errorf("error resolving vote call: %w", err)
	}
	unsigned, err := extrinsic.NewVote(index, version.SpecVersion, id, aye)
	if err != nil {
		return nil, err
	}

	head, err := c.client.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting head: %w", err)
	}
	genesis, err := c.client.GenesisHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting genesis hash: %w", err)
	}
	nonce, err := c.client.QueryAccountNonce(ctx, c.account)
	if err != nil {
		return nil, fmt.Errorf("error getting nonce: %w", err)
	}

	return &extrinsic.SignRequest{
		Unsigned:    unsigned,
		Signer:      c.account,
		Nonce:       nonce,
		BlockNumber: uint64(head.Number),
		BlockHash:   head.Hash,
		GenesisHash: genesis,
	}, nil
}

func (c *Coordinator) sign(ctx context.Context, account *keystore.Account, req *extrinsic.SignRequest, payload []byte) ([]byte, error) {
	switch account.Kind {
	case keystore.Local:
		sig, err := signatures.Sign(ctx, account.Key, payload)
		if err != nil {
			return nil, fmt.Errorf("error signing: %w", err)
		}
		return sig, nil
	case keystore.External:
		if c.external == nil {
			return nil, ErrNoExternalSigner
		}
		c.logger.Debugf("waiting for external signature from %s", account.Address.Hex())
		return c.external.Sign(ctx, req.Signer, req.GenesisHash, payload)
	default:
		return nil, fmt.Errorf("unsupported account kind %s", account.Kind)
	}
}
