package voter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/quorumcontrol/ballotbox/keystore"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/chain/testnode"
	"github.com/quorumcontrol/ballotbox/sdk/extrinsic"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
	"github.com/quorumcontrol/ballotbox/sdk/qrsign"
	"github.com/quorumcontrol/ballotbox/sdk/signatures"
	"github.com/quorumcontrol/ballotbox/storage"
)

const referendum = chain.ProposalID(5)

type harness struct {
	ctx    context.Context
	node   *testnode.Node
	client *chain.RPCClient
	keys   *keystore.KeyStore
	key    *ecdsa.PrivateKey
	addr   common.Address
}

func newHarness(t *testing.T, ctx context.Context) *harness {
	node, err := testnode.New()
	require.Nil(t, err)
	client, err := node.Dial(ctx, chain.WithHealthInterval(5*time.Millisecond))
	require.Nil(t, err)

	node.SetReferendum(referendum, &chain.RawRecord{
		Proposal:    chain.Call{Index: chain.CallIndex{0x0a, 0x00}},
		SpecVersion: 1,
		End:         100,
	})

	keys := keystore.New(&keystore.Config{Storage: storage.NewMemory()})
	require.Nil(t, keys.Unlock("password"))

	require.Eventually(t, client.IsReady, time.Second, 5*time.Millisecond)

	key, err := crypto.GenerateKey()
	require.Nil(t, err)
	return &harness{
		ctx:    ctx,
		node:   node,
		client: client,
		keys:   keys,
		key:    key,
		addr:   signatures.Address(&key.PublicKey),
	}
}

func (h *harness) close() {
	h.client.Close()
	h.node.Stop()
	h.keys.Close()
}

func (h *harness) coordinator(t *testing.T, opts ...Option) *Coordinator {
	g := gate.New(h.client.IsReady, gate.WithInterval(5*time.Millisecond))
	c, err := New(append([]Option{
		WithClient(h.client),
		WithGate(g),
		WithAccounts(h.keys),
		WithAccount(h.addr),
	}, opts...)...)
	require.Nil(t, err)
	return c
}

type recordingSubmitter struct {
	calls *atomic.Int64
}

func (s *recordingSubmitter) Submit(ctx context.Context, signed *extrinsic.Signed) (common.Hash, error) {
	s.calls.Inc()
	return common.Hash{}, nil
}

type countingRefresher struct {
	count *atomic.Int64
}

func (r *countingRefresher) Refresh() {
	r.count.Inc()
}

func TestLocalVote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.ImportKey(h.key)
	require.Nil(t, err)
	h.node.SetBalance(h.addr, big.NewInt(1000))

	refresher := &countingRefresher{count: atomic.NewInt64(0)}
	pipeline := NewPipeline(h.client, nil)
	pipeline.AddRefresher(refresher)
	c := h.coordinator(t, WithSubmitter(pipeline))

	outcome, err := c.SubmitVote(ctx, referendum, true)
	require.Nil(t, err)
	assert.Equal(t, keystore.Local, outcome.Kind)
	assert.Equal(t, uint64(0), outcome.Nonce)
	assert.NotEqual(t, common.Hash{}, outcome.Hash)
	assert.Equal(t, int64(1), refresher.count.Load())
	assert.Equal(t, uint64(1), h.node.Nonce(h.addr))

	votes, err := h.client.QueryVotesFor(ctx, referendum)
	require.Nil(t, err)
	require.Len(t, votes, 1)
	assert.True(t, votes[0].IsAye)
	assert.Equal(t, "1000", votes[0].Balance.String())

	// changing the vote replaces the earlier one and uses the next nonce
	outcome, err = c.SubmitVote(ctx, referendum, false)
	require.Nil(t, err)
	assert.Equal(t, uint64(1), outcome.Nonce)

	votes, err = h.client.QueryVotesFor(ctx, referendum)
	require.Nil(t, err)
	require.Len(t, votes, 1)
	assert.False(t, votes[0].IsAye)
}

func TestZeroBalanceSkipsSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.ImportKey(h.key)
	require.Nil(t, err)

	submitter := &recordingSubmitter{calls: atomic.NewInt64(0)}
	c := h.coordinator(t, WithSubmitter(submitter))

	_, err = c.SubmitVote(ctx, referendum, true)
	assert.Equal(t, ErrInsufficientBalance, err)
	assert.Equal(t, int64(0), submitter.calls.Load())
	assert.Len(t, h.node.Submitted(), 0)
}

func TestExternalVote(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.AddExternal(h.addr)
	require.Nil(t, err)
	h.node.SetBalance(h.addr, big.NewInt(1000))

	exchange := qrsign.NewExchange()
	c := h.coordinator(t, WithExternalSigner(exchange))

	// the device scans the request, signs it and is scanned back
	go func() {
		req := <-exchange.Requests()
		frame, err := req.Frame()
		if err != nil {
			return
		}
		scanned, err := qrsign.DecodeRequest(frame)
		if err != nil {
			return
		}
		sig, err := signatures.Sign(ctx, h.key, scanned.Payload)
		if err != nil {
			return
		}
		resp, err := (&qrsign.Response{ID: scanned.ID, Signature: sig}).Frame()
		if err != nil {
			return
		}
		exchange.RespondFrame(ctx, resp)
	}()

	outcome, err := c.SubmitVote(ctx, referendum, false)
	require.Nil(t, err)
	assert.Equal(t, keystore.External, outcome.Kind)
	require.Len(t, h.node.Submitted(), 1)
}

func TestExternalVoteAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.AddExternal(h.addr)
	require.Nil(t, err)

	exchange := qrsign.NewExchange()
	c := h.coordinator(t, WithExternalSigner(exchange))

	go func() {
		<-exchange.Requests()
		exchange.Abort()
	}()

	_, err = c.SubmitVote(ctx, referendum, true)
	assert.Equal(t, qrsign.ErrSigningAborted, err)
}

func TestExternalWithoutSigner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.AddExternal(h.addr)
	require.Nil(t, err)

	_, err = h.coordinator(t).SubmitVote(ctx, referendum, true)
	assert.Equal(t, ErrNoExternalSigner, err)
}

func TestRejectedSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.ImportKey(h.key)
	require.Nil(t, err)
	h.node.SetBalance(h.addr, big.NewInt(1000))
	h.node.RejectNext(testnode.CodeStaleNonce, "Invalid Transaction: stale nonce")

	_, err = h.coordinator(t).SubmitVote(ctx, referendum, true)
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, ErrSubmissionRejected))

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, testnode.CodeStaleNonce, rejected.Code)
	assert.False(t, chain.IsTransient(err))
}

func TestLockedKeystore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.ImportKey(h.key)
	require.Nil(t, err)
	h.keys.Lock()

	_, err = h.coordinator(t).SubmitVote(ctx, referendum, true)
	assert.True(t, errors.Is(err, keystore.ErrLocked))
}

func TestNoAccount(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.coordinator(t, WithAccount(common.Address{})).SubmitVote(ctx, referendum, true)
	assert.Equal(t, ErrNoAccount, err)
}

func TestGateTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	g := gate.New(func() bool { return false }, gate.WithInterval(time.Millisecond), gate.WithMaxAttempts(2))
	_, err := h.coordinator(t, WithGate(g)).SubmitVote(ctx, referendum, true)
	assert.Equal(t, gate.ErrConnectionTimeout, err)
}

func TestActionsAreIsolatedPerChoice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	ready := atomic.NewBool(false)
	g := gate.New(ready.Load, gate.WithInterval(time.Millisecond), gate.WithMaxAttempts(1000))
	c := h.coordinator(t, WithGate(g))

	results := make(chan error, 1)
	go func() {
		_, err := c.SubmitVote(ctx, referendum, true)
		results <- err
	}()

	require.Eventually(t, func() bool {
		c.lock.Lock()
		defer c.lock.Unlock()
		_, ok := c.inflight[action{id: referendum, aye: true}]
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err := c.SubmitVote(ctx, referendum, true)
	assert.Equal(t, ErrActionPending, err)

	// the other choice has its own session and is not blocked by the first
	nayCtx, nayCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer nayCancel()
	_, err = c.SubmitVote(nayCtx, referendum, false)
	assert.Equal(t, context.DeadlineExceeded, err)

	cancel()
	select {
	case err := <-results:
		assert.Equal(t, context.Canceled, err)
	case <-time.After(time.Second):
		t.Fatal("aye vote never returned")
	}
}

func TestConcurrentChoicesUseDistinctNonces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.ImportKey(h.key)
	require.Nil(t, err)
	h.node.SetBalance(h.addr, big.NewInt(1000))
	c := h.coordinator(t)

	type voted struct {
		outcome *Outcome
		err     error
	}
	results := make(chan voted, 2)
	for _, aye := range []bool{true, false} {
		go func(aye bool) {
			outcome, err := c.SubmitVote(ctx, referendum, aye)
			results <- voted{outcome, err}
		}(aye)
	}

	nonces := make(map[uint64]bool)
	for i := 0; i < 2; i++ {
		r := <-results
		require.Nil(t, r.err)
		nonces[r.outcome.Nonce] = true
	}
	assert.Equal(t, map[uint64]bool{0: true, 1: true}, nonces)
	assert.Equal(t, uint64(2), h.node.Nonce(h.addr))
	assert.Len(t, h.node.Submitted(), 2)
}

func TestSecondChoiceWaitsForPendingSignature(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, ctx)
	defer h.close()

	_, err := h.keys.AddExternal(h.addr)
	require.Nil(t, err)
	h.node.SetBalance(h.addr, big.NewInt(1000))

	exchange := qrsign.NewExchange()
	c := h.coordinator(t, WithExternalSigner(exchange))

	ayeDone := make(chan error, 1)
	go func() {
		_, err := c.SubmitVote(ctx, referendum, true)
		ayeDone <- err
	}()
	req := <-exchange.Requests()

	// the nay vote queues behind the aye signature instead of superseding it
	nayCtx, nayCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer nayCancel()
	_, err = c.SubmitVote(nayCtx, referendum, false)
	assert.Equal(t, context.DeadlineExceeded, err)
	require.NotNil(t, exchange.Pending())
	assert.Equal(t, req.ID, exchange.Pending().ID)

	sig, err := signatures.Sign(ctx, h.key, req.Payload)
	require.Nil(t, err)
	require.Nil(t, exchange.Respond(ctx, &qrsign.Response{ID: req.ID, Signature: sig}))
	require.Nil(t, <-ayeDone)
	assert.Len(t, h.node.Submitted(), 1)
}
