package watcher

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/quorumcontrol/ballotbox/sdk/ballot"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
)

type fakeSubscription struct {
	errs chan error
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errs) })
}

func (s *fakeSubscription) Err() <-chan error {
	return s.errs
}

// fakeClient serves a single referendum from memory.
type fakeClient struct {
	sync.Mutex

	ready      *atomic.Bool
	record     *chain.RawRecord
	votes      []ballot.VoteRecord
	votesErr   error
	queries    *atomic.Int64
	sub        *fakeSubscription
	ch         chan<- *chain.RawRecord
	subscribed chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		ready:      atomic.NewBool(true),
		queries:    atomic.NewInt64(0),
		subscribed: make(chan struct{}),
	}
}

func (f *fakeClient) set(record *chain.RawRecord, votes ...ballot.VoteRecord) {
	f.Lock()
	defer f.Unlock()
	f.record = record
	f.votes = votes
}

func (f *fakeClient) notify() {
	f.Lock()
	ch, record := f.ch, f.record
	f.Unlock()
	ch <- record
}

func (f *fakeClient) IsReady() bool { return f.ready.Load() }
func (f *fakeClient) Close() error  { return nil }

func (f *fakeClient) GenesisHash(ctx context.Context) (common.Hash, error) {
	return common.Hash{}, nil
}

func (f *fakeClient) Head(ctx context.Context) (*chain.Header, error) {
	return &chain.Header{}, nil
}

func (f *fakeClient) RuntimeVersion(ctx context.Context) (*chain.RuntimeVersion, error) {
	return &chain.RuntimeVersion{SpecVersion: 1}, nil
}

func (f *fakeClient) QueryReferendumRecord(ctx context.Context, id chain.ProposalID) (*chain.RawRecord, error) {
	f.queries.Inc()
	f.Lock()
	defer f.Unlock()
	return f.record, nil
}

func (f *fakeClient) QueryVotesFor(ctx context.Context, id chain.ProposalID) ([]ballot.VoteRecord, error) {
	f.Lock()
	defer f.Unlock()
	if f.votesErr != nil {
		return nil, f.votesErr
	}
	return f.votes, nil
}

func (f *fakeClient) SubscribeReferendum(ctx context.Context, id chain.ProposalID, ch chan<- *chain.RawRecord) (chain.Subscription, error) {
	f.Lock()
	defer f.Unlock()
	f.ch = ch
	f.sub = &fakeSubscription{errs: make(chan error, 1)}
	close(f.subscribed)
	return f.sub, nil
}

func (f *fakeClient) QueryAccountNonce(ctx context.Context, addr common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) QueryFreeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return new(big.Int), nil
}

func (f *fakeClient) SubmitSignedExtrinsic(ctx context.Context, tx []byte) (common.Hash, error) {
	return common.Hash{}, nil
}

func record(index chain.CallIndex) *chain.RawRecord {
	return &chain.RawRecord{
		ProposalHash: common.HexToHash("0xbeef"),
		Proposal:     chain.Call{Index: index},
		SpecVersion:  1,
		End:          100,
		Threshold:    "SimpleMajority",
	}
}

func vote(balance int64, aye bool) ballot.VoteRecord {
	return ballot.VoteRecord{Balance: big.NewInt(balance), IsAye: aye}
}

type recorder struct {
	sync.Mutex
	states      []*ReferendumState
	unavailable []*Unavailable
}

func (r *recorder) handle(evt interface{}) {
	r.Lock()
	defer r.Unlock()
	switch e := evt.(type) {
	case *ReferendumState:
		r.states = append(r.states, e)
	case *Unavailable:
		r.unavailable = append(r.unavailable, e)
	}
}

func (r *recorder) count() int {
	r.Lock()
	defer r.Unlock()
	return len(r.states)
}

func (r *recorder) last() *ReferendumState {
	r.Lock()
	defer r.Unlock()
	return r.states[len(r.states)-1]
}

func startWatcher(t *testing.T, client *fakeClient, opts ...Option) (*Watcher, *recorder) {
	w, err := New(append([]Option{WithClient(client), WithProposalID(12)}, opts...)...)
	require.Nil(t, err)
	rec := &recorder{}
	w.Subscribe(rec.handle)
	require.Nil(t, w.Start(context.Background()))
	return w, rec
}

func TestPublishesDecodedState(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x00}), vote(100, true), vote(50, false), vote(25, true))

	w, rec := startWatcher(t, client)
	defer w.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	state := rec.last()
	assert.Equal(t, "#12: democracy.propose", state.Header)
	require.NotNil(t, state.Documentation)
	assert.Equal(t, "Propose a sensitive action to be taken.", *state.Documentation)
	assert.Equal(t, uint64(3), state.Ballot.VoteCount)
	assert.Equal(t, "125", state.Ballot.VotedAye.String())
	assert.Equal(t, "50", state.Ballot.VotedNay.String())
	assert.Equal(t, "175", state.Ballot.VotedTotal.String())
	assert.Equal(t, Watching, w.State())
	assert.True(t, state.Equal(w.Current()))
}

func TestUnknownCallFallsBackToRawHeader(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0xff, 0x07}))

	w, rec := startWatcher(t, client)
	defer w.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	state := rec.last()
	assert.Equal(t, "#12: 0xff07", state.Header)
	assert.Nil(t, state.Documentation)
	assert.True(t, state.Ballot.Equal(ballot.Empty()))
	assert.Nil(t, w.Err())
}

func TestDuplicateNotificationsPublishOnce(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x00}), vote(10, true))

	w, rec := startWatcher(t, client)
	defer w.Stop()
	<-client.subscribed

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	for i := 0; i < 3; i++ {
		client.notify()
	}

	// a real change goes out after the duplicates have been processed
	client.set(record(chain.CallIndex{0x0a, 0x00}), vote(10, true), vote(5, false))
	client.notify()

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(5), client.queries.Load())
	assert.Equal(t, uint64(2), rec.last().Ballot.VoteCount)
}

func TestAbsentRecordIsNotAnError(t *testing.T) {
	client := newFakeClient()

	w, rec := startWatcher(t, client)
	defer w.Stop()
	<-client.subscribed

	require.Eventually(t, func() bool { return client.queries.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, w.Current())
	assert.Equal(t, AwaitingConnection, w.State())
	assert.Nil(t, w.Err())

	client.set(record(chain.CallIndex{0x0a, 0x00}))
	client.notify()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRefresh(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x00}))

	w, rec := startWatcher(t, client)
	defer w.Stop()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	client.set(record(chain.CallIndex{0x0a, 0x00}), vote(1, true))
	w.Refresh()
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestVoteQueryErrorKeepsState(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x00}), vote(1, true))

	w, rec := startWatcher(t, client)
	defer w.Stop()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	client.Lock()
	client.votesErr = &chain.TransientError{Method: "democracy_referendumVotesFor", Err: errors.New("reset")}
	client.Unlock()
	client.notify()

	require.Eventually(t, func() bool { return client.queries.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, Watching, w.State())
	assert.Nil(t, w.Err())
}

func TestGateTimeout(t *testing.T) {
	client := newFakeClient()
	client.ready.Store(false)
	g := gate.New(client.IsReady, gate.WithInterval(time.Millisecond), gate.WithMaxAttempts(3))

	w, rec := startWatcher(t, client, WithGate(g))
	defer w.Stop()

	require.Eventually(t, func() bool { return w.State() == Errored }, time.Second, 5*time.Millisecond)
	assert.Equal(t, gate.ErrConnectionTimeout, w.Err())
	assert.Nil(t, w.Current())

	rec.Lock()
	require.Len(t, rec.unavailable, 1)
	assert.Equal(t, gate.ErrConnectionTimeout, rec.unavailable[0].Err)
	rec.Unlock()
	assert.Equal(t, int64(0), client.queries.Load())

	// a restart after the node comes back succeeds
	client.set(record(chain.CallIndex{0x0a, 0x00}))
	client.ready.Store(true)
	require.Nil(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSubscriptionFailure(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x00}))

	w, _ := startWatcher(t, client)
	defer w.Stop()
	<-client.subscribed

	client.sub.errs <- errors.New("connection lost")
	require.Eventually(t, func() bool { return w.State() == Errored }, time.Second, 5*time.Millisecond)
	assert.Contains(t, w.Err().Error(), "connection lost")
}

func TestStop(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x00}))

	w, rec := startWatcher(t, client)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	w.Stop()
	assert.Equal(t, Stopped, w.State())
	assert.Equal(t, ErrStopped, w.Start(context.Background()))

	client.set(record(chain.CallIndex{0x0a, 0x00}), vote(1, true))
	w.Refresh()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, rec.count())

	// stopping twice is harmless
	w.Stop()
}

func TestStopWhileAwaitingConnection(t *testing.T) {
	client := newFakeClient()
	client.ready.Store(false)
	g := gate.New(client.IsReady, gate.WithInterval(time.Millisecond))

	w, rec := startWatcher(t, client, WithGate(g))
	w.Stop()

	client.ready.Store(true)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Stopped, w.State())
	assert.Equal(t, 0, rec.count())
	assert.Equal(t, int64(0), client.queries.Load())
}

func TestStartTwice(t *testing.T) {
	client := newFakeClient()
	client.ready.Store(false)
	w, _ := startWatcher(t, client)
	defer w.Stop()
	assert.Equal(t, ErrRunning, w.Start(context.Background()))
}

func TestRequiresClient(t *testing.T) {
	_, err := New()
	assert.NotNil(t, err)
}

func TestOnChangeAndUnsubscribe(t *testing.T) {
	client := newFakeClient()
	client.set(record(chain.CallIndex{0x0a, 0x02}), vote(5, false))

	w, err := New(WithClient(client), WithProposalID(12))
	require.Nil(t, err)
	changes := make(chan *ReferendumState, 4)
	sub := w.OnChange(func(state *ReferendumState) { changes <- state })
	require.Nil(t, w.Start(context.Background()))
	defer w.Stop()

	select {
	case state := <-changes:
		assert.Equal(t, "#12: democracy.vote", state.Header)
		assert.Equal(t, uint64(1), state.Ballot.VoteCountNay)
	case <-time.After(time.Second):
		t.Fatal("no state change delivered")
	}

	w.Unsubscribe(sub)
	client.set(record(chain.CallIndex{0x0a, 0x02}), vote(5, false), vote(7, true))
	w.Refresh()
	require.Eventually(t, func() bool {
		return w.Current().Ballot.VoteCount == 2
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, changes, 0)
}
