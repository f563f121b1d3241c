package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AsynkronIT/protoactor-go/eventstream"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/quorumcontrol/ballotbox/sdk/ballot"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
)

var ErrStopped = errors.New("watcher stopped")
var ErrRunning = errors.New("watcher already started")

// Watcher follows one referendum. Notifications, refresh requests and the
// initial query are all handled on a single goroutine, so states are
// published from one place in order.
type Watcher struct {
	sync.RWMutex

	id       chain.ProposalID
	client   chain.Client
	registry *metadata.Registry
	logger   logging.EventLogger
	session  *gate.RetrySession
	stream   *eventstream.EventStream
	refresh  chan struct{}

	state   State
	current *ReferendumState
	err     error
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(opts ...Option) (*Watcher, error) {
	c := &Config{}
	err := c.ApplyOptions(opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(c)
}

func NewWithConfig(config *Config) (*Watcher, error) {
	err := config.SetDefaults()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		id:       config.ProposalID,
		client:   config.Client,
		registry: config.Registry,
		logger:   config.Logger,
		session:  config.Gate.NewSession(fmt.Sprintf("watch-%d", config.ProposalID)),
		stream:   &eventstream.EventStream{},
		refresh:  make(chan struct{}, 1),
	}, nil
}

func (w *Watcher) ProposalID() chain.ProposalID {
	return w.id
}

func (w *Watcher) State() State {
	w.RLock()
	defer w.RUnlock()
	return w.state
}

// Current returns the last published state, nil until the first decode.
func (w *Watcher) Current() *ReferendumState {
	w.RLock()
	defer w.RUnlock()
	return w.current
}

// Err returns the reason the watcher entered the Errored state.
func (w *Watcher) Err() error {
	w.RLock()
	defer w.RUnlock()
	return w.err
}

// Subscribe calls fn with every published *ReferendumState and *Unavailable.
// fn runs on the watcher goroutine and must not call Stop.
func (w *Watcher) Subscribe(fn func(evt interface{})) *eventstream.Subscription {
	return w.stream.Subscribe(fn)
}

// OnChange is Subscribe narrowed to state changes.
func (w *Watcher) OnChange(fn func(*ReferendumState)) *eventstream.Subscription {
	return w.stream.Subscribe(func(evt interface{}) {
		if s, ok := evt.(*ReferendumState); ok {
			fn(s)
		}
	})
}

func (w *Watcher) Unsubscribe(sub *eventstream.Subscription) {
	w.stream.Unsubscribe(sub)
}

// Start waits for the node in the background. It may be called again after
// the watcher errored.
func (w *Watcher) Start(parentCtx context.Context) error {
	w.Lock()
	switch w.state {
	case Stopped:
		w.Unlock()
		return ErrStopped
	case Idle, Errored:
	default:
		w.Unlock()
		return ErrRunning
	}
	if w.cancel != nil {
		w.cancel()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel
	w.state = AwaitingConnection
	w.err = nil
	w.Unlock()

	w.logger.Debugf("watching referendum %d", w.id)
	err := w.session.AwaitReady(func() {
		w.connected(ctx)
	}, func(err error) {
		w.fail(err)
	})
	if err != nil {
		cancel()
		return err
	}
	return nil
}

// Refresh requests a new cycle. Requests made while a cycle is queued are
// coalesced.
func (w *Watcher) Refresh() {
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

// Stop cancels the retry timer and the subscription and waits for the
// watcher goroutine to exit. Nothing is published after Stop returns.
func (w *Watcher) Stop() {
	w.Lock()
	if w.state == Stopped {
		w.Unlock()
		return
	}
	w.state = Stopped
	cancel := w.cancel
	done := w.done
	w.Unlock()

	w.session.Cancel()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	w.logger.Debugf("stopped watching referendum %d", w.id)
}

func (w *Watcher) connected(ctx context.Context) {
	w.Lock()
	defer w.Unlock()
	if w.state != AwaitingConnection || ctx.Err() != nil {
		return
	}
	done := make(chan struct{})
	w.done = done
	go w.run(ctx, done)
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	records := make(chan *chain.RawRecord, 16)
	sub, err := w.client.SubscribeReferendum(ctx, w.id, records)
	if err != nil {
		w.fail(fmt.Errorf("error subscribing to referendum %d: %w", w.id, err))
		return
	}
	defer sub.Unsubscribe()

	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-records:
			w.cycle(ctx)
		case <-w.refresh:
			w.cycle(ctx)
		case err := <-sub.Err():
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("subscription closed")
			}
			w.fail(fmt.Errorf("referendum %d subscription: %w", w.id, err))
			return
		}
	}
}

// cycle re-derives the whole state from the node. Query errors are logged
// and left for the next notification to retry.
func (w *Watcher) cycle(parentCtx context.Context) {
	sp, ctx := opentracing.StartSpanFromContext(parentCtx, "watcher.cycle")
	defer sp.Finish()
	sp.SetTag("referendum", uint32(w.id))

	record, err := w.client.QueryReferendumRecord(ctx, w.id)
	if err != nil {
		w.logger.Warningf("error querying referendum %d: %v", w.id, err)
		return
	}
	if record == nil {
		w.logger.Debugf("referendum %d has no record", w.id)
		return
	}

	previous, ok := w.transition(Decoding)
	if !ok {
		return
	}
	header, doc := w.decode(record)

	votes, err := w.client.QueryVotesFor(ctx, w.id)
	if err != nil {
		w.logger.Warningf("error querying votes for referendum %d: %v", w.id, err)
		w.transition(previous)
		return
	}

	w.publish(&ReferendumState{
		ProposalID:    w.id,
		Header:        header,
		Documentation: doc,
		Ballot:        ballot.Aggregate(votes),
		Record:        record,
	})
}

// decode never fails: an unresolvable call falls back to its raw index.
func (w *Watcher) decode(record *chain.RawRecord) (string, *string) {
	method, err := w.registry.Lookup(record.SpecVersion, record.Proposal.Index)
	if err != nil {
		w.logger.Warningf("referendum %d: %v", w.id, err)
		return fmt.Sprintf("#%d: %s", w.id, record.Proposal.Index), nil
	}
	return fmt.Sprintf("#%d: %s", w.id, method), method.Doc()
}

// transition moves to next unless the watcher has stopped. It returns the
// state it left.
func (w *Watcher) transition(next State) (State, bool) {
	w.Lock()
	defer w.Unlock()
	previous := w.state
	if previous == Stopped {
		return previous, false
	}
	w.state = next
	return previous, true
}

func (w *Watcher) publish(next *ReferendumState) {
	w.Lock()
	if w.state == Stopped {
		w.Unlock()
		return
	}
	w.state = Watching
	if w.current.Equal(next) {
		w.Unlock()
		w.logger.Debugf("referendum %d unchanged", w.id)
		return
	}
	w.current = next
	w.Unlock()

	w.stream.Publish(next)
}

func (w *Watcher) fail(err error) {
	w.Lock()
	if w.state == Stopped {
		w.Unlock()
		return
	}
	w.state = Errored
	w.err = err
	w.Unlock()

	w.logger.Warningf("referendum %d unavailable: %v", w.id, err)
	w.stream.Publish(&Unavailable{ProposalID: w.id, Err: err})
}
