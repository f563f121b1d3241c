package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/atomic"

	"github.com/quorumcontrol/ballotbox/sdk/ballot"
)

// RPCClient talks to a node over JSON-RPC. Connecting happens in the
// background: IsReady stays false until the connection is up and the node
// reports it is not syncing.
type RPCClient struct {
	sync.RWMutex

	conn   *rpc.Client
	ready  *atomic.Bool
	config *Config
	logger logging.EventLogger

	cancel context.CancelFunc
	done   chan struct{}
}

var _ Client = (*RPCClient)(nil)

// Dial starts connecting and returns immediately.
func Dial(ctx context.Context, opts ...Option) (*RPCClient, error) {
	c := &Config{}
	err := c.ApplyOptions(opts...)
	if err != nil {
		return nil, err
	}
	return DialWithConfig(ctx, c)
}

func DialWithConfig(parentCtx context.Context, config *Config) (*RPCClient, error) {
	err := config.SetDefaults()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(parentCtx)
	c := &RPCClient{
		ready:  atomic.NewBool(false),
		config: config,
		logger: config.Logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

func (c *RPCClient) run(ctx context.Context) {
	defer close(c.done)

	for {
		conn, err := c.config.Dialer(ctx)
		if err == nil {
			c.Lock()
			c.conn = conn
			c.Unlock()
			break
		}
		c.logger.Warningf("error dialing node, retrying in %s: %v", c.config.RedialInterval, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.RedialInterval):
		}
	}
	c.logger.Debugf("connected to node")

	ticker := time.NewTicker(c.config.HealthInterval)
	defer ticker.Stop()
	for {
		c.checkHealth(ctx)
		select {
		case <-ctx.Done():
			c.ready.Store(false)
			return
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) checkHealth(ctx context.Context) {
	health, err := c.Health(ctx)
	if err != nil {
		if c.ready.Load() {
			c.logger.Warningf("node health check failed: %v", err)
		}
		c.ready.Store(false)
		return
	}
	if health.IsSyncing {
		c.logger.Debugf("node is syncing")
	}
	c.ready.Store(!health.IsSyncing)
}

func (c *RPCClient) IsReady() bool {
	return c.ready.Load()
}

func (c *RPCClient) client() *rpc.Client {
	c.RLock()
	defer c.RUnlock()
	return c.conn
}

func (c *RPCClient) call(parentCtx context.Context, result interface{}, method string, args ...interface{}) error {
	sp, ctx := opentracing.StartSpanFromContext(parentCtx, "chain."+method)
	defer sp.Finish()

	conn := c.client()
	if conn == nil {
		return &TransientError{Method: method, Err: ErrNotConnected}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()

	err := conn.CallContext(ctx, result, method, args...)
	if err != nil {
		sp.SetTag("error", true)
		return classify(method, err)
	}
	return nil
}

func (c *RPCClient) Health(ctx context.Context) (*Health, error) {
	health := &Health{}
	err := c.call(ctx, health, "system_health")
	if err != nil {
		return nil, err
	}
	return health, nil
}

func (c *RPCClient) GenesisHash(ctx context.Context) (common.Hash, error) {
	var hash common.Hash
	err := c.call(ctx, &hash, "chain_getGenesisHash")
	return hash, err
}

func (c *RPCClient) Head(ctx context.Context) (*Header, error) {
	header := &Header{}
	err := c.call(ctx, header, "chain_getHeader")
	if err != nil {
		return nil, err
	}
	return header, nil
}

func (c *RPCClient) RuntimeVersion(ctx context.Context) (*RuntimeVersion, error) {
	version := &RuntimeVersion{}
	err := c.call(ctx, version, "state_getRuntimeVersion")
	if err != nil {
		return nil, err
	}
	return version, nil
}

func (c *RPCClient) QueryReferendumRecord(ctx context.Context, id ProposalID) (*RawRecord, error) {
	var record *RawRecord
	err := c.call(ctx, &record, "democracy_referendumInfoOf", uint32(id))
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (c *RPCClient) QueryVotesFor(ctx context.Context, id ProposalID) ([]ballot.VoteRecord, error) {
	var votes []Vote
	err := c.call(ctx, &votes, "democracy_referendumVotesFor", uint32(id))
	if err != nil {
		return nil, err
	}
	records := make([]ballot.VoteRecord, len(votes))
	for i, v := range votes {
		records[i] = v.Record()
	}
	return records, nil
}

func (c *RPCClient) SubscribeReferendum(ctx context.Context, id ProposalID, ch chan<- *RawRecord) (Subscription, error) {
	conn := c.client()
	if conn == nil {
		return nil, &TransientError{Method: "democracy_subscribe", Err: ErrNotConnected}
	}
	sub, err := conn.Subscribe(ctx, "democracy", ch, "referendum", uint32(id))
	if err != nil {
		return nil, classify("democracy_subscribe", err)
	}
	return sub, nil
}

func (c *RPCClient) QueryAccountNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	err := c.call(ctx, &nonce, "system_accountNonce", addr)
	return uint64(nonce), err
}

func (c *RPCClient) QueryFreeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var balance hexutil.Big
	err := c.call(ctx, &balance, "balances_freeBalance", addr)
	if err != nil {
		return nil, err
	}
	return (*big.Int)(&balance), nil
}

func (c *RPCClient) SubmitSignedExtrinsic(ctx context.Context, tx []byte) (common.Hash, error) {
	var hash common.Hash
	err := c.call(ctx, &hash, "author_submitExtrinsic", hexutil.Bytes(tx))
	return hash, err
}

// Close stops the background health checks and closes the connection.
func (c *RPCClient) Close() error {
	c.cancel()
	<-c.done

	c.Lock()
	defer c.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.ready.Store(false)
	return nil
}
