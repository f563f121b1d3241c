package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	logging "github.com/ipfs/go-log"
)

var DefaultHealthInterval = 2 * time.Second
var DefaultRedialInterval = 3 * time.Second
var DefaultCallTimeout = 30 * time.Second

// Dialer opens the underlying rpc connection. It is retried until it succeeds
// or the client is closed.
type Dialer func(ctx context.Context) (*rpc.Client, error)

type Config struct {
	Dialer         Dialer
	Logger         logging.EventLogger
	HealthInterval time.Duration
	RedialInterval time.Duration
	CallTimeout    time.Duration
}

type Option func(c *Config) error

func (c *Config) SetDefaults() error {
	if c.Dialer == nil {
		return fmt.Errorf("a dialer is required, use WithURL or WithRPCClient")
	}
	if c.Logger == nil {
		err := c.ApplyOptions(WithLogger(logging.Logger("chain")))
		if err != nil {
			return err
		}
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.RedialInterval == 0 {
		c.RedialInterval = DefaultRedialInterval
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	return nil
}

func (c *Config) ApplyOptions(opts ...Option) error {
	for _, factory := range opts {
		err := factory(c)
		if err != nil {
			return fmt.Errorf("error applying option: %v", err)
		}
	}
	return nil
}

// WithURL dials a node endpoint, ws:// and wss:// endpoints are required for
// referendum subscriptions.
func WithURL(url string) Option {
	return func(c *Config) error {
		c.Dialer = func(ctx context.Context) (*rpc.Client, error) {
			return rpc.DialContext(ctx, url)
		}
		return nil
	}
}

// WithRPCClient uses an already established connection, for example one
// returned by rpc.DialInProc.
func WithRPCClient(cli *rpc.Client) Option {
	return func(c *Config) error {
		c.Dialer = func(_ context.Context) (*rpc.Client, error) {
			return cli, nil
		}
		return nil
	}
}

func WithLogger(l logging.EventLogger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

func WithHealthInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.HealthInterval = d
		return nil
	}
}

func WithRedialInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.RedialInterval = d
		return nil
	}
}

func WithCallTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.CallTimeout = d
		return nil
	}
}
