package watcher

import (
	"fmt"

	logging "github.com/ipfs/go-log"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
)

type Config struct {
	ProposalID chain.ProposalID
	Client     chain.Client
	Gate       *gate.Gate
	Registry   *metadata.Registry
	Logger     logging.EventLogger
}

type Option func(c *Config) error

func (c *Config) SetDefaults() error {
	if c.Client == nil {
		return fmt.Errorf("a chain client is required")
	}
	if c.Logger == nil {
		err := c.ApplyOptions(WithLogger(logging.Logger("watcher")))
		if err != nil {
			return err
		}
	}
	if c.Gate == nil {
		c.Gate = gate.New(c.Client.IsReady)
	}
	if c.Registry == nil {
		registry, err := metadata.NewRegistry()
		if err != nil {
			return fmt.Errorf("error creating registry: %w", err)
		}
		c.Registry = registry
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

func WithProposalID(id chain.ProposalID) Option {
	return func(c *Config) error {
		c.ProposalID = id
		return nil
	}
}

func WithClient(client chain.Client) Option {
	return func(c *Config) error {
		c.Client = client
		return nil
	}
}

func WithGate(g *gate.Gate) Option {
	return func(c *Config) error {
		c.Gate = g
		return nil
	}
}

func WithRegistry(r *metadata.Registry) Option {
	return func(c *Config) error {
		c.Registry = r
		return nil
	}
}

func WithLogger(l logging.EventLogger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}
