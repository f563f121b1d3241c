package voter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log"

	"github.com/quorumcontrol/ballotbox/keystore"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
)

// Accounts resolves the selected address to a signing account.
type Accounts interface {
	Resolve(addr common.Address) (*keystore.Account, error)
}

// ExternalSigner obtains a signature from a device that holds the key,
// qrsign.Exchange being the usual one.
type ExternalSigner interface {
	Sign(ctx context.Context, signer common.Address, genesis common.Hash, payload []byte) ([]byte, error)
}

type Config struct {
	Client    chain.Client
	Gate      *gate.Gate
	Registry  *metadata.Registry
	Accounts  Accounts
	External  ExternalSigner
	Submitter Submitter
	Account   common.Address
	Logger    logging.EventLogger

	VoteSection string
	VoteMethod  string
}

type Option func(c *Config) error

func (c *Config) SetDefaults() error {
	if c.Client == nil {
		return fmt.Errorf("a chain client is required")
	}
	if c.Accounts == nil {
		return fmt.Errorf("an account resolver is required")
	}
	if c.Logger == nil {
		err := c.ApplyOptions(WithLogger(logging.Logger("voter")))
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
	if c.Submitter == nil {
		c.Submitter = NewPipeline(c.Client, c.Logger)
	}
	if c.VoteSection == "" {
		c.VoteSection = "democracy"
	}
	if c.VoteMethod == "" {
		c.VoteMethod = "vote"
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

func WithAccounts(a Accounts) Option {
	return func(c *Config) error {
		c.Accounts = a
		return nil
	}
}

func WithExternalSigner(s ExternalSigner) Option {
	return func(c *Config) error {
		c.External = s
		return nil
	}
}

func WithSubmitter(s Submitter) Option {
	return func(c *Config) error {
		c.Submitter = s
		return nil
	}
}

// WithAccount selects the address votes are cast from.
func WithAccount(addr common.Address) Option {
	return func(c *Config) error {
		c.Account = addr
		return nil
	}
}

func WithLogger(l logging.EventLogger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithVoteCall overrides the call that is looked up for voting.
func WithVoteCall(section, method string) Option {
	return func(c *Config) error {
		c.VoteSection = section
		c.VoteMethod = method
		return nil
	}
}
