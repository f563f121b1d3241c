package cmd

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/quorumcontrol/ballotbox/keystore"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/gate"
	"github.com/quorumcontrol/ballotbox/sdk/metadata"
	"github.com/quorumcontrol/ballotbox/storage"
)

// session holds what a command needs to talk to the node. Close tears all of
// it down and reports every failure.
type session struct {
	client   *chain.RPCClient
	gate     *gate.Gate
	registry *metadata.Registry
	keys     *keystore.KeyStore
}

func openKeyStore() (*keystore.KeyStore, error) {
	store, err := storage.NewBadger(conf.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("error opening keystore at %s: %w", conf.StoragePath, err)
	}
	return keystore.New(&keystore.Config{Storage: store}), nil
}

func openSession(ctx context.Context, withKeys bool) (*session, error) {
	s := &session{}

	var registryOpts []metadata.Option
	if conf.MetadataDir != "" {
		registryOpts = append(registryOpts, metadata.WithDir(conf.MetadataDir))
	}
	registry, err := metadata.NewRegistry(registryOpts...)
	if err != nil {
		return nil, fmt.Errorf("error creating metadata registry: %w", err)
	}
	s.registry = registry

	if withKeys {
		keys, err := openKeyStore()
		if err != nil {
			return nil, err
		}
		s.keys = keys
	}

	client, err := chain.Dial(ctx, chain.WithURL(conf.NodeURL))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("error dialing %s: %w", conf.NodeURL, err)
	}
	s.client = client
	s.gate = gate.New(client.IsReady, conf.GateOptions()...)

	return s, nil
}

func (s *session) Close() error {
	var result *multierror.Error
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("error closing node connection: %w", err))
		}
	}
	if s.keys != nil {
		if err := s.keys.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("error closing keystore: %w", err))
		}
	}
	return result.ErrorOrNil()
}
