package voter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/quorumcontrol/ballotbox/sdk/chain"
	"github.com/quorumcontrol/ballotbox/sdk/extrinsic"
)

// Refresher is told when an extrinsic was accepted by the node.
type Refresher interface {
	Refresh()
}

// Submitter hands a signed extrinsic to the node.
type Submitter interface {
	Submit(ctx context.Context, signed *extrinsic.Signed) (common.Hash, error)
}

// Pipeline submits signed extrinsics and refreshes the registered watchers
// once the node accepts one. Acceptance is not finality.
type Pipeline struct {
	sync.RWMutex

	client     chain.Client
	refreshers []Refresher
	logger     logging.EventLogger
}

var _ Submitter = (*Pipeline)(nil)

func NewPipeline(client chain.Client, logger logging.EventLogger) *Pipeline {
	if logger == nil {
		logger = logging.Logger("voter")
	}
	return &Pipeline{
		client: client,
		logger: logger,
	}
}

func (p *Pipeline) AddRefresher(r Refresher) {
	p.Lock()
	defer p.Unlock()
	p.refreshers = append(p.refreshers, r)
}

// Submit returns a *RejectedError when the node refuses the extrinsic and a
// *chain.TransientError when it could not be reached.
func (p *Pipeline) Submit(ctx context.Context, signed *extrinsic.Signed) (common.Hash, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "voter.Submit")
	defer sp.Finish()

	bits, err := signed.Encode()
	if err != nil {
		return common.Hash{}, &RejectedError{Reason: err.Error()}
	}

	hash, err := p.client.SubmitSignedExtrinsic(ctx, bits)
	if err != nil {
		sp.SetTag("error", true)
		var nodeErr *chain.NodeError
		if errors.As(err, &nodeErr) {
			p.logger.Warningf("node rejected extrinsic from %s: %v", signed.Signer.Hex(), nodeErr)
			return common.Hash{}, &RejectedError{Code: nodeErr.Code, Reason: nodeErr.Message}
		}
		return common.Hash{}, fmt.Errorf("error submitting: %w", err)
	}

	p.logger.Debugf("extrinsic %s accepted", hash.Hex())
	p.RLock()
	for _, r := range p.refreshers {
		r.Refresh()
	}
	p.RUnlock()
	return hash, nil
}

// SubmitAsync submits in the background and calls done with the result.
func (p *Pipeline) SubmitAsync(ctx context.Context, signed *extrinsic.Signed, done func(common.Hash, error)) {
	go func() {
		hash, err := p.Submit(ctx, signed)
		if done != nil {
			done(hash, err)
		}
	}()
}
