package qrsign

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log"
	"github.com/opentracing/opentracing-go"

	"github.com/quorumcontrol/ballotbox/sdk/signatures"
)

var ErrSigningAborted = errors.New("signing aborted")
var ErrStaleResponse = errors.New("response does not match the pending request")
var ErrNoPendingRequest = errors.New("no signing request pending")
var ErrSignerMismatch = errors.New("signature was not made by the requested signer")

var logger = logging.Logger("qrsign")

type pending struct {
	req    *Request
	result chan []byte
	abort  chan struct{}
}

// Exchange hands payloads to an external signer and waits for the scanned
// signature. At most one request is pending; a new request aborts the
// previous one. Request IDs increase monotonically and a response is only
// accepted for the current ID.
type Exchange struct {
	sync.Mutex

	nextID   uint64
	current  *pending
	requests chan *Request
	logger   logging.EventLogger
}

func NewExchange() *Exchange {
	return &Exchange{
		requests: make(chan *Request, 1),
		logger:   logger,
	}
}

// Requests delivers each new request for display. Only the most recent
// undelivered request is kept.
func (e *Exchange) Requests() <-chan *Request {
	return e.requests
}

// Sign blocks until the signer responds, the request is aborted or ctx is
// done. The latter two return ErrSigningAborted.
func (e *Exchange) Sign(ctx context.Context, signer common.Address, genesis common.Hash, payload []byte) ([]byte, error) {
	sp, ctx := opentracing.StartSpanFromContext(ctx, "qrsign.Sign")
	defer sp.Finish()

	p := e.begin(signer, genesis, payload)
	sp.SetTag("request", p.req.ID)
	defer e.finish(p)

	select {
	case sig := <-p.result:
		return sig, nil
	case <-p.abort:
		return nil, ErrSigningAborted
	case <-ctx.Done():
		return e.cancelled(p)
	}
}

// cancelled retires p after its context is done. A response that was
// accepted before the lock was taken still wins, so Respond returning nil
// always means Sign returns that signature.
func (e *Exchange) cancelled(p *pending) ([]byte, error) {
	e.Lock()
	defer e.Unlock()
	if e.current == p {
		e.current = nil
		return nil, ErrSigningAborted
	}
	select {
	case sig := <-p.result:
		return sig, nil
	default:
		return nil, ErrSigningAborted
	}
}

func (e *Exchange) begin(signer common.Address, genesis common.Hash, payload []byte) *pending {
	e.Lock()
	defer e.Unlock()

	if e.current != nil {
		e.logger.Debugf("request %d superseded", e.current.req.ID)
		close(e.current.abort)
	}
	e.nextID++
	p := &pending{
		req: &Request{
			ID:          e.nextID,
			Signer:      signer,
			GenesisHash: genesis,
			Payload:     payload,
		},
		result: make(chan []byte, 1),
		abort:  make(chan struct{}),
	}
	e.current = p

	select {
	case <-e.requests:
	default:
	}
	e.requests <- p.req
	return p
}

func (e *Exchange) finish(p *pending) {
	e.Lock()
	defer e.Unlock()
	if e.current == p {
		e.current = nil
	}
}

// Respond delivers a signature for the pending request. The response is
// rejected without affecting the pending request when its ID is stale or
// the signature does not recover to the requested signer.
func (e *Exchange) Respond(ctx context.Context, resp *Response) error {
	e.Lock()
	defer e.Unlock()

	if e.current == nil {
		return ErrNoPendingRequest
	}
	req := e.current.req
	if resp.ID != req.ID {
		e.logger.Warningf("ignoring response for request %d, pending is %d", resp.ID, req.ID)
		return ErrStaleResponse
	}

	valid, err := signatures.Valid(ctx, req.Signer, req.Payload, resp.Signature)
	if err != nil {
		return err
	}
	if !valid {
		return ErrSignerMismatch
	}

	e.current.result <- resp.Signature
	e.current = nil
	return nil
}

// RespondFrame decodes a scanned response frame and delivers it.
func (e *Exchange) RespondFrame(ctx context.Context, frame []byte) error {
	resp, err := DecodeResponse(frame)
	if err != nil {
		return err
	}
	return e.Respond(ctx, resp)
}

// Abort cancels the pending request, if any.
func (e *Exchange) Abort() {
	e.Lock()
	defer e.Unlock()
	if e.current != nil {
		close(e.current.abort)
		e.current = nil
	}
}

// Pending returns the request awaiting a response, or nil.
func (e *Exchange) Pending() *Request {
	e.Lock()
	defer e.Unlock()
	if e.current == nil {
		return nil
	}
	return e.current.req
}
