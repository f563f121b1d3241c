package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

var ErrNotConnected = errors.New("not connected to node")

// TransientError wraps failures that say nothing about the request itself,
// such as a dropped connection or a timeout. Retrying may succeed.
type TransientError struct {
	Method string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error calling %s: %v", e.Method, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NodeError is an error the node answered with. The node understood the
// request and refused it.
type NodeError struct {
	Method  string
	Code    int
	Message string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node rejected %s (code %d): %s", e.Method, e.Code, e.Message)
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func classify(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &NodeError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return &TransientError{Method: method, Err: err}
}
