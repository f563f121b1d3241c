package voter

import (
	"errors"
	"fmt"
)

var ErrInsufficientBalance = errors.New("insufficient free balance to vote")
var ErrNoAccount = errors.New("no account selected")
var ErrNoExternalSigner = errors.New("no external signer configured")
var ErrActionPending = errors.New("the same vote is already being submitted")
var ErrSubmissionRejected = errors.New("submission rejected")

// RejectedError is a terminal submission failure: the node refused the
// extrinsic or it could not be encoded. Resubmitting the same extrinsic will
// fail again.
type RejectedError struct {
	Code   int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("submission rejected: %s", e.Reason)
	}
	return fmt.Sprintf("submission rejected (code %d): %s", e.Code, e.Reason)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrSubmissionRejected
}
