package watcher

import (
	"fmt"

	"github.com/quorumcontrol/ballotbox/sdk/ballot"
	"github.com/quorumcontrol/ballotbox/sdk/chain"
)

type State int

const (
	Idle State = iota
	AwaitingConnection
	Decoding
	Watching
	Errored
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConnection:
		return "awaiting connection"
	case Decoding:
		return "decoding"
	case Watching:
		return "watching"
	case Errored:
		return "error"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ReferendumState is what gets displayed for a referendum. A new value is
// built on every cycle and published only when it differs from the last one.
type ReferendumState struct {
	ProposalID    chain.ProposalID
	Header        string
	Documentation *string
	Ballot        *ballot.Ballot
	Record        *chain.RawRecord
}

func (s *ReferendumState) Equal(other *ReferendumState) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.ProposalID == other.ProposalID &&
		s.Header == other.Header &&
		stringPtrEqual(s.Documentation, other.Documentation) &&
		s.Ballot.Equal(other.Ballot) &&
		s.Record.Equal(other.Record)
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Unavailable is published when the watcher gives up, either because the
// node never became ready or because the subscription failed.
type Unavailable struct {
	ProposalID chain.ProposalID
	Err        error
}
