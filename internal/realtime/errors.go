package realtime

import (
	"errors"
	"fmt"
)

// ErrChannelNotOpen guards send operations attempted before the data channel
// is open. A sequencing bug in the orchestration, never swallowed.
var ErrChannelNotOpen = errors.New("data channel not open")

// ErrSuperseded marks a negotiation result that arrived after the transport
// was disconnected or reconnected; its result must be discarded.
var ErrSuperseded = errors.New("connection attempt superseded")

// NegotiationError reports a failure in the offer/credential/answer chain.
// The attempt is aborted; callers must Disconnect before retrying.
type NegotiationError struct {
	Step string
	Err  error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed at %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }
