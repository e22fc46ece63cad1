package dispatch

import "fmt"

// State is the dispatcher's position in the receive cycle.
//
//	Idle → Receiving → Decoded → Authenticating | VerifyingSignature
//	     → Accepted | Rejected → [Responding] → Idle
type State int32

const (
	StateIdle State = iota
	StateReceiving
	StateDecoded
	StateAuthenticating
	StateVerifyingSignature
	StateAccepted
	StateRejected
	StateResponding
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateReceiving:          "receiving",
	StateDecoded:            "decoded",
	StateAuthenticating:     "authenticating",
	StateVerifyingSignature: "verifying_signature",
	StateAccepted:           "accepted",
	StateRejected:           "rejected",
	StateResponding:         "responding",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// TransitionFunc observes state changes. It runs on the dispatch goroutine
// and must not block.
type TransitionFunc func(from, to State)
