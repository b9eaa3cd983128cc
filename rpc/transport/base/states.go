package base

import "fmt"

// ConnState is the lifecycle state of a server connection
type ConnState int32

const (
	StateInit ConnState = iota
	StateHandshaking
	StateReady
	StateProcessing
	StateTerminated
)

func (s ConnState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateReady:
		return "READY"
	case StateProcessing:
		return "PROCESSING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// transitions lists the legal successors of every state
var transitions = [...][]ConnState{
	StateInit:        {StateHandshaking, StateTerminated},
	StateHandshaking: {StateReady, StateTerminated},
	StateReady:       {StateProcessing, StateTerminated},
	StateProcessing:  {StateReady, StateTerminated},
	StateTerminated:  nil,
}

// CanTransition reports whether the state machine may move from s to next
func (s ConnState) CanTransition(next ConnState) bool {
	if s < 0 || int(s) >= len(transitions) {
		return false
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
