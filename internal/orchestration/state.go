package orchestration

// State is a pipeline stage. Transitions only move forward.
type State int32

const (
	StateSetup State = iota
	StateHandshake
	StateIterating
	StateTeardown
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateHandshake:
		return "handshake"
	case StateIterating:
		return "iterating"
	case StateTeardown:
		return "teardown"
	case StateDone:
		return "done"
	}
	return "unknown"
}
