package turn

type State int

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateClarifying
	StateConfirming
	StateExecuting
	StateAgentSpeaking
	StateComplete
	StateExpired
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateClarifying:
		return "CLARIFYING"
	case StateConfirming:
		return "CONFIRMING"
	case StateExecuting:
		return "EXECUTING"
	case StateAgentSpeaking:
		return "AGENT_SPEAKING"
	case StateComplete:
		return "COMPLETE"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateExpired
}

// Strategy decides how the agent yields the floor when the user talks over
// it.
type Strategy interface {
	Name() string
	BargeInEnabled() bool
}

type AggressiveStrategy struct{}

func (AggressiveStrategy) Name() string         { return "aggressive" }
func (AggressiveStrategy) BargeInEnabled() bool { return true }

type PoliteStrategy struct{}

func (PoliteStrategy) Name() string         { return "polite" }
func (PoliteStrategy) BargeInEnabled() bool { return false }
