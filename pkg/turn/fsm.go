package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// validTransitions is the full conversation lifecycle. Clarifying and
// Confirming both hand the floor back through AgentSpeaking (the agent asks
// its question aloud) and then return to Listening for the answer.
var validTransitions = map[State][]State{
	StateIdle:          {StateListening},
	StateListening:     {StateProcessing},
	StateProcessing:    {StateClarifying, StateConfirming, StateExecuting, StateAgentSpeaking, StateListening},
	StateClarifying:    {StateAgentSpeaking},
	StateConfirming:    {StateAgentSpeaking, StateExecuting},
	StateExecuting:     {StateAgentSpeaking},
	StateAgentSpeaking: {StateListening},
}

// Machine is the finite state machine for one conversation's turn-taking.
type Machine struct {
	currentState State
	mu           sync.RWMutex

	sessionID        string
	bargeInThreshold time.Duration
	strategy         Strategy

	speakingStartTime  time.Time
	listeningStartTime time.Time

	stateChangeListeners []StateListener

	// Interrupt emitter for sending control frames
	emitter InterruptEmitter
}

// NewMachine creates a state machine for turn management. sessionID is
// stamped into every control frame the machine emits so the transport can
// route them to the right client.
func NewMachine(sessionID string, strategy Strategy, bargeInThreshold time.Duration, emitter InterruptEmitter) *Machine {
	if bargeInThreshold <= 0 {
		bargeInThreshold = 500 * time.Millisecond
	}
	if strategy == nil {
		strategy = AggressiveStrategy{}
	}
	return &Machine{
		currentState:     StateIdle,
		sessionID:        sessionID,
		strategy:         strategy,
		bargeInThreshold: bargeInThreshold,
		emitter:          emitter,
	}
}

// State returns the current state.
func (tm *Machine) State() State {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (tm *Machine) transitionValid(from, to State) bool {
	// A conversation can end or time out from any live state.
	if to.Terminal() {
		return !from.Terminal()
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (tm *Machine) Transition(state State, reason string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !tm.transitionValid(tm.currentState, state) {
		return &InvalidTransitionError{
			From: tm.currentState,
			To:   state,
		}
	}

	oldState := tm.currentState
	tm.currentState = state

	switch state {
	case StateListening:
		tm.listeningStartTime = time.Now()
	case StateAgentSpeaking:
		tm.speakingStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners (release lock during notification to avoid deadlocks)
	listeners := make([]StateListener, len(tm.stateChangeListeners))
	copy(listeners, tm.stateChangeListeners)
	tm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	tm.mu.Lock()
	return nil
}

// AddListener registers a listener for state change events.
func (tm *Machine) AddListener(listener StateListener) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stateChangeListeners = append(tm.stateChangeListeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}

// OnPlaybackComplete handles audio playback completion.
// Triggers AGENT_SPEAKING to LISTENING.
func (tm *Machine) OnPlaybackComplete() {
	tm.mu.RLock()
	currentState := tm.currentState
	tm.mu.RUnlock()

	if currentState == StateAgentSpeaking {
		_ = tm.Transition(StateListening, "audio playback complete")
	}
}

// OnSpeechWhilePlaying handles user speech detected during agent playback and
// decides barge-in. Sustained speech past the threshold emits interrupt
// control frames and yields the floor; a polite strategy never interrupts.
// Returns true when a barge-in fired.
func (tm *Machine) OnSpeechWhilePlaying(duration time.Duration) bool {
	tm.mu.RLock()
	currentState := tm.currentState
	threshold := tm.bargeInThreshold
	strategy := tm.strategy
	emitter := tm.emitter
	sessionID := tm.sessionID
	tm.mu.RUnlock()

	if currentState != StateAgentSpeaking || !strategy.BargeInEnabled() {
		return false
	}
	if duration <= threshold {
		return false
	}

	if emitter != nil {
		now := time.Now().UnixNano()
		_ = emitter.Emit(NewInterruptFrame(sessionID, now))
		_ = emitter.Emit(NewFlushFrame(sessionID, now))
		_ = emitter.Emit(NewCancelFrame(sessionID, now))
	}
	_ = tm.Transition(StateListening, "barge-in detected")
	return true
}

// Expire forces the machine into EXPIRED from any live state.
func (tm *Machine) Expire(reason string) error {
	return tm.Transition(StateExpired, reason)
}

// Complete forces the machine into COMPLETE from any live state.
func (tm *Machine) Complete(reason string) error {
	return tm.Transition(StateComplete, reason)
}
