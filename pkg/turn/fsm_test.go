package turn

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/khata/pkg/frames"
)

type captureEmitter struct {
	mu     sync.Mutex
	frames []frames.Frame
}

func (c *captureEmitter) Emit(frame frames.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *captureEmitter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *captureEmitter) Frames() []frames.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frames.Frame(nil), c.frames...)
}

func mustTransition(t *testing.T, m *Machine, to State, reason string) {
	t.Helper()
	if err := m.Transition(to, reason); err != nil {
		t.Fatalf("transition to %s: %v", to.String(), err)
	}
}

func TestFullConversationPath(t *testing.T) {
	m := NewMachine("sess-1", AggressiveStrategy{}, 0, nil)

	path := []State{
		StateListening, StateProcessing, StateClarifying, StateAgentSpeaking,
		StateListening, StateProcessing, StateConfirming, StateAgentSpeaking,
		StateListening, StateProcessing, StateExecuting, StateAgentSpeaking,
		StateListening,
	}
	for _, s := range path {
		mustTransition(t, m, s, "walk")
	}
	if err := m.Complete("user hung up"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if m.State() != StateComplete {
		t.Fatalf("expected COMPLETE, got %s", m.State().String())
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := NewMachine("sess-1", AggressiveStrategy{}, 0, nil)

	err := m.Transition(StateExecuting, "skipping ahead")
	if err == nil {
		t.Fatal("expected error for IDLE to EXECUTING")
	}
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	if ite.From != StateIdle || ite.To != StateExecuting {
		t.Fatalf("unexpected error detail: %v", ite)
	}
	if m.State() != StateIdle {
		t.Fatalf("failed transition must not change state, got %s", m.State().String())
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m := NewMachine("sess-1", AggressiveStrategy{}, 0, nil)
	mustTransition(t, m, StateListening, "start")
	if err := m.Expire("inactivity"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := m.Transition(StateListening, "resurrect"); err == nil {
		t.Fatal("expected terminal state to reject transitions")
	}
	if err := m.Complete("done"); err == nil {
		t.Fatal("expected EXPIRED to reject COMPLETE")
	}
}

func TestBargeInThreshold(t *testing.T) {
	emitter := &captureEmitter{}
	m := NewMachine("sess-1", AggressiveStrategy{}, 50*time.Millisecond, emitter)

	mustTransition(t, m, StateListening, "start")
	mustTransition(t, m, StateProcessing, "turn end")
	mustTransition(t, m, StateAgentSpeaking, "responding")

	if m.OnSpeechWhilePlaying(20 * time.Millisecond) {
		t.Fatal("expected no interruption below threshold")
	}
	if emitter.Count() != 0 {
		t.Fatalf("expected no frames below threshold, got %d", emitter.Count())
	}

	if !m.OnSpeechWhilePlaying(80 * time.Millisecond) {
		t.Fatal("expected interruption above threshold")
	}
	if emitter.Count() != 3 {
		t.Fatalf("expected interrupt, flush and cancel frames, got %d", emitter.Count())
	}
	for i, f := range emitter.Frames() {
		if got := f.Meta()[frames.MetaSessionID]; got != "sess-1" {
			t.Fatalf("frame %d carries session id %q, want %q", i, got, "sess-1")
		}
	}
	if m.State() != StateListening {
		t.Fatalf("expected state LISTENING after barge-in, got %s", m.State().String())
	}
}

func TestPoliteStrategyNeverInterrupts(t *testing.T) {
	emitter := &captureEmitter{}
	m := NewMachine("sess-1", PoliteStrategy{}, 50*time.Millisecond, emitter)

	mustTransition(t, m, StateListening, "start")
	mustTransition(t, m, StateProcessing, "turn end")
	mustTransition(t, m, StateAgentSpeaking, "responding")

	if m.OnSpeechWhilePlaying(5 * time.Second) {
		t.Fatal("polite strategy must not barge in")
	}
	if m.State() != StateAgentSpeaking {
		t.Fatalf("expected AGENT_SPEAKING, got %s", m.State().String())
	}
}

func TestListenerObservesChanges(t *testing.T) {
	m := NewMachine("sess-1", AggressiveStrategy{}, 0, nil)

	var mu sync.Mutex
	var events []StateChange
	m.AddListener(listenerFunc(func(e StateChange) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	mustTransition(t, m, StateListening, "start")
	mustTransition(t, m, StateProcessing, "turn end")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].FromState != StateIdle || events[0].ToState != StateListening {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Reason != "turn end" {
		t.Fatalf("unexpected reason: %q", events[1].Reason)
	}
}

type listenerFunc func(StateChange)

func (f listenerFunc) OnStateChange(e StateChange) { f(e) }

func TestPlaybackCompleteReturnsToListening(t *testing.T) {
	m := NewMachine("sess-1", AggressiveStrategy{}, 0, nil)
	mustTransition(t, m, StateListening, "start")
	mustTransition(t, m, StateProcessing, "turn end")
	mustTransition(t, m, StateAgentSpeaking, "responding")

	m.OnPlaybackComplete()
	if m.State() != StateListening {
		t.Fatalf("expected LISTENING after playback, got %s", m.State().String())
	}

	// No-op outside AGENT_SPEAKING.
	m.OnPlaybackComplete()
	if m.State() != StateListening {
		t.Fatalf("expected LISTENING unchanged, got %s", m.State().String())
	}
}
