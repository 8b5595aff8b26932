package conversation

import (
	"fmt"
	"sync"
	"time"
)

// speech tracks the agent response currently being spoken, chunk by chunk, so
// a barge-in can tell exactly what the user heard.
type speech struct {
	mu          sync.Mutex
	chunks      []string
	spoken      int
	interrupted bool
}

func newSpeech(chunks []string) *speech {
	return &speech{chunks: chunks}
}

// Advance marks the next chunk as spoken and returns it. ok is false once
// playback is done or the speech was interrupted.
func (s *speech) Advance() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupted || s.spoken >= len(s.chunks) {
		return "", false
	}
	chunk := s.chunks[s.spoken]
	s.spoken++
	return chunk, true
}

// Interrupt freezes playback and returns what was heard and what was cut off.
func (s *speech) Interrupt() (spoken, remaining []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrupted = true
	return s.chunks[:s.spoken], s.chunks[s.spoken:]
}

func (s *speech) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupted || s.spoken >= len(s.chunks)
}

// ContinuationNote phrases an interrupted response for the next parse so the
// agent can pick up where it was cut off. Used once, then discarded.
func ContinuationNote(spoken, remaining []string) string {
	if len(remaining) == 0 {
		return ""
	}
	return fmt.Sprintf("The agent was interrupted mid-response. Already said: %q. Not yet said: %q.",
		JoinSentences(spoken), JoinSentences(remaining))
}

// activityClock tracks the last time a session heard anything.
type activityClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newActivityClock() *activityClock {
	c := &activityClock{now: time.Now}
	c.last = c.now()
	return c
}

func (c *activityClock) Touch() {
	c.mu.Lock()
	c.last = c.now()
	c.mu.Unlock()
}

func (c *activityClock) IdleFor(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Sub(c.last) > d
}
