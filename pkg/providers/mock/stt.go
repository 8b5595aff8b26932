package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harunnryd/khata/pkg/adapters/stt"
	"github.com/harunnryd/khata/pkg/frames"
)

type STTConfig struct {
	SessionID         string
	TraceID           string
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	EmitTurnEnd       bool
}

// StreamingSTT is a deterministic stand-in for a streaming vendor: the first
// audio frame triggers the scripted transcript.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.Frame
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	emitted bool
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &StreamingSTT{cfg: cfg, out: make(chan frames.Frame, 16)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(frame frames.AudioFrame) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.out <- frames.NewTextFrame(s.cfg.SessionID, time.Now().UnixNano(), interim, s.meta(map[string]string{
			frames.MetaIsFinal: "false",
		}))
	}

	s.out <- frames.NewTextFrame(s.cfg.SessionID, time.Now().UnixNano(), s.cfg.Transcript, s.meta(map[string]string{
		frames.MetaIsFinal: "true",
	}))

	if s.cfg.EmitTurnEnd {
		s.out <- frames.NewControlFrame(s.cfg.SessionID, time.Now().UnixNano(), frames.ControlTurnEnd, s.meta(map[string]string{
			frames.MetaReason: "utterance_end",
		}))
	}
	return nil
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

func (s *StreamingSTT) meta(extra map[string]string) map[string]string {
	meta := map[string]string{
		frames.MetaSessionID: s.cfg.SessionID,
		frames.MetaSource:    "stt",
	}
	if s.cfg.TraceID != "" {
		meta[frames.MetaTraceID] = s.cfg.TraceID
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)

// Transcriber is the batch equivalent: each call pops the next scripted text.
type Transcriber struct {
	mu    sync.Mutex
	texts []string
}

func NewTranscriber(texts ...string) *Transcriber {
	return &Transcriber{texts: texts}
}

func (t *Transcriber) Transcribe(context.Context, []byte, int) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.texts) == 0 {
		return "", nil
	}
	text := t.texts[0]
	t.texts = t.texts[1:]
	return text, nil
}
