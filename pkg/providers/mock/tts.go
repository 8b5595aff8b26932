package mock

import (
	"context"

	"github.com/harunnryd/khata/pkg/adapters/tts"
)

type TTSConfig struct {
	SampleRate  int
	BytesPerSec int
}

// Synthesizer fabricates silence PCM proportional to the text length, which is
// enough to drive playback timing in tests and local runs.
type Synthesizer struct {
	cfg TTSConfig
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BytesPerSec == 0 {
		cfg.BytesPerSec = cfg.SampleRate * 2
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(_ context.Context, text string) ([]byte, int, error) {
	// Roughly 15 characters per second of speech.
	secs := float64(len(text)) / 15.0
	if secs < 0.2 {
		secs = 0.2
	}
	n := int(secs * float64(s.cfg.BytesPerSec))
	if n%2 != 0 {
		n++
	}
	return make([]byte, n), s.cfg.SampleRate, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
