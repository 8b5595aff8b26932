package tts

import "context"

// Synthesizer defines the contract for any TTS vendor implementation. The
// conversation layer speaks sentence by sentence, so synthesis is per-chunk
// rather than a long-lived stream.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize renders one chunk of text to PCM audio.
	Synthesize(ctx context.Context, text string) (pcm []byte, sampleRate int, err error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SessionID  string
	SampleRate int
	Channels   int
	Voice      string
}
