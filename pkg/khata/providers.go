package khata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/khata/pkg/adapters/stt"
	"github.com/harunnryd/khata/pkg/adapters/tts"
	"github.com/harunnryd/khata/pkg/configutil"
	"github.com/harunnryd/khata/pkg/conversation"
	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/providers/deepgram"
	"github.com/harunnryd/khata/pkg/providers/mock"
	"github.com/harunnryd/khata/pkg/providers/whisper"
)

type STTFactory func(cfg Config) (conversation.Transcriber, error)
type TTSFactory func(cfg Config) (tts.Synthesizer, error)
type LLMFactory func(cfg Config) (nlu.LLMClient, error)

// ProviderRegistry maps vendor names from config to constructors.
type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg Config) (conversation.Transcriber, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config) (tts.Synthesizer, error) {
	fn := r.tts[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (nlu.LLMClient, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

// DefaultProviders registers the built-in vendors.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(cfg Config) (conversation.Transcriber, error) {
		if err := configutil.ValidateSettings(cfg.Vendors.STT.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: []string{"model", "language", "timeout_ms"},
		}); err != nil {
			return nil, err
		}
		var settings struct {
			APIKey    string `mapstructure:"api_key"`
			Model     string `mapstructure:"model"`
			Language  string `mapstructure:"language"`
			TimeoutMS int    `mapstructure:"timeout_ms"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		newStream := func(ctx context.Context) (stt.StreamingSTT, error) {
			return deepgram.New(deepgram.Config{
				APIKey:     settings.APIKey,
				Model:      settings.Model,
				Language:   settings.Language,
				SampleRate: cfg.VAD.SampleRate,
			}), nil
		}
		return stt.NewBatch(newStream, time.Duration(settings.TimeoutMS)*time.Millisecond), nil
	})

	r.RegisterSTT("whisper", func(cfg Config) (conversation.Transcriber, error) {
		var settings whisper.Config
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return whisper.New(settings), nil
	})

	r.RegisterSTT("mock", func(cfg Config) (conversation.Transcriber, error) {
		var settings struct {
			Transcripts []string `mapstructure:"transcripts"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewTranscriber(settings.Transcripts...), nil
	})

	r.RegisterTTS("mock", func(cfg Config) (tts.Synthesizer, error) {
		var settings struct {
			SampleRate int `mapstructure:"sample_rate"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewTTS(mock.TTSConfig{SampleRate: settings.SampleRate}), nil
	})

	r.RegisterLLM("openai", func(cfg Config) (nlu.LLMClient, error) {
		var settings nlu.OpenAIConfig
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		return nlu.NewOpenAIClient(settings), nil
	})

	r.RegisterLLM("mock", func(cfg Config) (nlu.LLMClient, error) {
		return mock.NewLLM(), nil
	})

	// rules-only parsing, no model in the loop
	r.RegisterLLM("none", func(cfg Config) (nlu.LLMClient, error) {
		return nil, nil
	})

	return r
}
