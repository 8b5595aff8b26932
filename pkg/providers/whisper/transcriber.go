// Package whisper transcribes buffered turn audio through the OpenAI audio
// transcription endpoint.
package whisper

import (
	"bytes"
	"context"
	"encoding/binary"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harunnryd/khata/pkg/errorsx"
)

type Config struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
	Language string `mapstructure:"language"`
}

type Transcriber struct {
	client *openai.Client
	cfg    Config
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Transcriber{client: openai.NewClientWithConfig(clientCfg), cfg: cfg}
}

// Transcribe wraps the raw PCM in a WAV container and sends one request per
// completed turn.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.cfg.Model,
		Language: t.cfg.Language,
		FilePath: "turn.wav",
		Reader:   bytes.NewReader(wavEncode(audio, sampleRate, 1)),
	})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	return strings.TrimSpace(resp.Text), nil
}

// wavEncode prepends a 44-byte RIFF header for 16-bit little-endian PCM.
func wavEncode(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	byteRate := sampleRate * channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
