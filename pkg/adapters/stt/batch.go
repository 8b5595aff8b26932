package stt

import (
	"context"
	"strings"
	"time"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/frames"
)

// defaultBatchTimeout bounds how long one turn's transcription may take.
const defaultBatchTimeout = 10 * time.Second

// Batch turns a streaming vendor into a per-turn transcriber: one stream per
// call, audio pushed in whole, final transcripts collected until the vendor
// signals the end of the utterance.
type Batch struct {
	newStream func(ctx context.Context) (StreamingSTT, error)
	timeout   time.Duration
}

func NewBatch(newStream func(ctx context.Context) (StreamingSTT, error), timeout time.Duration) *Batch {
	if timeout <= 0 {
		timeout = defaultBatchTimeout
	}
	return &Batch{newStream: newStream, timeout: timeout}
}

func (b *Batch) Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	s, err := b.newStream(ctx)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	if err := s.Start(ctx); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	defer s.Close()

	af := frames.NewAudioFrame("", time.Now().UnixNano(), audio, sampleRate, 1, nil)
	if err := s.SendAudio(af); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSTTSend)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			// Whatever arrived before the deadline still counts.
			return strings.Join(parts, " "), nil
		case f, ok := <-s.Results():
			if !ok {
				return strings.Join(parts, " "), nil
			}
			switch f.Kind() {
			case frames.KindText:
				tf := f.(frames.TextFrame)
				if tf.Meta()[frames.MetaIsFinal] == "true" {
					parts = append(parts, tf.Text())
				}
			case frames.KindControl:
				cf := f.(frames.ControlFrame)
				if cf.Code() == frames.ControlTurnEnd {
					return strings.Join(parts, " "), nil
				}
			}
		}
	}
}
