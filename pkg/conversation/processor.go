package conversation

import (
	"context"

	"github.com/harunnryd/khata/pkg/frames"
)

// Processor bridges the frame pipeline to one orchestrator. Audio frames feed
// turn detection; control frames steer the lifecycle. It emits no downstream
// frames, the orchestrator pushes events through its own sink.
type Processor struct {
	ctx  context.Context
	orch *Orchestrator
}

func NewProcessor(ctx context.Context, orch *Orchestrator) *Processor {
	return &Processor{ctx: ctx, orch: orch}
}

func (p *Processor) Name() string { return "conversation" }

func (p *Processor) Process(f frames.Frame) ([]frames.Frame, error) {
	switch f.Kind() {
	case frames.KindAudio:
		af := f.(frames.AudioFrame)
		return nil, p.orch.HandleAudio(p.ctx, af.RawPayload())

	case frames.KindText:
		tf := f.(frames.TextFrame)
		return nil, p.orch.HandleText(p.ctx, tf.Text())

	case frames.KindControl:
		cf := f.(frames.ControlFrame)
		switch cf.Code() {
		case frames.ControlPing:
			p.orch.Touch()
		case frames.ControlStopListening, frames.ControlTurnEnd:
			return nil, p.orch.StopListening(p.ctx)
		case frames.ControlStop:
			return nil, p.orch.Stop(p.ctx)
		}
	}
	return nil, nil
}
