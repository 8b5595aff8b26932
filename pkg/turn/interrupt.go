package turn

import (
	"github.com/harunnryd/khata/pkg/frames"
)

type InterruptEmitter interface {
	Emit(frame frames.Frame) error
}

func NewFlushFrame(sessionID string, pts int64) frames.ControlFrame {
	return frames.NewControlFrame(sessionID, pts, frames.ControlFlush, nil)
}

func NewCancelFrame(sessionID string, pts int64) frames.ControlFrame {
	return frames.NewControlFrame(sessionID, pts, frames.ControlCancel, nil)
}

func NewInterruptFrame(sessionID string, pts int64) frames.ControlFrame {
	return frames.NewControlFrame(sessionID, pts, frames.ControlStartInterruption, nil)
}

func NewTurnEndFrame(sessionID string, pts int64) frames.ControlFrame {
	return frames.NewControlFrame(sessionID, pts, frames.ControlTurnEnd, nil)
}
