package transports

import (
	"context"

	"github.com/harunnryd/khata/pkg/frames"
)

// Transport defines a vendor-agnostic I/O boundary for audio/text/control frames.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// Drainer lets a transport refuse new sessions while existing ones finish.
type Drainer interface {
	Drain()
}

// ReadyReporter allows transports to expose readiness metadata (e.g., listen
// addresses). Implementations are optional and used for informational logging
// only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
