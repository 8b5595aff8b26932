package pipeline

// Builder assembles the frame pipeline between a transport and the
// conversation layer. Pre-stages run before the dialogue core (acoustic
// cleanup, resampling), post-stages after it (serialization for the wire).
type Builder struct {
	pre  []FrameProcessor
	core []FrameProcessor
	post []FrameProcessor
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithProcessor(p FrameProcessor) *Builder {
	if p != nil {
		b.core = append(b.core, p)
	}
	return b
}

func (b *Builder) WithProcessorList(list []FrameProcessor) *Builder {
	for _, p := range list {
		b.WithProcessor(p)
	}
	return b
}

// WithConversation registers the dialogue processor as a core stage.
func (b *Builder) WithConversation(p FrameProcessor) *Builder {
	return b.WithProcessor(p)
}

func (b *Builder) WithAcoustic(p FrameProcessor) *Builder {
	if p != nil {
		b.pre = append(b.pre, p)
	}
	return b
}

func (b *Builder) WithSerializer(p FrameProcessor) *Builder {
	if p != nil {
		b.post = append(b.post, p)
	}
	return b
}

func (b *Builder) Build(cfg Config) Orchestrator {
	return NewWithPipelineConfig(PipelineConfig{
		Config:     cfg,
		Processors: append(append(b.pre, b.core...), b.post...),
	})
}
