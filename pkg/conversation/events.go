package conversation

// Event types pushed to the client over the transport.
const (
	EventSessionInitialized = "session_initialized"
	EventTranscription      = "transcription"
	EventProcessing         = "processing"
	EventAgentSpeaking      = "agent_speaking"
	EventExecuted           = "executed"
	EventAgentFinished      = "agent_finished"
	EventBargeIn            = "barge_in"
	EventError              = "error"
	EventTimeout            = "timeout"
	EventStopped            = "stopped"
)

// Event is one message to the client.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
