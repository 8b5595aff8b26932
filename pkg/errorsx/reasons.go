package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSessionNotFound ReasonCode = "session_not_found"
	ReasonSessionExpired  ReasonCode = "session_expired"
	ReasonSessionStore    ReasonCode = "session_store"

	ReasonParseInvalid  ReasonCode = "parse_invalid"
	ReasonParseFallback ReasonCode = "parse_fallback"
	ReasonLLMGenerate   ReasonCode = "llm_generate"
	ReasonLLMRateLimit  ReasonCode = "llm_rate_limit"

	ReasonSTTConnect    ReasonCode = "stt_connect"
	ReasonSTTSend       ReasonCode = "stt_send"
	ReasonSTTTranscribe ReasonCode = "stt_transcribe"
	ReasonTTSStream     ReasonCode = "tts_stream"

	ReasonExecutionFailed ReasonCode = "execution_failed"
	ReasonUnsafeQuery     ReasonCode = "unsafe_query"
	ReasonResolveFailed   ReasonCode = "resolve_failed"

	ReasonTransportSend ReasonCode = "transport_send"
	ReasonSMSSend       ReasonCode = "sms_send"
)
