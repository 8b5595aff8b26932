package frames

// Meta keys attached to frames as they move through the pipeline.
const (
	MetaSessionID  = "session_id"
	MetaBusinessID = "business_id"
	MetaTraceID    = "trace_id"
	MetaSource     = "source"
	MetaReason     = "reason"
	MetaIsFinal    = "is_final"
	MetaConfidence = "confidence"
	MetaIntent     = "intent"
	MetaDecision   = "decision"
	MetaChunkIndex = "chunk_index"
)
