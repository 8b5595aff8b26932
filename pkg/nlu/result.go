package nlu

import (
	"strconv"
	"strings"
)

// Entity keys shared by parsers, validation, and execution.
const (
	KeyAmount        = "amount"
	KeyCustomerName  = "customer_name"
	KeyCustomerPhone = "customer_phone"
	KeyProductName   = "product_name"
	KeyQuantity      = "quantity"
	KeyExpenseType   = "expense_type"
	KeyPrice         = "price"
	KeyNotes         = "notes"
)

// ParseResult is one parser's reading of one user turn. It is produced fresh
// per turn and enriched, never mutated in place, by the validation gate.
type ParseResult struct {
	Intent                Intent         `json:"intent"`
	Entities              map[string]any `json:"entities"`
	Confidence            float64        `json:"confidence"`
	NeedsClarification    bool           `json:"needs_clarification"`
	ClarificationQuestion string         `json:"clarification_question,omitempty"`
	MissingFields         []string       `json:"missing_fields,omitempty"`

	// SourceText is the utterance the parse came from. Freeform questions
	// that normalize to UNKNOWN hand it to the query planner verbatim.
	SourceText string `json:"source_text,omitempty"`
}

// Clone returns a deep-enough copy for enrichment without sharing the
// entity map.
func (p ParseResult) Clone() ParseResult {
	out := p
	out.Entities = make(map[string]any, len(p.Entities))
	for k, v := range p.Entities {
		out.Entities[k] = v
	}
	out.MissingFields = append([]string(nil), p.MissingFields...)
	return out
}

// EntityString returns the entity as a trimmed string, or "" when absent,
// nil, or blank.
func (p ParseResult) EntityString(key string) string {
	v, ok := p.Entities[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	default:
		return ""
	}
}

// EntityFloat returns the entity as a float64 when it can be read as one.
func (p ParseResult) EntityFloat(key string) (float64, bool) {
	v, ok := p.Entities[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
