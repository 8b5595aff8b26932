package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/khata/pkg/resilience"
)

const systemPrompt = `You are the intent parser for a voice bookkeeping assistant used by small-business owners.
Read the user's utterance (often Hinglish) and output ONLY a JSON object with keys:
intent (one of the documented tags), entities (object), confidence (0-1), needs_clarification (bool),
and optionally clarification_question. Amounts go under "amount", people under "customer_name",
goods under "product_name". Never invent values the user did not say.`

const correctiveInstruction = `Model output invalid: missing required JSON fields. ` +
	`Produce only JSON with intent, entities, confidence, needs_clarification.`

// TurnContext is the conversational context a parse runs against: recent
// turns plus the merged entity state accumulated so far.
type TurnContext struct {
	Turns       []ContextTurn
	ParsedState map[string]any
}

type ContextTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// LastUserText returns the most recent user turn, or "".
func (c TurnContext) LastUserText() string {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == "user" {
			return c.Turns[i].Text
		}
	}
	return ""
}

// Parser turns transcripts into ParseResults: LLM first with required-key
// validation and one corrective retry, then the rule-based fallback. A nil
// LLM client degrades straight to rules.
type Parser struct {
	llm       LLMClient
	rules     *RuleParser
	retry     resilience.RetryPolicy
	breaker   *resilience.CircuitBreaker
	maxTokens int
	log       *slog.Logger
}

func NewParser(llm LLMClient, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		llm:       llm,
		rules:     NewRuleParser(),
		retry:     resilience.NewRetryPolicy(2, 300*time.Millisecond),
		breaker:   resilience.NewCircuitBreaker(3, 30*time.Second),
		maxTokens: 400,
		log:       log,
	}
}

// Parse parses one utterance in context. The result is always well-formed;
// upstream failures are absorbed into the fallback path and never surface to
// the caller.
func (p *Parser) Parse(ctx context.Context, businessID int64, transcript string, tc TurnContext) ParseResult {
	var pr ParseResult
	if p.llm != nil {
		if raw, ok := p.callWithValidation(ctx, businessID, transcript, tc); ok {
			pr = fromRaw(raw)
			pr.SourceText = transcript
			return pr
		}
		p.log.Warn("llm_parse_failed_falling_back", "transcript_len", len(transcript))
	}
	pr = MergeShortUtterance(p.rules.Parse(transcript), transcript, tc)
	pr.SourceText = transcript
	return pr
}

func (p *Parser) callWithValidation(ctx context.Context, businessID int64, transcript string, tc TurnContext) (map[string]any, bool) {
	if !p.breaker.Allow() {
		p.log.Warn("llm_circuit_open", "transcript_len", len(transcript))
		return nil, false
	}
	userPrompt := p.buildUserPrompt(businessID, transcript, tc)
	for attempt := 0; attempt < 2; attempt++ {
		var raw map[string]any
		err := p.retry.Do(ctx, func() error {
			var callErr error
			raw, callErr = p.llm.ParseJSON(ctx, systemPrompt, userPrompt, p.maxTokens)
			return callErr
		})
		if err != nil {
			p.breaker.OnError(err)
			p.log.Warn("llm_parse_error", "attempt", attempt+1, "err", err)
			return nil, false
		}
		p.breaker.OnSuccess()
		if hasRequiredKeys(raw) {
			return raw, true
		}
		userPrompt = userPrompt + "\n\n" + correctiveInstruction
	}
	return nil, false
}

func (p *Parser) buildUserPrompt(businessID int64, transcript string, tc TurnContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business ID: %d\n\n", businessID)
	if len(tc.Turns) > 0 {
		turns, _ := json.Marshal(tc.Turns)
		fmt.Fprintf(&b, "Recent conversation:\n%s\n\n", turns)
	}
	fmt.Fprintf(&b, "Current user input: %q\n", transcript)
	if len(tc.ParsedState) > 0 {
		state, _ := json.Marshal(tc.ParsedState)
		fmt.Fprintf(&b, "\nPrevious parsed state:\n%s\n", state)
		b.WriteString("\nIf the user is supplying a value that completes the previous incomplete transaction, merge it with that state instead of starting over.")
	}
	return b.String()
}

func hasRequiredKeys(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	for _, k := range []string{"intent", "entities", "confidence", "needs_clarification"} {
		if _, ok := raw[k]; !ok {
			return false
		}
	}
	return true
}

func fromRaw(raw map[string]any) ParseResult {
	out := ParseResult{Entities: map[string]any{}}
	if s, ok := raw["intent"].(string); ok {
		out.Intent = Normalize(s)
	}
	if m, ok := raw["entities"].(map[string]any); ok {
		for k, v := range m {
			if v != nil {
				out.Entities[k] = v
			}
		}
	}
	if f, ok := raw["confidence"].(float64); ok {
		out.Confidence = f
	}
	if bv, ok := raw["needs_clarification"].(bool); ok {
		out.NeedsClarification = bv
	}
	if q, ok := raw["clarification_question"].(string); ok {
		out.ClarificationQuestion = q
	}
	return out
}
