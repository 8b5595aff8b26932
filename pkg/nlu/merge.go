package nlu

import "strings"

// MergeShortUtterance upgrades a low-information parse when the utterance is
// a bare amount or bare name answering the previous turn's incomplete
// transaction. "I sold apples to Ravi" then "50 rupees" becomes one complete
// sale instead of two fragments.
func MergeShortUtterance(base ParseResult, transcript string, tc TurnContext) ParseResult {
	lastUser := tc.LastUserText()
	if lastUser == "" {
		return base
	}

	prior := priorState(tc)

	switch {
	case IsAmountOnly(transcript):
		amount, ok := ExtractAmount(transcript)
		if !ok {
			return base
		}
		intent := priorIntent(prior, lastUser)
		if intent == IntentUnknown {
			return base
		}
		out := ParseResult{
			Intent:     intent,
			Entities:   map[string]any{KeyAmount: amount},
			Confidence: 0.9,
		}
		copyEntity(out.Entities, prior, KeyCustomerName)
		copyEntity(out.Entities, prior, KeyProductName)
		copyEntity(out.Entities, prior, KeyQuantity)
		return out

	case IsNameOnly(transcript):
		intent := priorIntent(prior, lastUser)
		if intent == IntentUnknown {
			return base
		}
		out := ParseResult{
			Intent:     intent,
			Entities:   map[string]any{KeyCustomerName: strings.TrimSpace(transcript)},
			Confidence: 0.85,
		}
		copyEntity(out.Entities, prior, KeyAmount)
		copyEntity(out.Entities, prior, KeyProductName)
		copyEntity(out.Entities, prior, KeyQuantity)
		if _, ok := out.Entities[KeyAmount]; !ok {
			out.NeedsClarification = true
		}
		return out
	}
	return base
}

// priorState folds the merged parsed state with whatever the rules can still
// mine out of the previous user turn.
func priorState(tc TurnContext) map[string]any {
	state := make(map[string]any, len(tc.ParsedState)+2)
	for k, v := range tc.ParsedState {
		state[k] = v
	}
	last := tc.LastUserText()
	if last == "" {
		return state
	}
	parsed := NewRuleParser().Parse(last)
	if _, ok := state["intent"]; !ok && parsed.Intent != IntentUnknown {
		state["intent"] = string(parsed.Intent)
	}
	for k, v := range parsed.Entities {
		if _, ok := state[k]; !ok {
			state[k] = v
		}
	}
	return state
}

func priorIntent(prior map[string]any, lastUser string) Intent {
	if s, ok := prior["intent"].(string); ok {
		if in := Normalize(s); in.Mutating() {
			return in
		}
	}
	parsed := NewRuleParser().Parse(lastUser)
	if parsed.Intent.Mutating() {
		return parsed.Intent
	}
	return IntentUnknown
}

func copyEntity(dst map[string]any, src map[string]any, key string) {
	if v, ok := src[key]; ok && v != nil {
		if _, exists := dst[key]; !exists {
			dst[key] = v
		}
	}
}
