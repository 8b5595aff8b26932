package nlu

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// RuleParser is the deterministic fallback used when the LLM parse service is
// unavailable or keeps returning malformed output. Keyword driven, tuned for
// the Hinglish phrasing of small-shop bookkeeping.
type RuleParser struct{}

func NewRuleParser() *RuleParser { return &RuleParser{} }

var (
	amountRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	nameAfter  = regexp.MustCompile(`(?i)\bto\s+([A-Za-z]{3,})`)
	nameBefore = regexp.MustCompile(`(?i)\b([A-Za-z]{3,})\s+(?:ko|ka|ke)\b`)
)

var productWords = []string{
	"parle g", "biscuit", "chai", "milk", "rice", "dal", "oil", "sugar",
	"apples", "apple", "atta", "soap", "namkeen",
}

func (r *RuleParser) Parse(transcript string) ParseResult {
	lower := strings.ToLower(transcript)
	entities := map[string]any{}
	intent := IntentUnknown
	confidence := 0.6

	switch {
	case containsAny(lower, "becha", "bech", "sale", "sold"):
		intent = IntentSale
	case containsAny(lower, "udhaar", "udhar", "credit"):
		intent = IntentCreditGiven
	case containsAny(lower, "kharida", "kharid", "purchase", "bought"):
		intent = IntentPurchase
	case containsAny(lower, "kharcha", "expense"):
		intent = IntentExpense
	case containsAny(lower, "khata", "balance", "baaki"):
		intent = IntentCustomerBalance
	case containsAny(lower, "stock", "inventory", "samaan"):
		intent = IntentInventoryQuery
	case containsAny(lower, "aaj", "today") && containsAny(lower, "sale", "bikri", "kitna"):
		intent = IntentTodaySales
	case containsAny(lower, "cashflow", "cash flow"):
		intent = IntentCashflow
	case containsAny(lower, "collect", "vasuli", "payment"):
		intent = IntentCollectionPriority
	case containsAny(lower, "haan", "yes", "confirm", "theek hai"):
		intent = IntentApprove
	case containsAny(lower, "nahi", "cancel", "rehne do"):
		intent = IntentCancel
	}

	if amount, ok := ExtractAmount(transcript); ok && intent.Mutating() {
		entities[KeyAmount] = amount
		confidence = 0.8
	}
	if name := extractCustomerName(transcript); name != "" {
		entities[KeyCustomerName] = name
	}
	if product := extractProductName(lower); product != "" {
		entities[KeyProductName] = product
	}

	needsClarification := false
	question := ""
	if intent == IntentUnknown {
		needsClarification = true
		question = "Kripya apna sawaal spasht karein. Aap kya karna chahte hain?"
	}

	return ParseResult{
		Intent:                intent,
		Entities:              entities,
		Confidence:            confidence,
		NeedsClarification:    needsClarification,
		ClarificationQuestion: question,
	}
}

// ExtractAmount pulls the first numeric amount out of free text, tolerating
// currency noise ("₹50", "50 rupees", "Rs. 50").
func ExtractAmount(text string) (float64, bool) {
	m := amountRe.FindString(text)
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}

// IsAmountOnly reports whether the utterance is nothing but an amount, e.g.
// "50 rupees". Clarification answers usually arrive in this shape.
func IsAmountOnly(text string) bool {
	cleaned := strings.ToLower(text)
	for _, w := range []string{"rupees", "rupee", "rupaye", "rs.", "rs", "₹"} {
		cleaned = strings.ReplaceAll(cleaned, w, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return false
	}
	_, err := strconv.ParseFloat(cleaned, 64)
	return err == nil
}

// IsNameOnly reports whether the utterance is likely just a person's name:
// one or two capitalized words, no digits.
func IsNameOnly(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || strings.ContainsFunc(text, unicode.IsDigit) {
		return false
	}
	words := strings.Fields(text)
	if len(words) > 2 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if !unicode.IsUpper(r[0]) {
			return false
		}
	}
	return true
}

func extractCustomerName(text string) string {
	for _, re := range []*regexp.Regexp{nameAfter, nameBefore} {
		if m := re.FindStringSubmatch(text); m != nil {
			return titleCase(m[1])
		}
	}
	return ""
}

func extractProductName(lower string) string {
	for _, p := range productWords {
		if strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
