package validation

import (
	"strings"

	"github.com/harunnryd/khata/pkg/nlu"
)

// Deterministic per-field clarification questions. This layer never
// free-text-generates; the fixed lookup keeps the gate pure and testable.
var fieldQuestions = map[string]string{
	nlu.KeyCustomerName:  "Customer ka naam bataiye?",
	nlu.KeyCustomerPhone: "Customer ka phone number bataiye?",
	nlu.KeyAmount:        "Amount kitna hai?",
	nlu.KeyExpenseType:   "Expense ka type kya hai?",
	nlu.KeyProductName:   "Product ka naam bataiye?",
	nlu.KeyPrice:         "Product ka price kitna hai?",
	nlu.KeyQuantity:      "Kitni quantity hai?",
}

// Question builds a clarification question from the first one or two missing
// fields, or a generic re-prompt when only confidence fell short.
func Question(_ nlu.Intent, missing []string, confidence float64) string {
	if len(missing) == 0 {
		if confidence < ConfidenceThreshold {
			return "Kripya apna message clear kijiye. Main pura samajh nahi paya."
		}
		return "Aur koi details chahiye?"
	}

	questions := make([]string, 0, 2)
	for _, field := range missing {
		if q, ok := fieldQuestions[field]; ok {
			questions = append(questions, q)
		}
		if len(questions) == 2 {
			break
		}
	}
	if len(questions) == 0 {
		return "Yeh details chahiye: " + strings.Join(missing, ", ")
	}
	return strings.Join(questions, " ")
}
