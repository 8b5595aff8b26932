// Package decision routes a validated parse to its execution path. The rules
// are ordered and the first one that fires wins, so a missing field always
// beats a high-value confirmation and a high-value confirmation always beats
// auto-execution regardless of parse confidence.
package decision

import (
	"fmt"

	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/resolver"
	"github.com/harunnryd/khata/pkg/validation"
)

// Action is the routing outcome for one turn.
type Action string

const (
	ActionAutoExecute Action = "AUTO_EXECUTE"
	ActionConfirm     Action = "CONFIRM"
	ActionClarify     Action = "CLARIFY"
)

// Reason codes carried alongside CONFIRM so the response layer can phrase
// the question.
const (
	ReasonHighValue        = "high_value_transaction"
	ReasonMultipleMatches  = "multiple_customer_matches"
	ReasonNewCustomer      = "new_customer"
	ReasonRiskyCustomer    = "risky_customer"
	ReasonMissingFields    = "missing_fields"
	ReasonLowConfidence    = "low_confidence"
)

// DefaultAutoExecuteLimit is the rupee ceiling above which a mutating
// transaction always requires spoken confirmation.
const DefaultAutoExecuteLimit = 10000.0

// Input carries everything the gate needs for one turn.
type Input struct {
	Validation validation.Result
	Customer   resolver.CustomerResult
	RiskFlag   bool
}

// Result is the gate's verdict.
type Result struct {
	Action     Action
	Reason     string
	Question   string
	Candidates []resolver.Candidate
}

// Gate applies the decision rules in a fixed order.
type Gate struct {
	autoExecuteLimit float64
}

func NewGate(limit float64) *Gate {
	if limit <= 0 {
		limit = DefaultAutoExecuteLimit
	}
	return &Gate{autoExecuteLimit: limit}
}

// Decide routes one validated turn. Query intents never require confirmation;
// mutating intents walk the rule ladder.
func (g *Gate) Decide(in Input) Result {
	pr := in.Validation.ParseResult

	if in.Validation.NeedsClarification {
		reason := ReasonMissingFields
		if len(in.Validation.MissingFields) == 0 {
			reason = ReasonLowConfidence
		}
		return Result{
			Action:   ActionClarify,
			Reason:   reason,
			Question: in.Validation.ClarificationQuestion,
		}
	}

	if !pr.Intent.Mutating() {
		return Result{Action: ActionAutoExecute}
	}

	if in.Customer.MultipleMatches() {
		return Result{
			Action:     ActionConfirm,
			Reason:     ReasonMultipleMatches,
			Question:   candidateQuestion(in.Customer.Candidates),
			Candidates: in.Customer.Candidates,
		}
	}

	if amount, ok := pr.EntityFloat(nlu.KeyAmount); ok && amount > g.autoExecuteLimit {
		return Result{
			Action:   ActionConfirm,
			Reason:   ReasonHighValue,
			Question: fmt.Sprintf("₹%.0f ka transaction hai. Confirm karein?", amount),
		}
	}

	if in.Customer.Customer != nil && in.Customer.Customer.CreatedNew {
		return Result{
			Action:   ActionConfirm,
			Reason:   ReasonNewCustomer,
			Question: fmt.Sprintf("%s naya customer hai. Create karke aage badhein?", in.Customer.Customer.Name),
		}
	}

	if in.RiskFlag {
		return Result{
			Action:   ActionConfirm,
			Reason:   ReasonRiskyCustomer,
			Question: "Is customer ka udhaar pehle se zyada hai. Phir bhi aage badhein?",
		}
	}

	return Result{Action: ActionAutoExecute}
}

func candidateQuestion(cands []resolver.Candidate) string {
	if len(cands) == 0 {
		return "Kaunsa customer? Naam dobara bataiye."
	}
	names := ""
	for i, c := range cands {
		if i > 0 {
			names += ", "
		}
		names += c.Name
	}
	return fmt.Sprintf("Ek se zyada customer mile: %s. Kaunsa wala?", names)
}
