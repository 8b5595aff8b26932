package validation

import (
	"sort"

	"github.com/harunnryd/khata/pkg/nlu"
)

// ConfidenceThreshold is the floor below which a parse is never acted on
// without asking the user first.
const ConfidenceThreshold = 0.85

// requiredFields maps each intent to the entity keys that must be present
// and non-blank before the action is executable.
var requiredFields = map[nlu.Intent][]string{
	nlu.IntentSale:            {nlu.KeyAmount, nlu.KeyCustomerName},
	nlu.IntentPurchase:        {nlu.KeyAmount, nlu.KeyProductName},
	nlu.IntentCreditGiven:     {nlu.KeyAmount, nlu.KeyCustomerName},
	nlu.IntentCreditReceived:  {nlu.KeyAmount, nlu.KeyCustomerName},
	nlu.IntentExpense:         {nlu.KeyAmount, nlu.KeyExpenseType},
	nlu.IntentInventoryUpdate: {nlu.KeyProductName, nlu.KeyQuantity},
	nlu.IntentCustomerCreate:  {nlu.KeyCustomerName, nlu.KeyCustomerPhone},
	nlu.IntentProductCreate:   {nlu.KeyProductName, nlu.KeyPrice},

	nlu.IntentCustomerBalance: {nlu.KeyCustomerName},

	// remaining query and command intents need nothing
	nlu.IntentTodaySales: {}, nlu.IntentInventoryQuery: {},
	nlu.IntentCashflow: {}, nlu.IntentCollectionPriority: {},
	nlu.IntentApprove: {}, nlu.IntentCancel: {},
}

// Result is the gate's verdict on one parse.
type Result struct {
	nlu.ParseResult
	IsValid bool
}

// Validate computes missing fields and the clarification verdict for a parse
// result. The input is never mutated; the returned Result carries an enriched
// copy.
func Validate(pr nlu.ParseResult) Result {
	out := pr.Clone()

	required := requiredFields[out.Intent]
	missing := make([]string, 0, len(required))
	for _, field := range required {
		if out.EntityString(field) == "" {
			if _, ok := out.EntityFloat(field); !ok {
				missing = append(missing, field)
			}
		}
	}
	sort.Strings(missing)
	out.MissingFields = missing

	needs := len(missing) > 0 ||
		out.Confidence < ConfidenceThreshold ||
		out.NeedsClarification
	out.NeedsClarification = needs

	if needs && out.ClarificationQuestion == "" {
		out.ClarificationQuestion = Question(out.Intent, missing, out.Confidence)
	}

	return Result{
		ParseResult: out,
		IsValid:     !needs && len(missing) == 0,
	}
}
