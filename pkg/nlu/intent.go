package nlu

// Intent is the closed set of actions the agent understands. Anything a
// parser emits outside this set is normalized to IntentUnknown, which routes
// to the constrained read-only query path.
type Intent string

const (
	IntentUnknown Intent = "UNKNOWN"

	// Transactional intents
	IntentSale            Intent = "TXN_SALE"
	IntentPurchase        Intent = "TXN_PURCHASE"
	IntentCreditGiven     Intent = "TXN_CREDIT_GIVEN"
	IntentCreditReceived  Intent = "TXN_CREDIT_RECEIVED"
	IntentExpense         Intent = "TXN_EXPENSE"
	IntentInventoryUpdate Intent = "UPDATE_INVENTORY"
	IntentCustomerCreate  Intent = "CREATE_CUSTOMER"
	IntentProductCreate   Intent = "CREATE_PRODUCT"

	// Query intents (read-only)
	IntentTodaySales         Intent = "ASK_TODAY_SALES"
	IntentCustomerBalance    Intent = "ASK_CUSTOMER_KHATA"
	IntentInventoryQuery     Intent = "ASK_INVENTORY"
	IntentCashflow           Intent = "ASK_CASHFLOW_HEALTH"
	IntentCollectionPriority Intent = "ASK_COLLECTION_PRIORITY"

	// Command intents
	IntentApprove Intent = "COMMAND_APPROVE_ACTION"
	IntentCancel  Intent = "COMMAND_CANCEL"
)

var known = map[Intent]struct{}{
	IntentSale: {}, IntentPurchase: {}, IntentCreditGiven: {},
	IntentCreditReceived: {}, IntentExpense: {}, IntentInventoryUpdate: {},
	IntentCustomerCreate: {}, IntentProductCreate: {},
	IntentTodaySales: {}, IntentCustomerBalance: {}, IntentInventoryQuery: {},
	IntentCashflow: {}, IntentCollectionPriority: {},
	IntentApprove: {}, IntentCancel: {},
}

// Normalize maps a raw parser tag onto the closed set.
func Normalize(raw string) Intent {
	in := Intent(raw)
	if _, ok := known[in]; ok {
		return in
	}
	return IntentUnknown
}

// Mutating reports whether executing the intent writes to the ledger.
func (i Intent) Mutating() bool {
	switch i {
	case IntentSale, IntentPurchase, IntentCreditGiven, IntentCreditReceived,
		IntentExpense, IntentInventoryUpdate, IntentCustomerCreate, IntentProductCreate:
		return true
	}
	return false
}

// Query reports whether the intent is a read-only question.
func (i Intent) Query() bool {
	switch i {
	case IntentTodaySales, IntentCustomerBalance, IntentInventoryQuery,
		IntentCashflow, IntentCollectionPriority:
		return true
	}
	return false
}
