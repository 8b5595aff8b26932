package nlu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBareAmountCompletesPriorSale(t *testing.T) {
	tc := TurnContext{
		Turns: []ContextTurn{
			{Role: "user", Text: "I sold apples to Ravi"},
			{Role: "assistant", Text: "Sale ka amount kitna hai?"},
		},
		ParsedState: map[string]any{
			"intent":        "TXN_SALE",
			KeyCustomerName: "Ravi",
			KeyProductName:  "apples",
		},
	}
	base := NewRuleParser().Parse("50 rupees")
	got := MergeShortUtterance(base, "50 rupees", tc)

	require.Equal(t, IntentSale, got.Intent)
	amt, ok := got.EntityFloat(KeyAmount)
	require.True(t, ok)
	assert.Equal(t, 50.0, amt)
	assert.Equal(t, "Ravi", got.EntityString(KeyCustomerName))
	assert.Equal(t, "apples", got.EntityString(KeyProductName))
	assert.False(t, got.NeedsClarification)
}

func TestBareNameCompletesPriorSale(t *testing.T) {
	tc := TurnContext{
		Turns:       []ContextTurn{{Role: "user", Text: "sold apples for 50 rupees"}},
		ParsedState: map[string]any{},
	}
	base := NewRuleParser().Parse("Ravi")
	got := MergeShortUtterance(base, "Ravi", tc)

	require.Equal(t, IntentSale, got.Intent)
	assert.Equal(t, "Ravi", got.EntityString(KeyCustomerName))
	amt, ok := got.EntityFloat(KeyAmount)
	require.True(t, ok)
	assert.Equal(t, 50.0, amt)
}

func TestNoMergeWithoutPriorTurn(t *testing.T) {
	base := NewRuleParser().Parse("50 rupees")
	got := MergeShortUtterance(base, "50 rupees", TurnContext{})
	assert.Equal(t, base.Intent, got.Intent)
}

func TestNoMergeForFullSentence(t *testing.T) {
	tc := TurnContext{Turns: []ContextTurn{{Role: "user", Text: "I sold apples to Ravi"}}}
	base := NewRuleParser().Parse("how much stock is left")
	got := MergeShortUtterance(base, "how much stock is left", tc)
	assert.Equal(t, IntentInventoryQuery, got.Intent)
}

func TestAmountHelpers(t *testing.T) {
	assert.True(t, IsAmountOnly("50 rupees"))
	assert.True(t, IsAmountOnly("₹50"))
	assert.False(t, IsAmountOnly("sold for 50"))
	assert.True(t, IsNameOnly("Ravi"))
	assert.True(t, IsNameOnly("Ravi Kumar"))
	assert.False(t, IsNameOnly("ravi"))
	assert.False(t, IsNameOnly("Ravi 50"))
}
