package nlu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/resilience"
)

const plannerPrompt = `You are the query planner for a voice bookkeeping assistant.
The user asked a question that does not match any fixed report. Write ONE SQLite SELECT
statement that answers it and output ONLY a JSON object {"sql": "..."}.

Schema:
  transactions(id, business_id, customer_id, product_id, type, amount, quantity, note, created_at)
    type is one of SALE, PURCHASE, CREDIT_GIVEN, CREDIT_RECEIVED
  customers(id, business_id, name, phone, balance, risk_level, created_at)
  products(id, business_id, name, unit_price, created_at)
  inventory_items(business_id, product_id, quantity_on_hand, updated_at)
  expenses(id, business_id, amount, category, note, created_at)
  daily_analytics(business_id, day, total_sales, total_purchases, total_expenses)

Rules: a single read-only SELECT, no semicolons, and every table you touch must be
filtered with business_id = %d. If the question cannot be answered from this schema,
output {"sql": ""}.`

// QueryPlanner drafts a read-only SELECT for questions outside the fixed
// intent set. The draft is advisory; execution gates it again before running.
type QueryPlanner struct {
	llm   LLMClient
	retry resilience.RetryPolicy
	log   *slog.Logger
}

func NewQueryPlanner(llm LLMClient, log *slog.Logger) *QueryPlanner {
	if log == nil {
		log = slog.Default()
	}
	return &QueryPlanner{
		llm:   llm,
		retry: resilience.NewRetryPolicy(2, 300*time.Millisecond),
		log:   log,
	}
}

// PlanQuery turns one freeform question into SQL text. An empty or missing
// draft means the model could not answer from the schema.
func (p *QueryPlanner) PlanQuery(ctx context.Context, businessID int64, question string) (string, error) {
	if p.llm == nil {
		return "", errorsx.Wrap(fmt.Errorf("no llm configured for query planning"), errorsx.ReasonLLMGenerate)
	}

	var raw map[string]any
	err := p.retry.Do(ctx, func() error {
		var callErr error
		raw, callErr = p.llm.ParseJSON(ctx, fmt.Sprintf(plannerPrompt, businessID), question, 300)
		return callErr
	})
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", errorsx.Wrap(fmt.Errorf("planner returned no output"), errorsx.ReasonLLMGenerate)
	}

	query, _ := raw["sql"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errorsx.Wrap(fmt.Errorf("question not answerable from schema"), errorsx.ReasonUnsafeQuery)
	}
	p.log.Debug("query_planned", "business_id", businessID, "sql_len", len(query))
	return query, nil
}
