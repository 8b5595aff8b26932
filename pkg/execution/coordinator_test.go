package execution

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/resolver"
	"github.com/harunnryd/khata/pkg/storage"
)

func newCoordinator(t *testing.T) (*Coordinator, *sql.DB) {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := NewCoordinator(db, resolver.New(db), nil, nil)
	c.now = func() time.Time {
		return time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	}
	return c, db
}

func seed(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	res, err := db.Exec(query, args...)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestExecuteSaleWritesAllThree(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	custID := seed(t, db, `INSERT INTO customers (business_id, name) VALUES (1, 'Ravi')`)
	prodID := seed(t, db, `INSERT INTO products (business_id, name, unit_price) VALUES (1, 'Apples', 25)`)
	seed(t, db, `INSERT INTO inventory_items (business_id, product_id, quantity_on_hand) VALUES (1, ?, 10)`, prodID)

	pr := nlu.ParseResult{
		Intent: nlu.IntentSale,
		Entities: map[string]any{
			nlu.KeyAmount:      500.0,
			nlu.KeyProductName: "apples",
			nlu.KeyQuantity:    2.0,
		},
		Confidence: 0.95,
	}
	out, err := c.Execute(ctx, 1, pr, &resolver.Customer{ID: custID, Name: "Ravi"})
	require.NoError(t, err)
	require.Contains(t, out.Summary, "Ravi")
	require.Contains(t, out.Summary, "500")

	var qty float64
	require.NoError(t, db.QueryRow(
		`SELECT quantity_on_hand FROM inventory_items WHERE product_id = ?`, prodID).Scan(&qty))
	require.Equal(t, 8.0, qty)

	var total float64
	require.NoError(t, db.QueryRow(
		`SELECT total_sales FROM daily_analytics WHERE business_id = 1 AND day = '2026-08-31'`).Scan(&total))
	require.Equal(t, 500.0, total)

	var txnType string
	require.NoError(t, db.QueryRow(
		`SELECT type FROM transactions WHERE business_id = 1`).Scan(&txnType))
	require.Equal(t, "SALE", txnType)
}

func TestExecuteSaleRollsBackOnFailure(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	custID := seed(t, db, `INSERT INTO customers (business_id, name) VALUES (1, 'Ravi')`)

	// Break the last step of the sale so the earlier writes must unwind.
	_, err := db.Exec(`DROP TABLE daily_analytics`)
	require.NoError(t, err)

	pr := nlu.ParseResult{
		Intent:     nlu.IntentSale,
		Entities:   map[string]any{nlu.KeyAmount: 500.0},
		Confidence: 0.95,
	}
	_, err = c.Execute(ctx, 1, pr, &resolver.Customer{ID: custID, Name: "Ravi"})
	require.Error(t, err)
	require.Equal(t, errorsx.ReasonExecutionFailed, errorsx.Reason(err))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count))
	require.Equal(t, 0, count)
}

func TestExecuteCreditAdjustsBalance(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	custID := seed(t, db, `INSERT INTO customers (business_id, name, balance) VALUES (1, 'Ravi', 100)`)
	cust := &resolver.Customer{ID: custID, Name: "Ravi"}

	given := nlu.ParseResult{
		Intent:     nlu.IntentCreditGiven,
		Entities:   map[string]any{nlu.KeyAmount: 250.0},
		Confidence: 0.95,
	}
	_, err := c.Execute(ctx, 1, given, cust)
	require.NoError(t, err)

	var balance float64
	require.NoError(t, db.QueryRow(`SELECT balance FROM customers WHERE id = ?`, custID).Scan(&balance))
	require.Equal(t, 350.0, balance)

	received := nlu.ParseResult{
		Intent:     nlu.IntentCreditReceived,
		Entities:   map[string]any{nlu.KeyAmount: 300.0},
		Confidence: 0.95,
	}
	_, err = c.Execute(ctx, 1, received, cust)
	require.NoError(t, err)

	require.NoError(t, db.QueryRow(`SELECT balance FROM customers WHERE id = ?`, custID).Scan(&balance))
	require.Equal(t, 50.0, balance)
}

func TestExecuteExpense(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	pr := nlu.ParseResult{
		Intent: nlu.IntentExpense,
		Entities: map[string]any{
			nlu.KeyAmount:      1200.0,
			nlu.KeyExpenseType: "electricity",
		},
		Confidence: 0.95,
	}
	out, err := c.Execute(ctx, 1, pr, nil)
	require.NoError(t, err)
	require.Contains(t, out.Summary, "electricity")

	var total float64
	require.NoError(t, db.QueryRow(
		`SELECT total_expenses FROM daily_analytics WHERE business_id = 1 AND day = '2026-08-31'`).Scan(&total))
	require.Equal(t, 1200.0, total)
}

func TestExecuteInventoryUpdateSetsAbsolute(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	seed(t, db, `INSERT INTO products (business_id, name, unit_price) VALUES (1, 'Sugar', 40)`)

	pr := nlu.ParseResult{
		Intent: nlu.IntentInventoryUpdate,
		Entities: map[string]any{
			nlu.KeyProductName: "sugar",
			nlu.KeyQuantity:    30.0,
		},
		Confidence: 0.95,
	}
	_, err := c.Execute(ctx, 1, pr, nil)
	require.NoError(t, err)

	var qty float64
	require.NoError(t, db.QueryRow(
		`SELECT quantity_on_hand FROM inventory_items WHERE business_id = 1`).Scan(&qty))
	require.Equal(t, 30.0, qty)

	// A second update replaces, never accumulates.
	pr.Entities[nlu.KeyQuantity] = 12.0
	_, err = c.Execute(ctx, 1, pr, nil)
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(
		`SELECT quantity_on_hand FROM inventory_items WHERE business_id = 1`).Scan(&qty))
	require.Equal(t, 12.0, qty)
}

func TestQueryTodaySales(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	seed(t, db, `INSERT INTO transactions (business_id, type, amount, created_at) VALUES (1, 'SALE', 300, '2026-08-31 09:00:00')`)
	seed(t, db, `INSERT INTO transactions (business_id, type, amount, created_at) VALUES (1, 'SALE', 200, '2026-08-31 11:00:00')`)
	seed(t, db, `INSERT INTO transactions (business_id, type, amount, created_at) VALUES (1, 'SALE', 999, '2026-08-30 11:00:00')`)
	seed(t, db, `INSERT INTO transactions (business_id, type, amount, created_at) VALUES (2, 'SALE', 999, '2026-08-31 11:00:00')`)

	out, err := c.Execute(ctx, 1, nlu.ParseResult{Intent: nlu.IntentTodaySales, Confidence: 0.9}, nil)
	require.NoError(t, err)
	require.Equal(t, 500.0, out.Data["total_sales"])
	require.Equal(t, 2, out.Data["transaction_count"])
}

type stubPlanner struct {
	query string
	err   error
}

func (s stubPlanner) PlanQuery(context.Context, int64, string) (string, error) {
	return s.query, s.err
}

func TestFreeformQuestionRunsPlannedQuery(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	seed(t, db, `INSERT INTO transactions (business_id, type, amount) VALUES (1, 'SALE', 300)`)
	seed(t, db, `INSERT INTO transactions (business_id, type, amount) VALUES (1, 'SALE', 200)`)
	seed(t, db, `INSERT INTO transactions (business_id, type, amount) VALUES (2, 'SALE', 999)`)

	c.planner = stubPlanner{
		query: `SELECT SUM(amount) AS total FROM transactions WHERE business_id = 1 AND type = 'SALE'`,
	}
	pr := nlu.ParseResult{
		Intent:     nlu.IntentUnknown,
		Confidence: 0.95,
		SourceText: "is hafte ki sale kitni hui",
	}
	out, err := c.Execute(ctx, 1, pr, nil)
	require.NoError(t, err)
	require.Contains(t, out.Summary, "500")
	require.Equal(t, 1, out.Data["row_count"])
}

func TestFreeformQuestionRejectsMutatingPlan(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	seed(t, db, `INSERT INTO transactions (business_id, type, amount) VALUES (1, 'SALE', 300)`)

	c.planner = stubPlanner{query: `DELETE FROM transactions WHERE business_id = 1`}
	pr := nlu.ParseResult{
		Intent:     nlu.IntentUnknown,
		Confidence: 0.95,
		SourceText: "sab transactions hata do",
	}
	_, err := c.Execute(ctx, 1, pr, nil)
	require.Error(t, err)
	require.Equal(t, errorsx.ReasonUnsafeQuery, errorsx.Reason(err))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestFreeformQuestionRejectsForeignBusinessPlan(t *testing.T) {
	c, _ := newCoordinator(t)

	c.planner = stubPlanner{
		query: `SELECT SUM(amount) AS total FROM transactions WHERE business_id = 2`,
	}
	pr := nlu.ParseResult{
		Intent:     nlu.IntentUnknown,
		Confidence: 0.95,
		SourceText: "doosri dukaan ki sale batao",
	}
	_, err := c.Execute(context.Background(), 1, pr, nil)
	require.Error(t, err)
	require.Equal(t, errorsx.ReasonUnsafeQuery, errorsx.Reason(err))
}

func TestFreeformQuestionWithoutPlanner(t *testing.T) {
	c, _ := newCoordinator(t)

	pr := nlu.ParseResult{
		Intent:     nlu.IntentUnknown,
		Confidence: 0.95,
		SourceText: "kuch bhi",
	}
	_, err := c.Execute(context.Background(), 1, pr, nil)
	require.Error(t, err)
	require.Equal(t, errorsx.ReasonUnsafeQuery, errorsx.Reason(err))
}

func TestQueryCollectionPriority(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	seed(t, db, `INSERT INTO customers (business_id, name, balance) VALUES (1, 'Ravi', 500)`)
	seed(t, db, `INSERT INTO customers (business_id, name, balance) VALUES (1, 'Meena', 2000)`)
	seed(t, db, `INSERT INTO customers (business_id, name, balance) VALUES (1, 'Suresh', 0)`)

	out, err := c.Execute(ctx, 1, nlu.ParseResult{Intent: nlu.IntentCollectionPriority, Confidence: 0.9}, nil)
	require.NoError(t, err)
	require.Contains(t, out.Summary, "Meena")
	require.Contains(t, out.Summary, "2000")
}
