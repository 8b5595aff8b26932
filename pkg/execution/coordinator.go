// Package execution turns a fully resolved parse into database writes. Each
// mutating intent runs inside a single transaction so a multi-step action
// (transaction row, inventory move, daily rollup) lands entirely or not at
// all.
package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/resolver"
)

// Outcome is what the agent says and reports back after an action lands.
type Outcome struct {
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data,omitempty"`
}

// QueryPlanner drafts a read-only SELECT for a question outside the fixed
// intent set. The coordinator gates the draft before it reaches the database.
type QueryPlanner interface {
	PlanQuery(ctx context.Context, businessID int64, question string) (string, error)
}

// Coordinator executes intents against the ledger database.
type Coordinator struct {
	db      *sql.DB
	res     *resolver.Resolver
	planner QueryPlanner
	log     *slog.Logger
	now     func() time.Time
}

func NewCoordinator(db *sql.DB, res *resolver.Resolver, planner QueryPlanner, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{db: db, res: res, planner: planner, log: log, now: time.Now}
}

// Execute dispatches one intent. Mutating intents run transactionally; query
// intents read directly; anything unclassified goes through the planned-query
// path.
func (c *Coordinator) Execute(ctx context.Context, businessID int64, pr nlu.ParseResult, cust *resolver.Customer) (Outcome, error) {
	if pr.Intent == nlu.IntentUnknown {
		return c.answerFreeform(ctx, businessID, pr)
	}
	if pr.Intent.Query() {
		return c.query(ctx, businessID, pr)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	defer tx.Rollback()

	var out Outcome
	switch pr.Intent {
	case nlu.IntentSale:
		out, err = c.recordSale(ctx, tx, businessID, pr, cust)
	case nlu.IntentPurchase:
		out, err = c.recordPurchase(ctx, tx, businessID, pr)
	case nlu.IntentCreditGiven:
		out, err = c.recordCredit(ctx, tx, businessID, pr, cust, "CREDIT_GIVEN", +1)
	case nlu.IntentCreditReceived:
		out, err = c.recordCredit(ctx, tx, businessID, pr, cust, "CREDIT_RECEIVED", -1)
	case nlu.IntentExpense:
		out, err = c.recordExpense(ctx, tx, businessID, pr)
	case nlu.IntentInventoryUpdate:
		out, err = c.setInventory(ctx, tx, businessID, pr)
	case nlu.IntentCustomerCreate:
		out, err = c.createCustomer(ctx, tx, businessID, pr)
	case nlu.IntentProductCreate:
		out, err = c.createProduct(ctx, tx, businessID, pr)
	default:
		err = errorsx.Wrap(fmt.Errorf("no handler for intent %s", pr.Intent), errorsx.ReasonExecutionFailed)
	}
	if err != nil {
		c.log.Warn("execution rolled back", "intent", string(pr.Intent), "err", err)
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return out, nil
}

func (c *Coordinator) recordSale(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult, cust *resolver.Customer) (Outcome, error) {
	amount, _ := pr.EntityFloat(nlu.KeyAmount)
	qty, ok := pr.EntityFloat(nlu.KeyQuantity)
	if !ok || qty <= 0 {
		qty = 1
	}

	var customerID, productID any
	if cust != nil {
		customerID = cust.ID
	}
	if name := pr.EntityString(nlu.KeyProductName); name != "" {
		prod, err := c.res.ResolveProduct(ctx, businessID, name)
		if err != nil {
			return Outcome{}, err
		}
		if prod != nil {
			productID = prod.ID
			if err := adjustInventory(ctx, tx, businessID, prod.ID, -qty); err != nil {
				return Outcome{}, err
			}
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (business_id, customer_id, product_id, type, amount, quantity, note)
		 VALUES (?, ?, ?, 'SALE', ?, ?, ?)`,
		businessID, customerID, productID, amount, qty, pr.EntityString(nlu.KeyNotes))
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	txnID, _ := res.LastInsertId()

	if err := c.bumpDaily(ctx, tx, businessID, "total_sales", amount); err != nil {
		return Outcome{}, err
	}

	summary := fmt.Sprintf("₹%.0f ki sale record ho gayi.", amount)
	if cust != nil {
		summary = fmt.Sprintf("%s ko ₹%.0f ki sale record ho gayi.", cust.Name, amount)
	}
	return Outcome{Summary: summary, Data: map[string]any{"transaction_id": txnID, "amount": amount}}, nil
}

func (c *Coordinator) recordPurchase(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	amount, _ := pr.EntityFloat(nlu.KeyAmount)
	qty, ok := pr.EntityFloat(nlu.KeyQuantity)
	if !ok || qty <= 0 {
		qty = 1
	}

	var productID any
	if name := pr.EntityString(nlu.KeyProductName); name != "" {
		prod, err := c.res.ResolveProduct(ctx, businessID, name)
		if err != nil {
			return Outcome{}, err
		}
		if prod != nil {
			productID = prod.ID
			if err := adjustInventory(ctx, tx, businessID, prod.ID, qty); err != nil {
				return Outcome{}, err
			}
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (business_id, product_id, type, amount, quantity, note)
		 VALUES (?, ?, 'PURCHASE', ?, ?, ?)`,
		businessID, productID, amount, qty, pr.EntityString(nlu.KeyNotes))
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	txnID, _ := res.LastInsertId()

	if err := c.bumpDaily(ctx, tx, businessID, "total_purchases", amount); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Summary: fmt.Sprintf("₹%.0f ki kharidari record ho gayi.", amount),
		Data:    map[string]any{"transaction_id": txnID, "amount": amount},
	}, nil
}

func (c *Coordinator) recordCredit(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult, cust *resolver.Customer, txnType string, sign float64) (Outcome, error) {
	if cust == nil {
		return Outcome{}, errorsx.Wrap(fmt.Errorf("credit entry without a resolved customer"), errorsx.ReasonExecutionFailed)
	}
	amount, _ := pr.EntityFloat(nlu.KeyAmount)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (business_id, customer_id, type, amount, note) VALUES (?, ?, ?, ?, ?)`,
		businessID, cust.ID, txnType, amount, pr.EntityString(nlu.KeyNotes))
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	txnID, _ := res.LastInsertId()

	if _, err := tx.ExecContext(ctx,
		`UPDATE customers SET balance = balance + ? WHERE id = ? AND business_id = ?`,
		sign*amount, cust.ID, businessID); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}

	verb := "udhaar diya"
	if sign < 0 {
		verb = "payment mili"
	}
	return Outcome{
		Summary: fmt.Sprintf("%s ko ₹%.0f %s, khata update ho gaya.", cust.Name, amount, verb),
		Data:    map[string]any{"transaction_id": txnID, "customer_id": cust.ID},
	}, nil
}

func (c *Coordinator) recordExpense(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	amount, _ := pr.EntityFloat(nlu.KeyAmount)
	category := pr.EntityString(nlu.KeyExpenseType)
	if category == "" {
		category = "MISC"
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO expenses (business_id, amount, category, note) VALUES (?, ?, ?, ?)`,
		businessID, amount, category, pr.EntityString(nlu.KeyNotes))
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	expenseID, _ := res.LastInsertId()

	if err := c.bumpDaily(ctx, tx, businessID, "total_expenses", amount); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Summary: fmt.Sprintf("₹%.0f ka %s kharcha likh liya.", amount, category),
		Data:    map[string]any{"expense_id": expenseID},
	}, nil
}

func (c *Coordinator) setInventory(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	name := pr.EntityString(nlu.KeyProductName)
	qty, _ := pr.EntityFloat(nlu.KeyQuantity)

	prod, err := c.res.ResolveProduct(ctx, businessID, name)
	if err != nil {
		return Outcome{}, err
	}
	if prod == nil {
		return Outcome{}, errorsx.Wrap(fmt.Errorf("product %q not found", name), errorsx.ReasonExecutionFailed)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO inventory_items (business_id, product_id, quantity_on_hand)
		 VALUES (?, ?, ?)
		 ON CONFLICT (business_id, product_id)
		 DO UPDATE SET quantity_on_hand = excluded.quantity_on_hand, updated_at = CURRENT_TIMESTAMP`,
		businessID, prod.ID, qty); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return Outcome{
		Summary: fmt.Sprintf("%s ka stock ab %.0f hai.", prod.Name, qty),
		Data:    map[string]any{"product_id": prod.ID, "quantity": qty},
	}, nil
}

func (c *Coordinator) createCustomer(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	name := pr.EntityString(nlu.KeyCustomerName)
	phone := pr.EntityString(nlu.KeyCustomerPhone)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO customers (business_id, name, phone, risk_level) VALUES (?, ?, ?, 'LOW')`,
		businessID, name, phone)
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	id, _ := res.LastInsertId()
	return Outcome{
		Summary: fmt.Sprintf("%s customer add ho gaya.", name),
		Data:    map[string]any{"customer_id": id},
	}, nil
}

func (c *Coordinator) createProduct(ctx context.Context, tx *sql.Tx, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	name := pr.EntityString(nlu.KeyProductName)
	price, _ := pr.EntityFloat(nlu.KeyPrice)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO products (business_id, name, unit_price) VALUES (?, ?, ?)`,
		businessID, name, price)
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	id, _ := res.LastInsertId()
	return Outcome{
		Summary: fmt.Sprintf("%s product add ho gaya, daam ₹%.0f.", name, price),
		Data:    map[string]any{"product_id": id},
	}, nil
}

func adjustInventory(ctx context.Context, tx *sql.Tx, businessID, productID int64, delta float64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO inventory_items (business_id, product_id, quantity_on_hand)
		 VALUES (?, ?, ?)
		 ON CONFLICT (business_id, product_id)
		 DO UPDATE SET quantity_on_hand = quantity_on_hand + excluded.quantity_on_hand, updated_at = CURRENT_TIMESTAMP`,
		businessID, productID, delta)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return nil
}

func (c *Coordinator) bumpDaily(ctx context.Context, tx *sql.Tx, businessID int64, column string, amount float64) error {
	day := c.now().UTC().Format("2006-01-02")
	// column is one of three literals picked by the caller, never user input.
	q := fmt.Sprintf(
		`INSERT INTO daily_analytics (business_id, day, %[1]s) VALUES (?, ?, ?)
		 ON CONFLICT (business_id, day) DO UPDATE SET %[1]s = %[1]s + excluded.%[1]s`, column)
	if _, err := tx.ExecContext(ctx, q, businessID, day, amount); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return nil
}
