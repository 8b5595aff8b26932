package execution

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/nlu"
)

func (c *Coordinator) query(ctx context.Context, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	switch pr.Intent {
	case nlu.IntentTodaySales:
		return c.todaySales(ctx, businessID)
	case nlu.IntentCustomerBalance:
		return c.customerBalance(ctx, businessID, pr.EntityString(nlu.KeyCustomerName))
	case nlu.IntentInventoryQuery:
		return c.inventory(ctx, businessID, pr.EntityString(nlu.KeyProductName))
	case nlu.IntentCashflow:
		return c.cashflow(ctx, businessID)
	case nlu.IntentCollectionPriority:
		return c.collectionPriority(ctx, businessID)
	default:
		return Outcome{}, errorsx.Wrap(fmt.Errorf("no query handler for intent %s", pr.Intent), errorsx.ReasonExecutionFailed)
	}
}

func (c *Coordinator) todaySales(ctx context.Context, businessID int64) (Outcome, error) {
	day := c.now().UTC().Format("2006-01-02")
	var total float64
	var count int
	err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM transactions
		 WHERE business_id = ? AND type = 'SALE' AND DATE(created_at) = ?`,
		businessID, day).Scan(&total, &count)
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return Outcome{
		Summary: fmt.Sprintf("Aaj ki total sale ₹%.0f hai, %d transactions.", total, count),
		Data:    map[string]any{"total_sales": total, "transaction_count": count},
	}, nil
}

func (c *Coordinator) customerBalance(ctx context.Context, businessID int64, name string) (Outcome, error) {
	result, err := c.res.ResolveCustomer(ctx, businessID, name, "")
	if err != nil {
		return Outcome{}, err
	}
	if result.MultipleMatches() {
		return Outcome{
			Summary: fmt.Sprintf("%s naam ke kai customer hain, poora naam bataiye.", name),
			Data:    map[string]any{"candidates": result.Candidates},
		}, nil
	}
	cust := result.Customer
	if cust.CreatedNew {
		// Balance lookups should not invent customers; undo the side effect.
		if _, err := c.db.ExecContext(ctx,
			`DELETE FROM customers WHERE id = ? AND business_id = ?`, cust.ID, businessID); err != nil {
			return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
		}
		return Outcome{
			Summary: fmt.Sprintf("%s naam ka koi customer nahi mila.", name),
		}, nil
	}

	var balance float64
	if err := c.db.QueryRowContext(ctx,
		`SELECT balance FROM customers WHERE id = ?`, cust.ID).Scan(&balance); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return Outcome{
		Summary: fmt.Sprintf("%s ka khata balance ₹%.0f hai.", cust.Name, balance),
		Data:    map[string]any{"customer_id": cust.ID, "balance": balance},
	}, nil
}

func (c *Coordinator) inventory(ctx context.Context, businessID int64, productName string) (Outcome, error) {
	if productName != "" {
		prod, err := c.res.ResolveProduct(ctx, businessID, productName)
		if err != nil {
			return Outcome{}, err
		}
		if prod == nil {
			return Outcome{Summary: fmt.Sprintf("%s naam ka product nahi mila.", productName)}, nil
		}
		var qty float64
		err = c.db.QueryRowContext(ctx,
			`SELECT COALESCE(quantity_on_hand, 0) FROM inventory_items WHERE business_id = ? AND product_id = ?`,
			businessID, prod.ID).Scan(&qty)
		if err == sql.ErrNoRows {
			qty = 0
		} else if err != nil {
			return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
		}
		return Outcome{
			Summary: fmt.Sprintf("%s ka stock %.0f hai.", prod.Name, qty),
			Data:    map[string]any{"product_id": prod.ID, "quantity": qty},
		}, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT p.name, COALESCE(i.quantity_on_hand, 0)
		 FROM products p
		 LEFT JOIN inventory_items i ON i.product_id = p.id AND i.business_id = p.business_id
		 WHERE p.business_id = ? AND p.is_active = 1
		   AND p.low_stock_threshold IS NOT NULL
		   AND COALESCE(i.quantity_on_hand, 0) <= p.low_stock_threshold
		 ORDER BY p.name`, businessID)
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	defer rows.Close()

	type item struct {
		Name     string  `json:"name"`
		Quantity float64 `json:"quantity"`
	}
	var low []item
	for rows.Next() {
		var it item
		if err := rows.Scan(&it.Name, &it.Quantity); err != nil {
			return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
		}
		low = append(low, it)
	}
	if err := rows.Err(); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	if len(low) == 0 {
		return Outcome{Summary: "Sab products ka stock theek hai."}, nil
	}
	names := make([]string, len(low))
	for i, it := range low {
		names[i] = it.Name
	}
	return Outcome{
		Summary: fmt.Sprintf("Kam stock: %s.", strings.Join(names, ", ")),
		Data:    map[string]any{"low_stock": low},
	}, nil
}

func (c *Coordinator) cashflow(ctx context.Context, businessID int64) (Outcome, error) {
	day := c.now().UTC().Format("2006-01-02")
	var sales, purchases, expenses float64
	err := c.db.QueryRowContext(ctx,
		`SELECT COALESCE(total_sales, 0), COALESCE(total_purchases, 0), COALESCE(total_expenses, 0)
		 FROM daily_analytics WHERE business_id = ? AND day = ?`, businessID, day).
		Scan(&sales, &purchases, &expenses)
	if err != nil && err != sql.ErrNoRows {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	net := sales - purchases - expenses
	return Outcome{
		Summary: fmt.Sprintf("Aaj ka cashflow: sale ₹%.0f, kharidari ₹%.0f, kharcha ₹%.0f, net ₹%.0f.", sales, purchases, expenses, net),
		Data: map[string]any{
			"sales": sales, "purchases": purchases, "expenses": expenses, "net": net,
		},
	}, nil
}

func (c *Coordinator) collectionPriority(ctx context.Context, businessID int64) (Outcome, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, balance FROM customers
		 WHERE business_id = ? AND balance > 0
		 ORDER BY balance DESC LIMIT 5`, businessID)
	if err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	defer rows.Close()

	type debtor struct {
		ID      int64   `json:"customer_id"`
		Name    string  `json:"name"`
		Balance float64 `json:"balance"`
	}
	var debtors []debtor
	for rows.Next() {
		var d debtor
		if err := rows.Scan(&d.ID, &d.Name, &d.Balance); err != nil {
			return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
		}
		debtors = append(debtors, d)
	}
	if err := rows.Err(); err != nil {
		return Outcome{}, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	if len(debtors) == 0 {
		return Outcome{Summary: "Kisi ka udhaar baaki nahi hai."}, nil
	}
	top := debtors[0]
	return Outcome{
		Summary: fmt.Sprintf("Sabse zyada udhaar %s ka hai, ₹%.0f. Pehle unse vasooli karein.", top.Name, top.Balance),
		Data:    map[string]any{"debtors": debtors},
	}, nil
}
