package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/khata/pkg/errorsx"
)

func TestCheckQuery(t *testing.T) {
	cases := []struct {
		name  string
		query string
		ok    bool
	}{
		{"plain select", "SELECT name FROM customers WHERE business_id = 1", true},
		{"lowercase with no space around eq", "select sum(amount) from transactions where business_id=1", true},
		{"update rejected", "UPDATE customers SET balance = 0 WHERE business_id = 1", false},
		{"delete rejected", "DELETE FROM customers WHERE business_id = 1", false},
		{"drop inside select rejected", "SELECT 1; DROP TABLE customers", false},
		{"stacked statement rejected", "SELECT name FROM customers WHERE business_id = 1; SELECT 2", false},
		{"missing business scope", "SELECT name FROM customers", false},
		{"wrong business scope", "SELECT name FROM customers WHERE business_id = 2", false},
		{"pragma rejected", "SELECT * FROM customers WHERE business_id = 1 AND pragma_table_info('x')", false},
		{"keyword inside identifier allowed", "SELECT created_at, updated_at FROM inventory_items WHERE business_id = 1", true},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckQuery(tc.query, 1)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Equal(t, errorsx.ReasonUnsafeQuery, errorsx.Reason(err))
			}
		})
	}
}

func TestRunDynamicQuery(t *testing.T) {
	c, db := newCoordinator(t)
	ctx := context.Background()

	seed(t, db, `INSERT INTO customers (business_id, name, balance) VALUES (1, 'Ravi', 500)`)
	seed(t, db, `INSERT INTO customers (business_id, name, balance) VALUES (2, 'Other', 999)`)

	rows, err := c.RunDynamicQuery(ctx, 1,
		`SELECT name, balance FROM customers WHERE business_id = 1`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ravi", rows[0]["name"])

	_, err = c.RunDynamicQuery(ctx, 1, `DELETE FROM customers WHERE business_id = 1`)
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM customers`).Scan(&count))
	assert.Equal(t, 2, count)
}
