package resolver

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/khata/pkg/errorsx"
)

// Customer is a resolved customer record.
type Customer struct {
	ID         int64
	Name       string
	Phone      string
	RiskLevel  string
	CreatedNew bool
}

// Risky reports whether the customer carries a high risk flag.
func (c *Customer) Risky() bool { return c != nil && c.RiskLevel == "HIGH" }

// Product is a resolved product record.
type Product struct {
	ID         int64
	Name       string
	UnitPrice  float64
	FuzzyMatch bool
}

// Candidate is one ranked option inside a multiple-matches result.
type Candidate struct {
	ID    int64   `json:"customer_id"`
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Score float64 `json:"similarity_score"`
}

// CustomerResult is the three-way outcome of a customer lookup: exactly one
// record (possibly freshly created), or a ranked ambiguity the user must
// settle.
type CustomerResult struct {
	Customer   *Customer
	Candidates []Candidate
}

func (r CustomerResult) MultipleMatches() bool { return len(r.Candidates) > 0 }

const maxCandidates = 5

// Resolver maps free-text names to canonical business records.
type Resolver struct {
	db *sql.DB
}

func New(db *sql.DB) *Resolver { return &Resolver{db: db} }

// ResolveCustomer resolves by exact phone first, then case-insensitive
// substring name match. One match wins outright; several become a ranked
// candidate list; none triggers auto-creation with default risk attributes.
func (r *Resolver) ResolveCustomer(ctx context.Context, businessID int64, name, phone string) (CustomerResult, error) {
	if phone != "" {
		row := r.db.QueryRowContext(ctx,
			`SELECT id, name, phone, risk_level FROM customers WHERE business_id = ? AND phone = ?`,
			businessID, phone)
		var c Customer
		switch err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.RiskLevel); err {
		case nil:
			return CustomerResult{Customer: &c}, nil
		case sql.ErrNoRows:
		default:
			return CustomerResult{}, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
		}
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, phone, risk_level FROM customers WHERE business_id = ? AND LOWER(name) LIKE ?`,
		businessID, "%"+strings.ToLower(name)+"%")
	if err != nil {
		return CustomerResult{}, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
	}
	defer rows.Close()

	var matches []Customer
	for rows.Next() {
		var c Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.RiskLevel); err != nil {
			return CustomerResult{}, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
		}
		matches = append(matches, c)
	}
	if err := rows.Err(); err != nil {
		return CustomerResult{}, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
	}

	switch len(matches) {
	case 1:
		return CustomerResult{Customer: &matches[0]}, nil
	case 0:
		return r.createCustomer(ctx, businessID, name, phone)
	}

	candidates := make([]Candidate, 0, maxCandidates)
	for _, m := range matches {
		candidates = append(candidates, Candidate{
			ID:    m.ID,
			Name:  m.Name,
			Phone: m.Phone,
			Score: Similarity(name, m.Name),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return CustomerResult{Candidates: candidates}, nil
}

func (r *Resolver) createCustomer(ctx context.Context, businessID int64, name, phone string) (CustomerResult, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO customers (business_id, name, phone, info, risk_level, created_at)
		 VALUES (?, ?, ?, 'Created by voice agent', 'LOW', ?)`,
		businessID, titleCase(name), phone, time.Now().UTC())
	if err != nil {
		return CustomerResult{}, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return CustomerResult{}, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
	}
	return CustomerResult{Customer: &Customer{
		ID:         id,
		Name:       titleCase(name),
		Phone:      phone,
		RiskLevel:  "LOW",
		CreatedNew: true,
	}}, nil
}

// ResolveProduct resolves by exact (case-insensitive) name, then substring.
// Unlike customers, products are never auto-created; a miss returns nil and
// creation stays an explicit action.
func (r *Resolver) ResolveProduct(ctx context.Context, businessID int64, name string) (*Product, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, unit_price FROM products WHERE business_id = ? AND LOWER(name) = ? AND is_active = 1`,
		businessID, strings.ToLower(name))
	var p Product
	switch err := row.Scan(&p.ID, &p.Name, &p.UnitPrice); err {
	case nil:
		return &p, nil
	case sql.ErrNoRows:
	default:
		return nil, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
	}

	row = r.db.QueryRowContext(ctx,
		`SELECT id, name, unit_price FROM products
		 WHERE business_id = ? AND LOWER(name) LIKE ? AND is_active = 1
		 ORDER BY id LIMIT 1`,
		businessID, "%"+strings.ToLower(name)+"%")
	switch err := row.Scan(&p.ID, &p.Name, &p.UnitPrice); err {
	case nil:
		p.FuzzyMatch = true
		return &p, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, errorsx.Wrap(err, errorsx.ReasonResolveFailed)
	}
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
