package execution

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/nlu"
)

// mutatingKeywords are rejected anywhere in a generated query, even inside a
// subquery.
var mutatingKeywords = []string{
	"insert", "update", "delete", "drop", "alter", "create",
	"truncate", "replace", "pragma", "attach", "detach", "vacuum",
}

// CheckQuery gates LLM-generated SQL before it ever reaches the database.
// Only a single SELECT scoped to the caller's business passes.
func CheckQuery(query string, businessID int64) error {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return errorsx.Wrap(fmt.Errorf("empty query"), errorsx.ReasonUnsafeQuery)
	}
	if !strings.HasPrefix(q, "select") {
		return errorsx.Wrap(fmt.Errorf("query must start with SELECT"), errorsx.ReasonUnsafeQuery)
	}
	if strings.Contains(q, ";") {
		return errorsx.Wrap(fmt.Errorf("multiple statements not allowed"), errorsx.ReasonUnsafeQuery)
	}
	for _, kw := range mutatingKeywords {
		if containsWord(q, kw) {
			return errorsx.Wrap(fmt.Errorf("forbidden keyword %q", kw), errorsx.ReasonUnsafeQuery)
		}
	}
	// Schema introspection leaks nothing mutating but nothing useful either;
	// pragma_* functions dodge the whole-word check above.
	if strings.Contains(q, "pragma") || strings.Contains(q, "sqlite_") {
		return errorsx.Wrap(fmt.Errorf("schema introspection not allowed"), errorsx.ReasonUnsafeQuery)
	}
	if !strings.Contains(q, "business_id") {
		return errorsx.Wrap(fmt.Errorf("query is not scoped to a business"), errorsx.ReasonUnsafeQuery)
	}
	if !strings.Contains(q, fmt.Sprintf("business_id = %d", businessID)) &&
		!strings.Contains(q, fmt.Sprintf("business_id=%d", businessID)) {
		return errorsx.Wrap(fmt.Errorf("query is scoped to the wrong business"), errorsx.ReasonUnsafeQuery)
	}
	return nil
}

func containsWord(q, word string) bool {
	idx := 0
	for {
		i := strings.Index(q[idx:], word)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(q[i-1])
		after := i+len(word) >= len(q) || !isWordByte(q[i+len(word)])
		if before && after {
			return true
		}
		idx = i + len(word)
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// answerFreeform handles a question that normalized to no fixed intent: the
// planner drafts one SELECT, CheckQuery gates it, and the rows come back
// narrated. Mutation is impossible on this path.
func (c *Coordinator) answerFreeform(ctx context.Context, businessID int64, pr nlu.ParseResult) (Outcome, error) {
	question := strings.TrimSpace(pr.SourceText)
	if c.planner == nil || question == "" {
		return Outcome{}, errorsx.Wrap(fmt.Errorf("no planner for freeform question"), errorsx.ReasonUnsafeQuery)
	}

	query, err := c.planner.PlanQuery(ctx, businessID, question)
	if err != nil {
		return Outcome{}, err
	}
	rows, err := c.RunDynamicQuery(ctx, businessID, query)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Summary: narrateRows(rows),
		Data:    map[string]any{"rows": rows, "row_count": len(rows)},
	}, nil
}

// narrateRows renders query results as speech. A single value is spoken
// directly; anything larger is read off row by row, capped so the agent does
// not recite a table.
func narrateRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return "Iska koi record nahi mila."
	}
	if len(rows) == 1 && len(rows[0]) == 1 {
		for _, v := range rows[0] {
			return fmt.Sprintf("Jawab hai %s.", speakValue(v))
		}
	}

	const maxSpoken = 5
	var b strings.Builder
	b.WriteString("Yeh mila: ")
	for i, row := range rows {
		if i == maxSpoken {
			fmt.Fprintf(&b, "aur %d records.", len(rows)-maxSpoken)
			return b.String()
		}
		if i > 0 {
			b.WriteString("; ")
		}
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for j, col := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s %s", col, speakValue(row[col]))
		}
	}
	b.WriteString(".")
	return b.String()
}

func speakValue(v any) string {
	switch n := v.(type) {
	case nil:
		return "khaali"
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(n, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// RunDynamicQuery executes a checked SELECT and returns generic rows for the
// response layer to narrate. Row count is capped so a runaway query cannot
// flood the agent.
func (c *Coordinator) RunDynamicQuery(ctx context.Context, businessID int64, query string) ([]map[string]any, error) {
	if err := CheckQuery(query, businessID); err != nil {
		c.log.Warn("rejected generated query", "err", err)
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}

	const maxRows = 100
	var out []map[string]any
	for rows.Next() && len(out) < maxRows {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonExecutionFailed)
	}
	return out, nil
}
