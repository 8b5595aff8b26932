package resolver

import "strings"

// Similarity scores how close a spoken name is to a stored one. Exact match
// scores 1.0, substring containment 0.8, otherwise the Jaccard overlap of the
// two character sets. Good enough to rank a handful of candidates; not a
// general string metric.
func Similarity(query, target string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(strings.TrimSpace(target))
	if q == "" || t == "" {
		return 0
	}
	if q == t {
		return 1.0
	}
	if strings.Contains(t, q) || strings.Contains(q, t) {
		return 0.8
	}

	qs := charSet(q)
	ts := charSet(t)
	var inter, union int
	for r := range qs {
		if ts[r] {
			inter++
		}
		union++
	}
	for r := range ts {
		if !qs[r] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool, len(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}
