package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/Zaur86/etl-mini/internal/errs"
	"github.com/Zaur86/etl-mini/pkg/records"
)

// Constant is one literal column added by SelectEnrich.
type Constant struct {
	Name  string
	Value any
}

// SelectEnrich is a record-level reshaping step: it adds constant columns,
// optionally projects to a fixed column set, and optionally deduplicates by
// key columns after ordering. It runs ahead of TSV rendering as part of a
// Chain, on flat records.
type SelectEnrich struct {
	Constants []Constant
	// Columns, when set, projects each record to exactly these keys.
	Columns []string
	// RequireAllColumns upgrades a missing projected column from a logged
	// warning to a hard error.
	RequireAllColumns bool
	// DedupBy keeps the first record per distinct key-column tuple.
	// OrderBy sorts (stable, ascending, textual) before deduplication so
	// "first" is well defined.
	DedupBy []string
	OrderBy []string

	Log zerolog.Logger
}

// Apply implements RecordTransform.
func (s *SelectEnrich) Apply(in records.Batch) (records.Batch, error) {
	out := in

	if len(s.Constants) > 0 {
		for _, row := range out {
			for _, c := range s.Constants {
				row[c.Name] = c.Value
			}
		}
	}

	if len(s.DedupBy) > 0 {
		if len(s.OrderBy) > 0 {
			out = append(records.Batch(nil), out...)
			sort.SliceStable(out, func(i, j int) bool {
				return s.orderKey(out[i]) < s.orderKey(out[j])
			})
		}
		seen := make(map[uint64]bool, len(out))
		kept := make(records.Batch, 0, len(out))
		for _, row := range out {
			h := s.dedupHash(row)
			if seen[h] {
				continue
			}
			seen[h] = true
			kept = append(kept, row)
		}
		if dropped := len(out) - len(kept); dropped > 0 {
			s.Log.Debug().Int("dropped", dropped).Strs("dedup_by", s.DedupBy).
				Msg("duplicates removed")
		}
		out = kept
	}

	if len(s.Columns) > 0 {
		projected := make(records.Batch, 0, len(out))
		for _, row := range out {
			p := make(records.Record, len(s.Columns))
			for _, col := range s.Columns {
				v, ok := row[col]
				if !ok {
					if s.RequireAllColumns {
						return nil, errs.MissingField(col, row)
					}
					continue
				}
				p[col] = v
			}
			projected = append(projected, p)
		}
		out = projected
	}

	return out, nil
}

// orderKey builds a textual sort key from the order-by columns.
func (s *SelectEnrich) orderKey(row records.Record) string {
	parts := make([]string, len(s.OrderBy))
	for i, col := range s.OrderBy {
		parts[i] = records.CanonicalString(row[col])
	}
	return strings.Join(parts, "\x1f")
}

// dedupHash folds the dedup key columns into one xxh3 hash. Columns are
// folded in declaration order with separators, so ("a","bc") and ("ab","c")
// stay distinct.
func (s *SelectEnrich) dedupHash(row records.Record) uint64 {
	var b strings.Builder
	for _, col := range s.DedupBy {
		fmt.Fprintf(&b, "%s\x1f", records.CanonicalString(row[col]))
	}
	return xxh3.HashString(b.String())
}
