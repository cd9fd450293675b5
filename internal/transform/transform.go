// Package transform converts batches of nested records into the flat
// tabular wire format consumed by the staged loader.
package transform

import "github.com/Zaur86/etl-mini/pkg/records"

// RecordTransform reshapes a batch of records before rendering.
type RecordTransform interface {
	Apply(in records.Batch) (records.Batch, error)
}

// Chain is an ordered list of record transforms.
type Chain []RecordTransform

// Apply runs each transform in order, stopping at the first error.
func (c Chain) Apply(in records.Batch) (records.Batch, error) {
	out := in
	for _, t := range c {
		if t == nil {
			continue
		}
		var err error
		out, err = t.Apply(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
