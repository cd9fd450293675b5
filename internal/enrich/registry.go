// Package enrich resolves named pure functions used as dynamic field
// computations and defines the additional-field descriptors the transform
// engine applies per record.
//
// The registry is a closed set: functions register at init time and run
// specs refer to them by name. Resolution happens at configuration load, so
// an unknown name fails the run before any extraction starts.
package enrich

import (
	"sort"
	"sync"

	"github.com/Zaur86/etl-mini/internal/errs"
)

// Func is a pure enrichment function. It receives the resolved argument map
// (input mapping plus static args) and must return a key-value result; the
// transform engine scatters that result through the field's output mapping.
type Func func(args map[string]any) (map[string]any, error)

var (
	mu       sync.RWMutex
	registry = map[string]Func{}
)

// Register adds fn under name. Registering the same name twice panics: the
// set of enrichment functions is fixed at program start and a collision is
// a programming error, not a runtime condition.
func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic("enrich: duplicate registration of " + name)
	}
	registry[name] = fn
}

// Resolve returns the function registered under name. Unknown names are a
// configuration error.
func Resolve(name string) (Func, error) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	if !ok {
		return nil, errs.Config("enrichment function %q is not registered (known: %v)", name, Names())
	}
	return fn, nil
}

// Names lists the registered function names, sorted for stable messages.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
