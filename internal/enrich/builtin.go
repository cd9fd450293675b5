package enrich

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// timeNow is swapped in tests to pin the clock.
var timeNow = time.Now

// The built-in set. The original system exposed a dictionary key that
// always yielded the current time; here that is an explicit zero-argument
// provider so nothing about a record is ambient.
func init() {
	Register("current_time", currentTime)
	Register("row_hash", rowHash)
}

// currentTime returns the current UTC wall time under the "current_time"
// key, formatted for direct insertion into timestamp columns.
func currentTime(map[string]any) (map[string]any, error) {
	return map[string]any{
		"current_time": timeNow().UTC().Format("2006-01-02 15:04:05"),
	}, nil
}

// rowHash returns a stable 128-bit xxh3 hash of all arguments under the
// "row_hash" key. Arguments are folded in key order so the hash does not
// depend on map iteration.
func rowHash(args map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(0x1f)
		fmt.Fprintf(&b, "%v", args[k])
		b.WriteByte(0x1e)
	}
	sum := xxh3.HashString128(b.String())
	return map[string]any{
		"row_hash": fmt.Sprintf("%016x%016x", sum.Hi, sum.Lo),
	}, nil
}
