package transfer

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// Summary counts transferred items per resource kind. Counts only grow.
// It is owned by the coordinating goroutine and is not safe for concurrent
// use.
type Summary struct {
	title  string
	column string
	counts map[string]int
	bytes  int64
	failed int
}

// NewSummary creates a summary rendered under title, with column heading
// the count column.
func NewSummary(title, column string) *Summary {
	return &Summary{title: title, column: column, counts: make(map[string]int)}
}

// Add increments resource by n. Negative n is ignored.
func (s *Summary) Add(resource string, n int) {
	if n > 0 {
		s.counts[resource] += n
	}
}

// AddBytes records bytes placed on disk or uploaded.
func (s *Summary) AddBytes(n int64) {
	if n > 0 {
		s.bytes += n
	}
}

// Apply folds drained task outcomes into the summary.
func (s *Summary) Apply(outcomes []Outcome) {
	for _, o := range outcomes {
		if o.Err != nil {
			s.failed++
			continue
		}
		s.Add(o.Resource, o.Count)
		s.AddBytes(o.Bytes)
	}
}

// Fail records a resource that could not be transferred.
func (s *Summary) Fail() {
	s.failed++
}

// Count returns the count for resource.
func (s *Summary) Count(resource string) int {
	return s.counts[resource]
}

// Failed returns the number of failed resources.
func (s *Summary) Failed() int {
	return s.failed
}

// Total is the sum of all counts.
func (s *Summary) Total() int {
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Empty reports whether nothing was counted.
func (s *Summary) Empty() bool {
	return s.Total() == 0
}

// Render writes the summary table. Only non-zero rows are shown.
func (s *Summary) Render(w io.Writer) {
	rule := strings.Repeat("=", 33)
	dashes := fmt.Sprintf("%-17s: %14s\n", strings.Repeat("-", 17), strings.Repeat("-", 14))

	keys := make([]string, 0, len(s.counts))
	for k, n := range s.counts {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, s.title)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-17s: %14s\n", "Resource", s.column)
	fmt.Fprint(w, dashes)
	for _, k := range keys {
		fmt.Fprintf(w, "%-17s: %14d\n", k, s.counts[k])
	}
	fmt.Fprint(w, dashes)
	fmt.Fprintf(w, "%-17s: %14d\n", "Total", s.Total())
	if s.bytes > 0 {
		fmt.Fprintf(w, "%-17s: %14s\n", "Bytes", humanize.Bytes(uint64(s.bytes)))
	}
	if s.failed > 0 {
		fmt.Fprintf(w, "%-17s: %14d\n", "Failed", s.failed)
	}
	fmt.Fprintln(w, rule)
}
