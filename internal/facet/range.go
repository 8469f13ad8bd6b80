// Package facet provides numeric range buckets used for faceting.
package facet

import (
	"fmt"
	"math"
	"strconv"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// Number is any numeric type a range can be built over.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Comparison selects how bounds and values are compared.
type Comparison int

const (
	// CompareExact uses the native ordering of the numeric type.
	CompareExact Comparison = iota
	// CompareFloat64 converts both operands to float64 first. Integers above
	// 2^53 lose precision and may compare equal.
	CompareFloat64
)

// String returns the comparison name.
func (c Comparison) String() string {
	switch c {
	case CompareExact:
		return "exact"
	case CompareFloat64:
		return "float64"
	default:
		return "Comparison(" + strconv.Itoa(int(c)) + ")"
	}
}

// ParseComparison parses "exact" or "float64". Empty means exact.
func ParseComparison(s string) (Comparison, error) {
	switch s {
	case "", "exact":
		return CompareExact, nil
	case "float64":
		return CompareFloat64, nil
	default:
		return CompareExact, ierrors.ConfigError("unknown facet comparison "+strconv.Quote(s), nil)
	}
}

// Range is a bucket {min, max} with independently inclusive bounds.
type Range[T Number] struct {
	min, max   T
	includeMin bool
	includeMax bool
	comparison Comparison
}

// Option configures a Range.
type Option func(*options)

type options struct {
	comparison Comparison
}

// WithComparison sets the comparison mode.
func WithComparison(c Comparison) Option {
	return func(o *options) { o.comparison = c }
}

// New creates a range including both bounds.
func New[T Number](min, max T, opts ...Option) Range[T] {
	return NewRange(min, max, true, true, opts...)
}

// NewRange creates a range with explicit bound inclusion.
func NewRange[T Number](min, max T, includeMin, includeMax bool, opts ...Option) Range[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return Range[T]{min: min, max: max, includeMin: includeMin, includeMax: includeMax, comparison: o.comparison}
}

func (r Range[T]) Min() T                 { return r.min }
func (r Range[T]) Max() T                 { return r.max }
func (r Range[T]) IncludeMin() bool       { return r.includeMin }
func (r Range[T]) IncludeMax() bool       { return r.includeMax }
func (r Range[T]) Comparison() Comparison { return r.comparison }

// InRange reports whether v falls inside the range.
func (r Range[T]) InRange(v T) bool {
	minCheck := r.compare(r.min, v)
	if minCheck > 0 || (!r.includeMin && minCheck == 0) {
		return false
	}
	maxCheck := r.compare(v, r.max)
	if maxCheck > 0 || (!r.includeMax && maxCheck == 0) {
		return false
	}
	return true
}

func (r Range[T]) compare(a, b T) int {
	if r.comparison == CompareFloat64 {
		return compareOrdered(float64(a), float64(b))
	}
	return compareOrdered(a, b)
}

// String renders the range as "[0, 10]", "(0, 10)" and so on.
func (r Range[T]) String() string {
	open, closing := "(", ")"
	if r.includeMin {
		open = "["
	}
	if r.includeMax {
		closing = "]"
	}
	return fmt.Sprintf("%s%v, %v%s", open, r.min, r.max, closing)
}

func compareOrdered[T Number](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Count returns, for each range, how many values fall inside it.
func Count[T Number](ranges []Range[T], values []T) []int {
	counts := make([]int, len(ranges))
	for _, v := range values {
		for i, r := range ranges {
			if r.InRange(v) {
				counts[i]++
			}
		}
	}
	return counts
}

// isNaN guards float bounds.
func isNaN(v any) bool {
	switch f := v.(type) {
	case float32:
		return math.IsNaN(float64(f))
	case float64:
		return math.IsNaN(f)
	}
	return false
}
