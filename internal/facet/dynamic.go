package facet

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// Dynamic is a range whose bound type is only known at runtime, e.g. when
// read from configuration. Every operation checks that operands share the
// bound type.
type Dynamic struct {
	min, max   any
	includeMin bool
	includeMax bool
	comparison Comparison
	in         func(v any) bool
	str        string
}

// NewDynamic creates a range over boxed bounds. Bounds of different or
// non-numeric types yield a ConfigurationInconsistency.
func NewDynamic(min, max any, includeMin, includeMax bool, opts ...Option) (*Dynamic, error) {
	if fmt.Sprintf("%T", min) != fmt.Sprintf("%T", max) {
		return nil, mismatch("bounds", min, max)
	}
	if isNaN(min) || isNaN(max) {
		return nil, ierrors.ConfigurationInconsistency("facet range bound is NaN")
	}
	d := &Dynamic{min: min, max: max, includeMin: includeMin, includeMax: includeMax}
	switch lo := min.(type) {
	case int:
		bind(d, NewRange(lo, max.(int), includeMin, includeMax, opts...))
	case int8:
		bind(d, NewRange(lo, max.(int8), includeMin, includeMax, opts...))
	case int16:
		bind(d, NewRange(lo, max.(int16), includeMin, includeMax, opts...))
	case int32:
		bind(d, NewRange(lo, max.(int32), includeMin, includeMax, opts...))
	case int64:
		bind(d, NewRange(lo, max.(int64), includeMin, includeMax, opts...))
	case uint:
		bind(d, NewRange(lo, max.(uint), includeMin, includeMax, opts...))
	case uint8:
		bind(d, NewRange(lo, max.(uint8), includeMin, includeMax, opts...))
	case uint16:
		bind(d, NewRange(lo, max.(uint16), includeMin, includeMax, opts...))
	case uint32:
		bind(d, NewRange(lo, max.(uint32), includeMin, includeMax, opts...))
	case uint64:
		bind(d, NewRange(lo, max.(uint64), includeMin, includeMax, opts...))
	case float32:
		bind(d, NewRange(lo, max.(float32), includeMin, includeMax, opts...))
	case float64:
		bind(d, NewRange(lo, max.(float64), includeMin, includeMax, opts...))
	default:
		return nil, ierrors.ConfigurationInconsistency(fmt.Sprintf("facet range bound of non-numeric type %T", min))
	}
	return d, nil
}

func bind[T Number](d *Dynamic, r Range[T]) {
	d.comparison = r.Comparison()
	d.str = r.String()
	d.in = func(v any) bool { return r.InRange(v.(T)) }
}

// InRange reports whether v falls inside the range. A value of another type
// than the bounds yields a ConfigurationInconsistency.
func (d *Dynamic) InRange(v any) (bool, error) {
	if fmt.Sprintf("%T", v) != fmt.Sprintf("%T", d.min) {
		return false, mismatch("value", d.min, v)
	}
	return d.in(v), nil
}

// Parse converts s to the bound type of the range.
func (d *Dynamic) Parse(s string) (any, error) {
	v := reflect.New(reflect.TypeOf(d.min)).Elem()
	s = strings.TrimSpace(s)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return nil, err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return nil, err
		}
		v.SetUint(n)
	default:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return nil, err
		}
		v.SetFloat(f)
	}
	return v.Interface(), nil
}

// ParseDynamic parses "lo..hi" (both bounds included) or "lo..<hi" (upper
// bound excluded). Bounds written with a decimal point or exponent are
// float64, all others int64.
func ParseDynamic(spec string, opts ...Option) (*Dynamic, error) {
	lo, hi, ok := strings.Cut(spec, "..")
	if !ok {
		return nil, ierrors.ValidationError("facet range "+strconv.Quote(spec)+" is not lo..hi", nil)
	}
	includeMax := true
	if rest, found := strings.CutPrefix(hi, "<"); found {
		hi, includeMax = rest, false
	}
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if strings.ContainsAny(lo+hi, ".eE") {
		min, err := strconv.ParseFloat(lo, 64)
		if err != nil {
			return nil, ierrors.ValidationError("facet range "+strconv.Quote(spec)+" has a bad lower bound", err)
		}
		max, err := strconv.ParseFloat(hi, 64)
		if err != nil {
			return nil, ierrors.ValidationError("facet range "+strconv.Quote(spec)+" has a bad upper bound", err)
		}
		return NewDynamic(min, max, true, includeMax, opts...)
	}
	min, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return nil, ierrors.ValidationError("facet range "+strconv.Quote(spec)+" has a bad lower bound", err)
	}
	max, err := strconv.ParseInt(hi, 10, 64)
	if err != nil {
		return nil, ierrors.ValidationError("facet range "+strconv.Quote(spec)+" has a bad upper bound", err)
	}
	return NewDynamic(min, max, true, includeMax, opts...)
}

func (d *Dynamic) Min() any               { return d.min }
func (d *Dynamic) Max() any               { return d.max }
func (d *Dynamic) IncludeMin() bool       { return d.includeMin }
func (d *Dynamic) IncludeMax() bool       { return d.includeMax }
func (d *Dynamic) Comparison() Comparison { return d.comparison }
func (d *Dynamic) String() string         { return d.str }

func mismatch(what string, a, b any) error {
	return ierrors.ConfigurationInconsistency(
		fmt.Sprintf("facet range %s have mismatched numeric types %T and %T", what, a, b)).
		WithDetail("left_type", fmt.Sprintf("%T", a)).
		WithDetail("right_type", fmt.Sprintf("%T", b))
}
