package ecgstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Predicate matches JSON documents decoded as map[string]interface{}.
//
// Canonical returns a deterministic textual form: commutative nodes sort
// their children, so two predicates built from the same query parameters
// in any order serialize identically. Cache keys hash this form.
type Predicate interface {
	Matches(doc map[string]interface{}) bool
	Canonical() string
}

// True matches every document. BuildFilter returns it when no query
// parameters survive parsing.
func True() Predicate { return truePred{} }

type truePred struct{}

func (truePred) Matches(map[string]interface{}) bool { return true }
func (truePred) Canonical() string                   { return "true" }

// And matches when every child matches. And() with no children is True.
func And(children ...Predicate) Predicate {
	switch len(children) {
	case 0:
		return True()
	case 1:
		return children[0]
	}
	return nary{op: "and", children: children, all: true}
}

// Or matches when at least one child matches
func Or(children ...Predicate) Predicate {
	switch len(children) {
	case 0:
		return True()
	case 1:
		return children[0]
	}
	return nary{op: "or", children: children, all: false}
}

type nary struct {
	op       string
	children []Predicate
	all      bool
}

func (n nary) Matches(doc map[string]interface{}) bool {
	for _, c := range n.children {
		if c.Matches(doc) != n.all {
			return !n.all
		}
	}
	return n.all
}

func (n nary) Canonical() string {
	parts := make([]string, len(n.children))
	for i, c := range n.children {
		parts[i] = c.Canonical()
	}
	sort.Strings(parts)
	return n.op + "(" + strings.Join(parts, ",") + ")"
}

// Eq matches documents whose field equals value
func Eq(field string, value interface{}) Predicate {
	return cmp{op: "eq", field: field, value: value}
}

// Gte matches documents whose field is >= value.
// Values compare numerically or as RFC 3339 timestamps.
func Gte(field string, value interface{}) Predicate {
	return cmp{op: "gte", field: field, value: value}
}

// Lte matches documents whose field is <= value
func Lte(field string, value interface{}) Predicate {
	return cmp{op: "lte", field: field, value: value}
}

type cmp struct {
	op    string
	field string
	value interface{}
}

func (c cmp) Matches(doc map[string]interface{}) bool {
	got, ok := lookupPath(doc, c.field)
	if !ok || got == nil {
		return false
	}

	switch c.op {
	case "eq":
		return looseEqual(got, c.value)
	case "gte", "lte":
		ord, ok := compareOrdered(got, c.value)
		if !ok {
			return false
		}
		if c.op == "gte" {
			return ord >= 0
		}
		return ord <= 0
	}
	return false
}

func (c cmp) Canonical() string {
	return fmt.Sprintf("%s(%s,%s)", c.op, c.field, canonicalValue(c.value))
}

// In matches documents whose field equals any of the given values.
// For array fields it matches when any element is among the values.
func In(field string, values []interface{}) Predicate {
	return setPred{op: "in", field: field, values: values, all: false}
}

// AllOf matches array fields containing every one of the given values
func AllOf(field string, values []interface{}) Predicate {
	return setPred{op: "all", field: field, values: values, all: true}
}

type setPred struct {
	op     string
	field  string
	values []interface{}
	all    bool
}

func (s setPred) Matches(doc map[string]interface{}) bool {
	got, ok := lookupPath(doc, s.field)
	if !ok || got == nil {
		return false
	}

	contains := func(want interface{}) bool {
		if arr, isArr := got.([]interface{}); isArr {
			for _, el := range arr {
				if looseEqual(el, want) {
					return true
				}
			}
			return false
		}
		return looseEqual(got, want)
	}

	for _, want := range s.values {
		if contains(want) != s.all {
			return !s.all
		}
	}
	return s.all
}

func (s setPred) Canonical() string {
	parts := make([]string, len(s.values))
	for i, v := range s.values {
		parts[i] = canonicalValue(v)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s(%s,[%s])", s.op, s.field, strings.Join(parts, ","))
}

// ContainsFold matches string fields containing the needle, case-insensitively.
// This is the free-text search operator.
func ContainsFold(field, needle string) Predicate {
	return containsPred{field: field, needle: strings.ToLower(needle)}
}

type containsPred struct {
	field  string
	needle string
}

func (c containsPred) Matches(doc map[string]interface{}) bool {
	got, ok := lookupPath(doc, c.field)
	if !ok {
		return false
	}
	s, ok := got.(string)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(s), c.needle)
}

func (c containsPred) Canonical() string {
	return fmt.Sprintf("icontains(%s,%s)", c.field, canonicalValue(c.needle))
}

// lookupPath resolves a dot path ("ecgParameters.heartRate") against a
// decoded JSON document. Returns false if any intermediate segment is
// missing or not an object.
func lookupPath(doc map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// looseEqual compares a decoded JSON value against a filter value.
// JSON numbers decode as float64, so numeric comparisons go through
// float conversion; everything else compares as strings or directly.
func looseEqual(got, want interface{}) bool {
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
		return false
	}
	if gs, ok := got.(string); ok {
		if ws, ok := want.(string); ok {
			return gs == ws
		}
	}
	if gb, ok := got.(bool); ok {
		if wb, ok := want.(bool); ok {
			return gb == wb
		}
	}
	return got == want
}

// compareOrdered returns -1/0/1 for got vs want, or ok=false when the
// pair is not comparable. Strings that parse as RFC 3339 timestamps
// compare as instants, so "2024-01-02" style date filters order
// correctly against stored timestamps.
func compareOrdered(got, want interface{}) (int, bool) {
	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(want)
		if !ok {
			return 0, false
		}
		switch {
		case gf < wf:
			return -1, true
		case gf > wf:
			return 1, true
		}
		return 0, true
	}

	gs, gok := got.(string)
	ws, wok := want.(string)
	if !gok || !wok {
		return 0, false
	}

	if gt, err := parseTimestamp(gs); err == nil {
		if wt, err := parseTimestamp(ws); err == nil {
			switch {
			case gt.Before(wt):
				return -1, true
			case gt.After(wt):
				return 1, true
			}
			return 0, true
		}
	}

	return strings.Compare(gs, ws), true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// parseTimestamp accepts the two layouts the service stores and accepts
// in filters. Anything else is rejected rather than guessed at.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func canonicalValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return strconv.Quote(x.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%v", v)
}
