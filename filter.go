package ecgstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RangeKind selects how a range parameter pair is interpreted
type RangeKind int

const (
	// RangeNumber compares the field numerically
	RangeNumber RangeKind = iota
	// RangeDate parses the parameters as dates and compares timestamps
	RangeDate
	// RangeAge converts min/max ages in years into a date-of-birth window
	RangeAge
)

// RangeDef declares one min/max query parameter pair over a document field
type RangeDef struct {
	MinParam string
	MaxParam string
	Field    string
	Kind     RangeKind
}

// FilterDef declares how raw query parameters map onto predicates for one
// entity type. The zero value accepts no parameters and builds True().
type FilterDef struct {
	// SearchFields are matched case-insensitively against the "search"
	// parameter; a document matches when any field contains the term.
	SearchFields []string

	// SearchDateField, when set, adds a same-day window to the search
	// disjunction if the term parses as a date.
	SearchDateField string

	// Equality maps a query parameter to the document field it must equal
	Equality map[string]string

	// Ranges are the min/max parameter pairs
	Ranges []RangeDef

	// CategoriesParam/CategoriesField enable category filtering over an
	// array field. MatchTypeParam selects "any" (default) or "all".
	CategoriesParam string
	CategoriesField string
	MatchTypeParam  string
}

// BuildFilter turns raw query parameters into a Predicate according to
// def. Unknown parameters are ignored; malformed values for known
// parameters return ErrInvalidArgument.
//
// Equivalent parameter sets produce predicates with identical canonical
// forms regardless of map iteration order, so they share cache entries.
func BuildFilter(raw map[string]string, def FilterDef) (Predicate, error) {
	var conj []Predicate

	if term := strings.TrimSpace(raw["search"]); term != "" {
		var disj []Predicate
		for _, f := range def.SearchFields {
			disj = append(disj, ContainsFold(f, term))
		}
		if def.SearchDateField != "" {
			if day, err := time.Parse("2006-01-02", term); err == nil {
				end := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
				disj = append(disj, And(
					Gte(def.SearchDateField, day.Format(time.RFC3339)),
					Lte(def.SearchDateField, end.Format(time.RFC3339Nano)),
				))
			}
		}
		if len(disj) > 0 {
			conj = append(conj, Or(disj...))
		}
	}

	for param, field := range def.Equality {
		if v, ok := nonEmpty(raw, param); ok {
			conj = append(conj, Eq(field, coerceScalar(v)))
		}
	}

	for _, r := range def.Ranges {
		preds, err := buildRange(raw, r)
		if err != nil {
			return nil, err
		}
		conj = append(conj, preds...)
	}

	if def.CategoriesParam != "" {
		if v, ok := nonEmpty(raw, def.CategoriesParam); ok {
			values := splitList(v)
			if len(values) > 0 {
				matchAll := false
				if def.MatchTypeParam != "" {
					switch strings.ToLower(raw[def.MatchTypeParam]) {
					case "", "any":
					case "all":
						matchAll = true
					default:
						return nil, WithContext(ErrInvalidArgument, map[string]interface{}{
							"param":  def.MatchTypeParam,
							"value":  raw[def.MatchTypeParam],
							"reason": "must be 'any' or 'all'",
						})
					}
				}
				if matchAll {
					conj = append(conj, AllOf(def.CategoriesField, values))
				} else {
					conj = append(conj, In(def.CategoriesField, values))
				}
			}
		}
	}

	return And(conj...), nil
}

func buildRange(raw map[string]string, r RangeDef) ([]Predicate, error) {
	var preds []Predicate

	minVal, hasMin := nonEmpty(raw, r.MinParam)
	maxVal, hasMax := nonEmpty(raw, r.MaxParam)
	if !hasMin && !hasMax {
		return nil, nil
	}

	switch r.Kind {
	case RangeNumber:
		if hasMin {
			f, err := parseNumberParam(r.MinParam, minVal)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Gte(r.Field, f))
		}
		if hasMax {
			f, err := parseNumberParam(r.MaxParam, maxVal)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Lte(r.Field, f))
		}

	case RangeDate:
		if hasMin {
			t, err := parseDateParam(r.MinParam, minVal)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Gte(r.Field, t.Format(time.RFC3339)))
		}
		if hasMax {
			t, err := parseDateParam(r.MaxParam, maxVal)
			if err != nil {
				return nil, err
			}
			// A bare date upper bound means "through the end of that day"
			if len(maxVal) == len("2006-01-02") {
				t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
			}
			preds = append(preds, Lte(r.Field, t.Format(time.RFC3339Nano)))
		}

	case RangeAge:
		// Older people have earlier birth dates, so min age bounds the
		// field from above and max age from below.
		now := time.Now().UTC()
		if hasMin {
			years, err := parseIntParam(r.MinParam, minVal)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Lte(r.Field, now.AddDate(-years, 0, 0).Format(time.RFC3339)))
		}
		if hasMax {
			years, err := parseIntParam(r.MaxParam, maxVal)
			if err != nil {
				return nil, err
			}
			preds = append(preds, Gte(r.Field, now.AddDate(-years-1, 0, 0).Format(time.RFC3339)))
		}

	default:
		return nil, fmt.Errorf("%w: unknown range kind %d", ErrInvalidArgument, r.Kind)
	}

	return preds, nil
}

func nonEmpty(raw map[string]string, param string) (string, bool) {
	if param == "" {
		return "", false
	}
	v := strings.TrimSpace(raw[param])
	return v, v != ""
}

func parseNumberParam(param, v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, WithContext(ErrInvalidArgument, map[string]interface{}{
			"param":  param,
			"value":  v,
			"reason": "not a number",
		})
	}
	return f, nil
}

func parseIntParam(param, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, WithContext(ErrInvalidArgument, map[string]interface{}{
			"param":  param,
			"value":  v,
			"reason": "not a non-negative integer",
		})
	}
	return n, nil
}

// parseDateParam accepts "2006-01-02" or full RFC 3339. Looser inputs
// are rejected so a typo never silently matches nothing.
func parseDateParam(param, v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Time{}, WithContext(ErrInvalidArgument, map[string]interface{}{
		"param":  param,
		"value":  v,
		"reason": "expected YYYY-MM-DD or RFC 3339",
	})
}

// splitList parses a comma-separated parameter into scalar values
func splitList(v string) []interface{} {
	var out []interface{}
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, coerceScalar(part))
		}
	}
	return out
}

// coerceScalar turns a query parameter value into the type it will
// compare against after JSON decoding: bool, float64 or string.
func coerceScalar(v string) interface{} {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
