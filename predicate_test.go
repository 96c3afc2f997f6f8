package ecgstore

import (
	"encoding/json"
	"testing"
)

func docFromJSON(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("bad test document: %v", err)
	}
	return doc
}

func TestPredicate_Matching(t *testing.T) {
	doc := docFromJSON(t, `{
		"status": "pending",
		"amplitude": 1.5,
		"report": "Normal Sinus Rhythm",
		"examDate": "2025-04-14T15:00:00Z",
		"categories": ["A", "B"],
		"ecgParameters": {"heartRate": 72}
	}`)

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"eq string match", Eq("status", "pending"), true},
		{"eq string mismatch", Eq("status", "completed"), false},
		{"eq number", Eq("amplitude", 1.5), true},
		{"eq missing field", Eq("velocity", 1.0), false},
		{"gte number", Gte("amplitude", 1.0), true},
		{"lte number", Lte("amplitude", 2.0), true},
		{"gte boundary inclusive", Gte("amplitude", 1.5), true},
		{"lte boundary inclusive", Lte("amplitude", 1.5), true},
		{"gte exceeds", Gte("amplitude", 2.0), false},
		{"nested path", Gte("ecgParameters.heartRate", 60.0), true},
		{"nested path miss", Gte("ecgParameters.prInterval", 100.0), false},
		{"date gte", Gte("examDate", "2025-04-01"), true},
		{"date lte", Lte("examDate", "2025-04-01"), false},
		{"in any element", In("categories", []interface{}{"A", "Z"}), true},
		{"in no element", In("categories", []interface{}{"X", "Z"}), false},
		{"all present", AllOf("categories", []interface{}{"A", "B"}), true},
		{"all partial", AllOf("categories", []interface{}{"A", "C"}), false},
		{"contains fold", ContainsFold("report", "sinus"), true},
		{"contains fold miss", ContainsFold("report", "fibrillation"), false},
		{"and both", And(Eq("status", "pending"), Gte("amplitude", 1.0)), true},
		{"and one fails", And(Eq("status", "pending"), Gte("amplitude", 2.0)), false},
		{"or one holds", Or(Eq("status", "completed"), Gte("amplitude", 1.0)), true},
		{"or neither", Or(Eq("status", "completed"), Gte("amplitude", 2.0)), false},
		{"empty and is true", And(), true},
		{"true matches", True(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pred.Matches(doc); got != tt.want {
				t.Errorf("Matches() = %v, want %v (%s)", got, tt.want, tt.pred.Canonical())
			}
		})
	}
}

func TestPredicate_CanonicalDeterminism(t *testing.T) {
	a := And(Eq("status", "pending"), Gte("amplitude", 1.0), In("categories", []interface{}{"A", "B"}))
	b := And(In("categories", []interface{}{"B", "A"}), Eq("status", "pending"), Gte("amplitude", 1.0))

	if a.Canonical() != b.Canonical() {
		t.Errorf("equivalent predicates serialize differently:\n%s\n%s", a.Canonical(), b.Canonical())
	}

	c := And(Eq("status", "completed"), Gte("amplitude", 1.0))
	if a.Canonical() == c.Canonical() {
		t.Error("different predicates share a canonical form")
	}
}

func TestPredicate_SoftDeletedFieldIgnoredByMatch(t *testing.T) {
	// Predicates only see what they are asked about; the repository
	// applies the soft-delete guard before matching.
	doc := docFromJSON(t, `{"status": "pending", "isDeleted": true}`)
	if !Eq("status", "pending").Matches(doc) {
		t.Error("predicate should match regardless of delete markers")
	}
}
