package ecgstore

import (
	"errors"
	"testing"
	"time"
)

func nowMinusYears(t *testing.T, years int) string {
	t.Helper()
	return time.Now().UTC().AddDate(-years, 0, -1).Format(time.RFC3339)
}

func TestBuildFilter_Exams(t *testing.T) {
	def := ExamDescriptor.Filter

	match := docFromJSON(t, `{
		"title": "Routine checkup",
		"report": "Normal sinus rhythm",
		"status": "pending",
		"amplitude": 1.5,
		"velocity": 25,
		"examDate": "2025-04-14T15:00:00Z",
		"dateOfBirth": "1980-06-01T00:00:00Z",
		"categories": ["NORMAL_SINUS_RHYTHM", "SINUS_TACHYCARDIA"]
	}`)

	tests := []struct {
		name string
		raw  map[string]string
		want bool
	}{
		{"empty filter matches", map[string]string{}, true},
		{"search in report", map[string]string{"search": "sinus"}, true},
		{"search case-insensitive", map[string]string{"search": "ROUTINE"}, true},
		{"search miss", map[string]string{"search": "fibrillation"}, false},
		{"status equality", map[string]string{"status": "pending"}, true},
		{"status mismatch", map[string]string{"status": "completed"}, false},
		{"amplitude window hit", map[string]string{"minAmplitude": "1.0", "maxAmplitude": "2.0"}, true},
		{"amplitude window miss", map[string]string{"minAmplitude": "2.0"}, false},
		{"velocity min only", map[string]string{"minVelocity": "20"}, true},
		{"exam date range", map[string]string{"examDateFrom": "2025-04-01", "examDateTo": "2025-04-30"}, true},
		{"exam date range miss", map[string]string{"examDateTo": "2025-04-13"}, false},
		{"bare date upper bound includes whole day", map[string]string{"examDateTo": "2025-04-14"}, true},
		{"dob from", map[string]string{"dateOfBirthFrom": "1979-01-01"}, true},
		{"categories any", map[string]string{"categories": "NORMAL_SINUS_RHYTHM,ATRIAL_FLUTTER"}, true},
		{"categories any miss", map[string]string{"categories": "ATRIAL_FLUTTER"}, false},
		{"categories all hit", map[string]string{"categories": "NORMAL_SINUS_RHYTHM,SINUS_TACHYCARDIA", "matchType": "all"}, true},
		{"categories all miss", map[string]string{"categories": "NORMAL_SINUS_RHYTHM,ATRIAL_FLUTTER", "matchType": "all"}, false},
		{"empty categories ignored", map[string]string{"categories": ""}, true},
		{"unknown params ignored", map[string]string{"sortBy": "whatever"}, true},
		{"combined filters", map[string]string{"status": "pending", "minAmplitude": "1.0", "search": "sinus"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := BuildFilter(tt.raw, def)
			if err != nil {
				t.Fatalf("BuildFilter failed: %v", err)
			}
			if got := pred.Matches(match); got != tt.want {
				t.Errorf("Matches() = %v, want %v (%s)", got, tt.want, pred.Canonical())
			}
		})
	}
}

func TestBuildFilter_SearchDateWindow(t *testing.T) {
	def := ExamDescriptor.Filter

	sameDay := docFromJSON(t, `{"title": "checkup", "examDate": "2025-04-14T23:59:59Z"}`)
	nextMidnight := docFromJSON(t, `{"title": "checkup", "examDate": "2025-04-15T00:00:00Z"}`)

	pred, err := BuildFilter(map[string]string{"search": "2025-04-14"}, def)
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if !pred.Matches(sameDay) {
		t.Error("exam on the searched day did not match")
	}
	if pred.Matches(nextMidnight) {
		t.Error("exam at midnight of the following day matched")
	}
}

func TestBuildFilter_MalformedValues(t *testing.T) {
	def := ExamDescriptor.Filter

	bad := []map[string]string{
		{"minAmplitude": "lots"},
		{"examDateFrom": "14/04/2025"},
		{"examDateTo": "next tuesday"},
		{"minAge": "-3"},
		{"categories": "A", "matchType": "some"},
	}

	for _, raw := range bad {
		if _, err := BuildFilter(raw, def); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("BuildFilter(%v) = %v, want ErrInvalidArgument", raw, err)
		}
	}
}

func TestBuildFilter_AgeWindow(t *testing.T) {
	def := ExamDescriptor.Filter

	// A 40-year-old patient
	doc := docFromJSON(t, `{"examDate": "2025-04-14T15:00:00Z", "dateOfBirth": "1985-06-01T00:00:00Z"}`)
	// Adjust relative to the clock: someone born 40 years ago
	fortyYearsOld := nowMinusYears(t, 40)
	doc["dateOfBirth"] = fortyYearsOld

	pred, err := BuildFilter(map[string]string{"minAge": "30", "maxAge": "50"}, def)
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if !pred.Matches(doc) {
		t.Errorf("40-year-old should match age window 30-50")
	}

	pred, err = BuildFilter(map[string]string{"minAge": "50"}, def)
	if err != nil {
		t.Fatalf("BuildFilter failed: %v", err)
	}
	if pred.Matches(doc) {
		t.Errorf("40-year-old should not match minAge 50")
	}
}

func TestBuildFilter_CanonicalStableAcrossOrder(t *testing.T) {
	def := ExamDescriptor.Filter
	raw := map[string]string{
		"status":       "pending",
		"minAmplitude": "1.0",
		"maxVelocity":  "50",
		"categories":   "B,A",
	}

	// Map iteration order varies; the canonical form must not.
	var first string
	for i := 0; i < 20; i++ {
		pred, err := BuildFilter(raw, def)
		if err != nil {
			t.Fatalf("BuildFilter failed: %v", err)
		}
		if i == 0 {
			first = pred.Canonical()
			continue
		}
		if pred.Canonical() != first {
			t.Fatalf("canonical form unstable:\n%s\n%s", first, pred.Canonical())
		}
	}
}
