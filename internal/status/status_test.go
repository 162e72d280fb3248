package status

import (
	"errors"
	"testing"
)

func TestParseAcceptsNamesAndOrdinals(t *testing.T) {
	testCases := []struct {
		raw      string
		expected Status
	}{
		{raw: "pending", expected: Pending},
		{raw: "Qualified", expected: Qualified},
		{raw: " WORKINPROGRESS ", expected: WorkInProgress},
		{raw: "1", expected: Pending},
		{raw: "2", expected: Ranked},
	}
	for _, testCase := range testCases {
		t.Run(testCase.raw, func(t *testing.T) {
			parsed, err := Parse(testCase.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if parsed != testCase.expected {
				t.Fatalf("expected %s, got %s", testCase.expected, parsed)
			}
		})
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	for _, raw := range []string{"", "9", "approved"} {
		if _, err := Parse(raw); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected ErrInvalidStatus for %q, got %v", raw, err)
		}
	}
}

func TestSubmittableOnlyAllowsUploaderStates(t *testing.T) {
	if !Pending.Submittable() || !WorkInProgress.Submittable() {
		t.Fatalf("expected pending and work in progress to be submittable")
	}
	if Qualified.Submittable() || Ranked.Submittable() || Graveyard.Submittable() {
		t.Fatalf("expected moderator-only states to be rejected")
	}
}
