package chartfile

import (
	"strings"
	"testing"
)

func TestRewriteIdentifiersRoundTrip(t *testing.T) {
	variants := []struct {
		name   string
		setKey string
		idKey  string
	}{
		{name: "canonical", setKey: "CHART_SET_ID = -1", idKey: "CHART_ID = -1"},
		{name: "lower compact", setKey: "chart_set_id=-1", idKey: "chart_id=-1"},
		{name: "mixed tabs", setKey: "Chart_Set_Id\t=   -1", idKey: "cHaRt_Id   =\t-1"},
		{name: "trailing space", setKey: "CHART_SET_ID =-1 ", idKey: "CHART_ID= -1"},
	}

	for _, variant := range variants {
		t.Run(variant.name, func(t *testing.T) {
			raw := strings.Replace(sampleChart, "CHART_SET_ID = -1", variant.setKey, 1)
			raw = strings.Replace(raw, "CHART_ID = -1", variant.idKey, 1)

			rewritten := RewriteIdentifiers([]byte(raw), 42, 1337)
			document, err := Parse(rewritten)
			if err != nil {
				t.Fatalf("unexpected parse error: %v", err)
			}
			if document.Header.ChartSetID != 42 {
				t.Fatalf("expected set id 42, got %d", document.Header.ChartSetID)
			}
			if document.Header.ChartID != 1337 {
				t.Fatalf("expected chart id 1337, got %d", document.Header.ChartID)
			}
		})
	}
}

func TestRewriteIdentifiersLeavesAssignedIdentifiers(t *testing.T) {
	raw := []byte("CHART_SET_ID = 7\nCHART_ID = -12\nMY_CHART_ID = -1\n")
	rewritten := RewriteIdentifiers(raw, 1, 2)
	if string(rewritten) != string(raw) {
		t.Fatalf("expected text without placeholders to be unchanged, got %q", rewritten)
	}
}

func TestRewriteIdentifiersChangesChecksum(t *testing.T) {
	raw := []byte(sampleChart)
	rewritten := RewriteIdentifiers(raw, 3, 4)
	if Checksum(raw) == Checksum(rewritten) {
		t.Fatalf("expected rewritten text to hash differently")
	}
	if len(Checksum(rewritten)) != 64 {
		t.Fatalf("expected hex encoded sha-256")
	}
}
