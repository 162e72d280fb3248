package chartsets

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/KumiProject/chartsets/internal/archive"
	"github.com/KumiProject/chartsets/internal/archive/archivetest"
	"github.com/KumiProject/chartsets/internal/chartfile"
)

func parsedDocument(t *testing.T, entry string, chart archivetest.Chart) archive.Document {
	t.Helper()
	document, err := chartfile.Parse([]byte(chart.Text()))
	if err != nil {
		t.Fatalf("failed to parse %s: %v", entry, err)
	}
	return archive.Document{ChartDocument: document, EntryName: entry}
}

func TestValidateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	mapper := env.account(t, "mapper", 0)
	validator := NewValidator(env.accounts)

	documents := []archive.Document{
		parsedDocument(t, "easy.kch", archivetest.Chart{Difficulty: "Easy", Creators: []string{"Mapper"}}),
		parsedDocument(t, "hard.kch", archivetest.Chart{Difficulty: "Hard"}),
	}

	first, err := validator.Validate(context.Background(), documents, documents[0])
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	second, err := validator.Validate(context.Background(), documents, documents[0])
	if err != nil {
		t.Fatalf("second validate failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected validation to be idempotent")
	}
	if len(first) != 2 || len(first[0].CreatorIDs) != 1 || first[0].CreatorIDs[0] != mapper.ID {
		t.Fatalf("unexpected creatable charts %+v", first)
	}
	if string(first[1].Raw) != string(documents[1].Raw) {
		t.Fatalf("expected raw chart text to be kept")
	}
}

func TestValidateRejectsTagsMismatch(t *testing.T) {
	env := newTestEnv(t)
	validator := NewValidator(env.accounts)
	documents := []archive.Document{
		parsedDocument(t, "easy.kch", archivetest.Chart{Tags: "one two"}),
		parsedDocument(t, "hard.kch", archivetest.Chart{Tags: "one  two"}),
	}

	_, err := validator.Validate(context.Background(), documents, documents[0])
	if !errors.Is(err, ErrMetadataMismatch) {
		t.Fatalf("expected metadata mismatch, got %v", err)
	}
	var mismatch *MetadataMismatchError
	if !errors.As(err, &mismatch) || mismatch.Entry != "hard.kch" {
		t.Fatalf("expected the mismatching entry to be named, got %v", err)
	}
}

func TestValidateNamesUnknownCreator(t *testing.T) {
	env := newTestEnv(t)
	validator := NewValidator(env.accounts)
	documents := []archive.Document{parsedDocument(t, "easy.kch", archivetest.Chart{Creators: []string{"nobody"}})}

	_, err := validator.Validate(context.Background(), documents, documents[0])
	var unknown *UnknownCreatorError
	if !errors.As(err, &unknown) || unknown.Username != "nobody" || !errors.Is(err, ErrUnknownCreator) {
		t.Fatalf("expected unknown creator nobody, got %v", err)
	}
}
