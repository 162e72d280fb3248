// Package search pushes chart set documents to a search index.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultIndex is the index chart sets are pushed to.
const DefaultIndex = "chartsets"

// FilterableAttributes are the document fields the index filters on.
var FilterableAttributes = []string{"status", "creators", "bpm"}

// ErrInvalidDocument indicates a document failed schema validation.
var ErrInvalidDocument = errors.New("search: invalid document")

// Document is the searchable projection of a chart set.
type Document struct {
	ID              int64     `json:"id"`
	Artist          string    `json:"artist"`
	ArtistRomanized string    `json:"artist_romanized"`
	Title           string    `json:"title"`
	TitleRomanized  string    `json:"title_romanized"`
	Source          string    `json:"source"`
	SourceRomanized string    `json:"source_romanized"`
	Tags            string    `json:"tags"`
	Status          string    `json:"status"`
	Creators        []string  `json:"creators"`
	BPM             []float64 `json:"bpm"`
	Length          float64   `json:"length"`
	Drain           float64   `json:"drain"`
}

// Sink receives documents for an index. Updates replace documents by id.
type Sink interface {
	Connect(ctx context.Context) error
	UpdateDocuments(ctx context.Context, index string, documents []Document) error
	Close() error
}

const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "artist", "title", "status", "creators", "bpm", "length", "drain"],
  "properties": {
    "id": {"type": "integer", "minimum": 1},
    "artist": {"type": "string", "minLength": 1},
    "artist_romanized": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "title_romanized": {"type": "string"},
    "source": {"type": "string"},
    "source_romanized": {"type": "string"},
    "tags": {"type": "string"},
    "status": {"type": "string", "enum": ["WorkInProgress", "Pending", "Ranked", "Qualified", "Graveyard"]},
    "creators": {"type": "array", "items": {"type": "string", "minLength": 1}, "uniqueItems": true},
    "bpm": {"type": "array", "items": {"type": "number"}},
    "length": {"type": "number", "minimum": 0},
    "drain": {"type": "number", "minimum": 0}
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	if err != nil {
		panic(fmt.Sprintf("search: compile document schema: %v", err))
	}
	return schema
}

// ValidateDocument checks a document against the index schema.
func ValidateDocument(document Document) error {
	payload, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, problem := range result.Errors() {
		problems = append(problems, problem.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
}
