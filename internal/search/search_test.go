package search

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func validDocument() Document {
	return Document{
		ID:       12,
		Artist:   "Artist",
		Title:    "Title",
		Status:   "Pending",
		Creators: []string{"owner", "mapper"},
		BPM:      []float64{120},
		Length:   93500,
		Drain:    90000,
	}
}

func TestValidateDocument(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Document)
		valid  bool
	}{
		{name: "valid", mutate: func(*Document) {}, valid: true},
		{name: "empty arrays", mutate: func(d *Document) { d.Creators = []string{}; d.BPM = []float64{} }, valid: true},
		{name: "nil creators", mutate: func(d *Document) { d.Creators = nil }, valid: false},
		{name: "repeated creator", mutate: func(d *Document) { d.Creators = []string{"owner", "owner"} }, valid: false},
		{name: "empty creator", mutate: func(d *Document) { d.Creators = []string{""} }, valid: false},
		{name: "unknown status", mutate: func(d *Document) { d.Status = "Loved" }, valid: false},
		{name: "missing id", mutate: func(d *Document) { d.ID = 0 }, valid: false},
		{name: "negative length", mutate: func(d *Document) { d.Length = -1 }, valid: false},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			document := validDocument()
			testCase.mutate(&document)
			err := ValidateDocument(document)
			if testCase.valid && err != nil {
				t.Fatalf("expected valid document, got %v", err)
			}
			if !testCase.valid && !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("expected ErrInvalidDocument, got %v", err)
			}
		})
	}
}

func TestMeiliSinkConfiguresIndexAndPushesDocuments(t *testing.T) {
	type capturedRequest struct {
		method string
		path   string
		query  string
		auth   string
		body   []byte
	}
	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, capturedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   body,
		})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/health" {
			_, _ = w.Write([]byte(`{"status":"available"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"taskUid":1,"indexUid":"chartsets","status":"enqueued","type":"documentAdditionOrUpdate"}`))
	}))
	defer server.Close()

	sink := NewMeiliSink(MeiliConfig{URL: server.URL + "/", APIKey: "master"})
	if err := sink.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := sink.UpdateDocuments(context.Background(), DefaultIndex, []Document{validDocument()}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(requests))
	}
	if requests[0].path != "/health" {
		t.Fatalf("expected health check first, got %s", requests[0].path)
	}
	if requests[1].path != "/indexes/chartsets/settings/filterable-attributes" {
		t.Fatalf("unexpected settings path %s", requests[1].path)
	}
	var filterable []string
	if err := json.Unmarshal(requests[1].body, &filterable); err != nil || len(filterable) != 3 {
		t.Fatalf("unexpected filterable attributes %s (%v)", requests[1].body, err)
	}
	push := requests[2]
	if push.method != http.MethodPut || push.path != "/indexes/chartsets/documents" || push.query != "primaryKey=id" {
		t.Fatalf("unexpected document push %s %s?%s", push.method, push.path, push.query)
	}
	if push.auth != "Bearer master" {
		t.Fatalf("expected api key header, got %q", push.auth)
	}
	var pushed []Document
	if err := json.Unmarshal(push.body, &pushed); err != nil {
		t.Fatalf("failed to decode pushed documents: %v", err)
	}
	if len(pushed) != 1 || pushed[0].ID != 12 || pushed[0].Status != "Pending" || len(pushed[0].Creators) != 2 {
		t.Fatalf("unexpected pushed documents %+v", pushed)
	}
}

func TestMeiliSinkReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusForbidden)
	}))
	defer server.Close()

	sink := NewMeiliSink(MeiliConfig{URL: server.URL})
	if err := sink.UpdateDocuments(context.Background(), "", []Document{validDocument()}); err == nil {
		t.Fatalf("expected error for forbidden response")
	}
	if err := sink.Connect(context.Background()); err == nil {
		t.Fatalf("expected connect to fail against a failing instance")
	}
}

func TestMemorySinkKeepsLatestDocument(t *testing.T) {
	sink := NewMemorySink()
	first := validDocument()
	second := validDocument()
	second.Status = "Qualified"

	if err := sink.UpdateDocuments(context.Background(), DefaultIndex, []Document{first}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if err := sink.UpdateDocuments(context.Background(), DefaultIndex, []Document{second}); err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	stored, ok := sink.Document(DefaultIndex, 12)
	if !ok || stored.Status != "Qualified" {
		t.Fatalf("expected latest document, got %+v", stored)
	}
}
