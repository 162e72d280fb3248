package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/meilisearch/meilisearch-go"
)

const (
	defaultRequestTimeout = 10 * time.Second
	documentPrimaryKey    = "id"
)

// MeiliConfig locates a Meilisearch instance.
type MeiliConfig struct {
	URL        string
	APIKey     string
	Index      string
	HTTPClient *http.Client
}

// MeiliSink pushes documents to Meilisearch through the official client.
type MeiliSink struct {
	host       string
	index      string
	httpClient *http.Client
	client     meilisearch.ServiceManager
}

func NewMeiliSink(cfg MeiliConfig) *MeiliSink {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	host := strings.TrimRight(cfg.URL, "/")
	return &MeiliSink{
		host:       host,
		index:      index,
		httpClient: httpClient,
		client: meilisearch.New(host,
			meilisearch.WithAPIKey(cfg.APIKey),
			meilisearch.WithCustomClient(httpClient),
		),
	}
}

// Connect checks the instance health and declares the filterable attributes
// of the configured index.
func (s *MeiliSink) Connect(ctx context.Context) error {
	if s.host == "" {
		return fmt.Errorf("search: meilisearch url is required")
	}
	if _, err := s.client.HealthWithContext(ctx); err != nil {
		return fmt.Errorf("search: health check: %w", err)
	}
	filterable := append([]string(nil), FilterableAttributes...)
	if _, err := s.client.Index(s.index).UpdateFilterableAttributesWithContext(ctx, &filterable); err != nil {
		return fmt.Errorf("search: update filterable attributes of %s: %w", s.index, err)
	}
	return nil
}

func (s *MeiliSink) UpdateDocuments(ctx context.Context, index string, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}
	for _, document := range documents {
		if err := ValidateDocument(document); err != nil {
			return err
		}
	}
	if index == "" {
		index = s.index
	}
	if _, err := s.client.Index(index).UpdateDocumentsWithContext(ctx, documents, documentPrimaryKey); err != nil {
		return fmt.Errorf("search: update documents of %s: %w", index, err)
	}
	return nil
}

func (s *MeiliSink) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
