package audit

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/web8kameleon-hub/tokengate/internal/models"
)

// OpenSearchConfig locates the cluster. Index is a prefix; entries go to
// daily indices.
type OpenSearchConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	// Index is the prefix; entries go to <Index>-YYYY.MM.DD.
	Index string
}

// OpenSearchSink indexes entries for search alongside other security events.
type OpenSearchSink struct {
	client *opensearch.Client
	index  string
}

// NewOpenSearchSink builds a client for cfg.
func NewOpenSearchSink(cfg OpenSearchConfig) (*OpenSearchSink, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return &OpenSearchSink{client: client, index: cfg.Index}, nil
}

func (s *OpenSearchSink) Name() string { return "opensearch" }

func (s *OpenSearchSink) indexFor(t time.Time) string {
	return s.index + "-" + t.UTC().Format("2006.01.02")
}

// Append indexes e under its ID into the index for its timestamp.
func (s *OpenSearchSink) Append(ctx context.Context, e models.AuditEntry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	res, err := s.client.Index(
		s.indexFor(e.Timestamp),
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(e.ID),
		// create only: an existing ID is never overwritten
		s.client.Index.WithOpType("create"),
	)
	if err != nil {
		return fmt.Errorf("failed to index audit entry: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("opensearch index error: %s: %s", res.Status(), string(msg))
	}
	return nil
}
