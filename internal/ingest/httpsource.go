package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPSource is a SourceClient over the publication API's JSON endpoint.
// Request-level timeout and retry policy live in Fetcher; this client only
// speaks the wire protocol.
type HTTPSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPSource creates a client for the publication API at baseURL.
func NewHTTPSource(baseURL, apiKey string) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		// No client-level timeout: the Fetcher's per-request context bounds each call.
		client: &http.Client{},
	}
}

// communicationsResponse matches the relevant fields of the source response.
type communicationsResponse struct {
	Items []RawRecord `json:"items"`
}

func (s *HTTPSource) Query(ctx context.Context, q Query) ([]RawRecord, error) {
	params := url.Values{}
	params.Set("name", q.Identity.Name)
	params.Set("registration", q.Identity.Registration)
	if q.Jurisdiction != "" {
		params.Set("jurisdiction", q.Jurisdiction)
	}
	params.Set("dateFrom", q.From.Format("2006-01-02"))
	params.Set("dateTo", q.To.Format("2006-01-02"))

	endpoint := s.baseURL + "/v1/communications?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("publication API returned %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	var parsed communicationsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse publication response: %w", err)
	}
	return parsed.Items, nil
}

// WindowEnding returns the date window of the given length that ends at ref.
func WindowEnding(ref time.Time, days int) (time.Time, time.Time) {
	if days <= 0 {
		days = 1
	}
	to := ref.UTC()
	return to.AddDate(0, 0, -days), to
}
