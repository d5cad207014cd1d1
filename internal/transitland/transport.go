package transitland

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"bus-tracker/internal/paging"
)

// APIKeyHeader carries the key on every request.
const APIKeyHeader = "apikey"

// FetchMetrics receives one observation per page request.
type FetchMetrics interface {
	PageFetched(status int, d time.Duration)
}

// HTTPTransport implements paging.Transport over net/http.
type HTTPTransport struct {
	baseURL string
	apiKey  string
	client  *http.Client
	metrics FetchMetrics
}

func NewHTTPTransport(baseURL, apiKey string, timeout time.Duration, m FetchMetrics) *HTTPTransport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

// Get requests rawURL, which is either a path relative to the base URL or an
// absolute pagination link used verbatim.
func (t *HTTPTransport) Get(ctx context.Context, rawURL string, query url.Values) paging.Response {
	start := time.Now()
	resp := t.get(ctx, rawURL, query)
	if t.metrics != nil {
		t.metrics.PageFetched(resp.Status, time.Since(start))
	}
	if !resp.OK {
		log.Warn().
			Str("url", rawURL).
			Int("status", resp.Status).
			Str("error", resp.Message).
			Msg("transit api request failed")
	}
	return resp
}

func (t *HTTPTransport) get(ctx context.Context, rawURL string, query url.Values) paging.Response {
	target, err := t.resolve(rawURL, query)
	if err != nil {
		return transportFailure(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return transportFailure(err)
	}
	req.Header.Set(APIKeyHeader, t.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return paging.Response{Status: resp.StatusCode, Message: "request failed"}
	}

	var data map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return transportFailure(fmt.Errorf("decode response: %w", err))
	}
	return paging.Response{Data: data, OK: true, Status: resp.StatusCode}
}

func (t *HTTPTransport) resolve(rawURL string, query url.Values) (string, error) {
	if !strings.Contains(rawURL, "://") {
		rawURL = t.baseURL + "/" + strings.TrimLeft(rawURL, "/")
	}
	if len(query) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func transportFailure(err error) paging.Response {
	return paging.Response{Status: paging.StatusTransport, Message: err.Error()}
}
