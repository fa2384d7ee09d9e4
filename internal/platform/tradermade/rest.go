package tradermade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/moutsimbillah/Nomeriq-v3.3-live-sub004/internal/domain"
)

// KeySource resolves the API key for each request, so a rotated key takes
// effect without rebuilding the client.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// RESTClient is the request/response client for on-demand price lookups,
// used by the fallback refresh path. Every call is bounded by the client
// timeout; exceeding it is a fetch failure, never an indefinite hang.
type RESTClient struct {
	baseURL    string
	keys       KeySource
	httpClient *http.Client
}

// NewRESTClient creates a REST client for the given API root, e.g.
// "https://marketdata.tradermade.com/api/v1".
func NewRESTClient(baseURL string, keys KeySource, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keys:       keys,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchPrices looks up the current price for the given symbols in one batched
// call. Symbols the server does not return are absent from the result map.
func (c *RESTClient) FetchPrices(ctx context.Context, symbols []string) (map[string]domain.Quote, error) {
	if len(symbols) == 0 {
		return map[string]domain.Quote{}, nil
	}

	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("tradermade/rest: resolve api key: %w", err)
	}

	q := url.Values{}
	q.Set("currency", strings.Join(symbols, ","))
	q.Set("api_key", apiKey)
	endpoint := c.baseURL + "/live?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("tradermade/rest: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tradermade/rest: live request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("tradermade/rest: live: %w", domain.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tradermade/rest: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var payload liveResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("tradermade/rest: decode live response: %w", err)
	}
	if payload.Error != 0 {
		return nil, fmt.Errorf("tradermade/rest: api error %d: %s", payload.Error, payload.Message)
	}

	observed := time.Now().UTC()
	if payload.Timestamp > 0 {
		observed = time.Unix(payload.Timestamp, 0).UTC()
	}

	result := make(map[string]domain.Quote, len(payload.Quotes))
	for _, pq := range payload.Quotes {
		price := pq.Mid
		if price == 0 && pq.Bid > 0 && pq.Ask > 0 {
			price = (pq.Bid + pq.Ask) / 2
		}
		quote := domain.Quote{
			Symbol:     pq.Instrument,
			Provider:   domain.ProviderTraderMade,
			Price:      price,
			ObservedAt: observed,
		}
		if quote.Validate() != nil {
			continue
		}
		result[pq.Instrument] = quote
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceFetcher = (*RESTClient)(nil)
