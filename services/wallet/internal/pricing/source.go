package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Currency  string          `json:"currency"`
	USD       decimal.Decimal `json:"usd"`
	Change24h decimal.Decimal `json:"change_24h"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

const (
	SourceLive      = "live"
	SourceCache     = "cache"
	SourceShared    = "shared_cache"
	SourceLastKnown = "last_known"
	SourceStatic    = "static"
)

// Source fetches a current USD quote for one currency.
type Source interface {
	Fetch(ctx context.Context, currency string) (Quote, error)
}

// HTTPSource reads quotes from a JSON price endpoint:
// GET {base}/v1/prices/{currency} -> {"usd": "...", "change_24h": "..."}.
type HTTPSource struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPSource(baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type priceResponse struct {
	USD       decimal.Decimal `json:"usd"`
	Change24h decimal.Decimal `json:"change_24h"`
}

func (s *HTTPSource) Fetch(ctx context.Context, currency string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/v1/prices/%s", s.baseURL, url.PathEscape(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("price feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("decode price response: %w", err)
	}
	if !payload.USD.IsPositive() {
		return Quote{}, fmt.Errorf("price feed returned non-positive price for %s", currency)
	}
	return Quote{
		Currency:  currency,
		USD:       payload.USD,
		Change24h: payload.Change24h,
		Source:    SourceLive,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// StaticPrices is the table of last-resort USD prices.
func StaticPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BTC":  decimal.NewFromInt(60000),
		"ETH":  decimal.NewFromInt(3000),
		"USDT": decimal.NewFromInt(1),
		"USDC": decimal.NewFromInt(1),
		"USD":  decimal.NewFromInt(1),
		"EUR":  decimal.RequireFromString("1.08"),
		"GBP":  decimal.RequireFromString("1.27"),
	}
}
