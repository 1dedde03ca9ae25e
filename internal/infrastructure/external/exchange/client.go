package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public exchangerate-api endpoint
const DefaultBaseURL = "https://api.exchangerate-api.com/v4/latest"

// Rates is one rate table quoted against Base
type Rates struct {
	Base  string                     `json:"base"`
	Date  string                     `json:"date"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// RateFetcher loads the rate table of a base currency
type RateFetcher interface {
	FetchRates(ctx context.Context, base string) (*Rates, error)
}

// ClientConfig configures the HTTP rate client
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client fetches rate tables over HTTP
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a new rate API client
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:      logger,
	}
}

// FetchRates requests GET {baseURL}/{base}
func (c *Client) FetchRates(ctx context.Context, base string) (*Rates, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	base = strings.ToUpper(base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+base, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rates for %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rate API returned %d for %s: %s", resp.StatusCode, base, strings.TrimSpace(string(body)))
	}

	var rates Rates
	if err := json.NewDecoder(resp.Body).Decode(&rates); err != nil {
		return nil, fmt.Errorf("failed to decode rates for %s: %w", base, err)
	}
	if len(rates.Rates) == 0 {
		return nil, fmt.Errorf("rate API returned no rates for %s", base)
	}
	if rates.Base == "" {
		rates.Base = base
	}

	c.logger.Debug("Fetched exchange rates",
		zap.String("base", rates.Base),
		zap.String("date", rates.Date),
		zap.Int("count", len(rates.Rates)))
	return &rates, nil
}
