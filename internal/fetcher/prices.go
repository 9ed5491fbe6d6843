package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/store"
)

const (
	quotesLatestPath     = "/v2/cryptocurrency/quotes/latest"
	quotesHistoricalPath = "/v2/cryptocurrency/quotes/historical"
	apiKeyHeader         = "X-CMC_PRO_API_KEY"
)

// MarketOptions parameterise the market data fetcher.
type MarketOptions struct {
	BaseURL   string
	APIKey    string
	Symbols   []string
	Timeout   time.Duration
	UserAgent string
}

// Market fetches live and historical USD quotes for the tracked symbols.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMarket constructs a market fetcher.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com"
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchQuotes retrieves the latest USD quote for every configured symbol in
// one call. Symbols whose payload carries no usable price are simply absent
// from the result; the map is never populated with fabricated values.
func (m *Market) FetchQuotes(ctx context.Context) (map[string]store.PriceQuote, error) {
	if strings.TrimSpace(m.opts.APIKey) == "" {
		return nil, Faultf(store.ErrMissingCredential, "market api key not configured")
	}
	if len(m.opts.Symbols) == 0 {
		return nil, Faultf(store.ErrFetchFailed, "symbol list is empty")
	}

	endpoint := fmt.Sprintf("%s%s?symbol=%s&convert=USD",
		m.baseURL, quotesLatestPath, strings.Join(m.opts.Symbols, ","))

	payload, err := m.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var parsed quotesLatestResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, Fault(store.ErrFetchFailed, fmt.Errorf("parse quotes payload: %w", err))
	}

	now := time.Now().UTC()
	quotes := make(map[string]store.PriceQuote, len(m.opts.Symbols))
	for _, symbol := range m.opts.Symbols {
		entries := parsed.Data[symbol]
		if len(entries) == 0 {
			m.logger.Warn().Str("symbol", symbol).Msg("symbol missing from quotes payload")
			continue
		}
		entry := entries[0]

		price := entry.Quote.USD.effectivePrice()
		if price == nil {
			m.logger.Warn().Str("symbol", symbol).Msg("no usable price for symbol")
			continue
		}

		quotes[symbol] = store.PriceQuote{
			Symbol:            symbol,
			PriceUSD:          *price,
			TotalSupply:       entry.TotalSupply,
			CirculatingSupply: entry.CirculatingSupply,
			MaxSupply:         entry.MaxSupply,
			SourceTimestamp:   entry.Quote.USD.sourceTime(now),
		}
	}

	if len(quotes) == 0 {
		return nil, Faultf(store.ErrFetchFailed, "no usable quotes in response")
	}
	return quotes, nil
}

// FetchDailyCloses retrieves up to count daily closes for symbol from the
// bulk historical endpoint. Plan-restricted keys surface as FETCH_FAILED,
// which the seeder treats as its synthetic-fallback trigger.
func (m *Market) FetchDailyCloses(ctx context.Context, symbol string, count int) ([]store.HistoryPoint, error) {
	if strings.TrimSpace(m.opts.APIKey) == "" {
		return nil, Faultf(store.ErrMissingCredential, "market api key not configured")
	}
	if count <= 0 {
		count = store.RetentionDays
	}

	endpoint := fmt.Sprintf("%s%s?symbol=%s&convert=USD&interval=daily&count=%d",
		m.baseURL, quotesHistoricalPath, symbol, count)

	payload, err := m.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var parsed quotesHistoricalResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, Fault(store.ErrFetchFailed, fmt.Errorf("parse historical payload: %w", err))
	}

	points := make([]store.HistoryPoint, 0, len(parsed.Data.Quotes))
	for _, row := range parsed.Data.Quotes {
		price := row.Quote.USD.effectivePrice()
		if price == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, row.Timestamp)
		if err != nil {
			continue
		}
		points = append(points, store.HistoryPoint{
			TimestampMs: ts.UnixMilli(),
			PriceUSD:    *price,
		})
	}
	return points, nil
}

func (m *Market) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, m.opts.APIKey)
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, Fault(store.ErrFetchFailed, parseAPIError(resp.StatusCode, payload))
	}
	return payload, nil
}

type quotesLatestResponse struct {
	Data map[string][]assetEntry `json:"data"`
}

type assetEntry struct {
	Symbol            string           `json:"symbol"`
	TotalSupply       *decimal.Decimal `json:"total_supply"`
	CirculatingSupply *decimal.Decimal `json:"circulating_supply"`
	MaxSupply         *decimal.Decimal `json:"max_supply"`
	Quote             struct {
		USD usdQuote `json:"USD"`
	} `json:"quote"`
}

// usdQuote carries both the live price and, when the provider supplies it,
// the settled close for the period.
type usdQuote struct {
	Price       *decimal.Decimal `json:"price"`
	Close       *decimal.Decimal `json:"close"`
	LastUpdated string           `json:"last_updated"`
}

// effectivePrice prefers the settled close over the live price; closes are
// more representative of an averaging period. Non-positive values are
// treated as unusable.
func (q usdQuote) effectivePrice() *decimal.Decimal {
	if q.Close != nil && q.Close.IsPositive() {
		return q.Close
	}
	if q.Price != nil && q.Price.IsPositive() {
		return q.Price
	}
	return nil
}

func (q usdQuote) sourceTime(fallback time.Time) time.Time {
	if q.LastUpdated == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339, q.LastUpdated)
	if err != nil {
		return fallback
	}
	return ts.UTC()
}

type quotesHistoricalResponse struct {
	Data struct {
		Quotes []historicalRow `json:"quotes"`
	} `json:"data"`
}

type historicalRow struct {
	Timestamp string `json:"timestamp"`
	Quote     struct {
		USD usdQuote `json:"USD"`
	} `json:"quote"`
}

type statusEnvelope struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseAPIError(status int, payload []byte) error {
	var env statusEnvelope
	if err := json.Unmarshal(payload, &env); err == nil && env.Status.ErrorMessage != "" {
		return fmt.Errorf("market api error (%d): %s", status, env.Status.ErrorMessage)
	}
	if len(payload) > 0 {
		return fmt.Errorf("market api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("market api error (%d)", status)
}

var _ QuoteFetcher = (*Market)(nil)
var _ HistoricalFetcher = (*Market)(nil)
