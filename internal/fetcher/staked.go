package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/store"
)

// The upstream reports the staked total in gwei.
const gweiDecimals = 9

// StakedOptions parameterise the stake-total fetcher.
type StakedOptions struct {
	URL     string
	Timeout time.Duration
}

// Staked fetches the network-wide staked ETH total.
type Staked struct {
	opts   StakedOptions
	logger zerolog.Logger
	client *http.Client
}

// NewStaked constructs a stake-total fetcher.
func NewStaked(opts StakedOptions, logger zerolog.Logger) *Staked {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Staked{
		opts:   opts,
		logger: logger.With().Str("component", "staked_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchStakedEth retrieves the staked total and converts gwei to ETH.
// A payload that carries no number yields (nil, nil): the slot simply stays
// empty rather than raising an error.
func (s *Staked) FetchStakedEth(ctx context.Context) (*store.StakedEthSample, error) {
	if strings.TrimSpace(s.opts.URL) == "" {
		return nil, Faultf(store.ErrMissingProvider, "staked total url not configured")
	}

	payload, err := fetchBody(ctx, s.client, s.opts.URL)
	if err != nil {
		return nil, err
	}

	gwei, ok := probeStakedPayload(payload)
	if !ok {
		s.logger.Warn().Msg("staked total payload carried no number")
		return nil, nil
	}

	return &store.StakedEthSample{ValueEth: gwei.Shift(-gweiDecimals)}, nil
}

// probeStakedPayload accepts a bare number, {"data": n} or
// {"data": {"amount": n}}. Totals exceed float64's integer range, so the
// number is decoded textually.
func probeStakedPayload(payload []byte) (decimal.Decimal, bool) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return decimal.Decimal{}, false
	}

	switch v := root.(type) {
	case json.Number:
		return parseNumber(v)
	case map[string]any:
		switch data := v["data"].(type) {
		case json.Number:
			return parseNumber(data)
		case map[string]any:
			if num, ok := data["amount"].(json.Number); ok {
				return parseNumber(num)
			}
		}
	}
	return decimal.Decimal{}, false
}

func parseNumber(num json.Number) (decimal.Decimal, bool) {
	value, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value, true
}

var _ StakedEthFetcher = (*Staked)(nil)
