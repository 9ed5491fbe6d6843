package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/store"
)

// aprFieldCandidates are probed in priority order; the 31-day trailing
// average is preferred over shorter or instantaneous readings.
var aprFieldCandidates = []string{"apr31d", "apr7d", "apr", "value"}

// StakingOptions parameterise the staking-yield fetcher.
type StakingOptions struct {
	AprURL  string
	Timeout time.Duration
}

// Staking fetches the beacon-chain staking yield. Upstream payload shapes
// vary between providers, so the parser accepts a bare number or an object
// (optionally wrapped one level in "data") probed for known field names.
type Staking struct {
	opts   StakingOptions
	logger zerolog.Logger
	client *http.Client
}

// NewStaking constructs a staking-yield fetcher.
func NewStaking(opts StakingOptions, logger zerolog.Logger) *Staking {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Staking{
		opts:   opts,
		logger: logger.With().Str("component", "staking_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
	}
}

// FetchStakingApr retrieves the staking yield and records which upstream
// field supplied it.
func (s *Staking) FetchStakingApr(ctx context.Context) (*store.StakingAprSample, error) {
	if strings.TrimSpace(s.opts.AprURL) == "" {
		return nil, Faultf(store.ErrMissingProvider, "staking apr url not configured")
	}

	payload, err := fetchBody(ctx, s.client, s.opts.AprURL)
	if err != nil {
		return nil, err
	}

	value, field, err := probeAprPayload(payload)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, err)
	}

	s.logger.Debug().Str("source_field", field).Str("apr", value.String()).Msg("staking apr sampled")
	return &store.StakingAprSample{Value: value, SourceField: field}, nil
}

// probeAprPayload walks the ordered candidate list rather than taking
// whichever numeric field happens to appear first in the document.
func probeAprPayload(payload []byte) (decimal.Decimal, string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return decimal.Decimal{}, "", fmt.Errorf("parse staking payload: %w", err)
	}

	switch v := root.(type) {
	case json.Number:
		value, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, "", fmt.Errorf("parse bare apr: %w", err)
		}
		return value, "literal", nil

	case map[string]any:
		if num, ok := v["data"].(json.Number); ok {
			if value, err := decimal.NewFromString(num.String()); err == nil {
				return value, "data", nil
			}
		}

		obj := v
		if wrapped, ok := v["data"].(map[string]any); ok {
			obj = wrapped
		}
		for _, field := range aprFieldCandidates {
			num, ok := obj[field].(json.Number)
			if !ok {
				continue
			}
			value, err := decimal.NewFromString(num.String())
			if err != nil {
				continue
			}
			return value, field, nil
		}
		return decimal.Decimal{}, "", errors.New("no known apr field in payload")

	default:
		return decimal.Decimal{}, "", errors.New("unsupported staking payload shape")
	}
}

var _ StakingAprFetcher = (*Staking)(nil)
