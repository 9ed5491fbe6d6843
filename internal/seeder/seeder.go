// Package seeder performs the one-time history backfill so the averaging
// window does not have to wait a full month of live polling after a restart.
package seeder

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"ssv-dashboard-api/internal/fetcher"
	"ssv-dashboard-api/internal/store"
)

const (
	// minPoints: series at or above this size are considered seeded already.
	minPoints = 10

	// backfillDays is how many daily closes one backfill requests.
	backfillDays = 30
)

// Options configures the seeder.
type Options struct {
	Symbols []string
}

// Seeder backfills per-symbol history once. When the historical endpoint
// fails it falls back to synthetic points cloned from the latest live price,
// flagged so downstream consumers can tell the two apart.
type Seeder struct {
	opts       Options
	historical fetcher.HistoricalFetcher
	history    *store.History
	logger     zerolog.Logger
}

// New constructs the seeder.
func New(opts Options, historical fetcher.HistoricalFetcher, history *store.History, logger zerolog.Logger) *Seeder {
	return &Seeder{
		opts:       opts,
		historical: historical,
		history:    history,
		logger:     logger.With().Str("component", "seeder").Logger(),
	}
}

// Run seeds every configured symbol that still needs it. Called once per
// poll cycle; symbols already seeded or organically filled are skipped.
func (s *Seeder) Run(ctx context.Context, now time.Time) {
	for _, symbol := range s.opts.Symbols {
		s.seedSymbol(ctx, symbol, now)
	}
}

func (s *Seeder) seedSymbol(ctx context.Context, symbol string, now time.Time) {
	if s.history.Seeded(symbol) || s.history.Len(symbol) >= minPoints {
		return
	}

	logger := s.logger.With().Str("symbol", symbol).Logger()

	points, err := s.historical.FetchDailyCloses(ctx, symbol, backfillDays)
	if err == nil && len(points) > 0 {
		for _, p := range points {
			s.history.Append(symbol, p, now)
		}
		s.history.MarkSeeded(symbol)
		logger.Info().Int("points", len(points)).Msg("history backfilled")
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("历史数据回填失败，使用合成数据兜底")
	} else {
		logger.Warn().Msg("历史数据为空，使用合成数据兜底")
	}

	latest, ok := s.history.Latest(symbol)
	if !ok {
		logger.Warn().Msg("no live price yet, seeding deferred")
		return
	}

	// Clone the live price backwards: one point per day, ending the day
	// before the live point so timestamps never collide.
	base := latest.Time()
	for i := backfillDays; i >= 1; i-- {
		s.history.Append(symbol, store.HistoryPoint{
			TimestampMs: base.AddDate(0, 0, -i).UnixMilli(),
			PriceUSD:    latest.PriceUSD,
			Synthetic:   true,
		}, now)
	}
	s.history.MarkSeeded(symbol)
	logger.Info().Int("points", backfillDays).Msg("synthetic history seeded")
}
