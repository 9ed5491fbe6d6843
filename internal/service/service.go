package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/alerting"
	"ssv-dashboard-api/internal/config"
	"ssv-dashboard-api/internal/fetcher"
	"ssv-dashboard-api/internal/metrics"
	"ssv-dashboard-api/internal/projection"
	"ssv-dashboard-api/internal/seeder"
	"ssv-dashboard-api/internal/store"
)

// Projection price legs. Symbols outside the configured list simply yield
// empty windows, which gate the projection.
const (
	ethSymbol = "ETH"
	ssvSymbol = "SSV"
)

// Adapter result status labels.
const (
	statusOK    = "ok"
	statusEmpty = "empty"
	statusError = "error"
)

// Service orchestrates the poll cycle: fan out to the source adapters, merge
// whatever arrived into its owned state, and publish a fresh snapshot.
// Failed slots keep their previous values.
type Service struct {
	market  fetcher.QuoteFetcher
	staking fetcher.StakingAprFetcher
	staked  fetcher.StakedEthFetcher
	fee     fetcher.NetworkFeeFetcher

	seeder   *seeder.Seeder
	history  *store.History
	cache    *store.Cache
	watchdog *alerting.Watchdog
	logger   zerolog.Logger

	feeOverride decimal.Decimal

	marketSource string
	aprSource    string
	stakedSource string
	feeSource    string

	// cycleMu enforces single-flight cycles. Everything below it is owned
	// by the goroutine holding the lock.
	cycleMu         sync.Mutex
	prices          map[string]store.PriceQuote
	stakingApr      *store.StakingAprSample
	stakedEth       *store.StakedEthSample
	networkFee      *store.NetworkFeeSample
	projection      *store.FeeProjection
	errors          map[string]store.SourceError
	sources         map[string]string
	lastUpdated     time.Time
	permanentLogged map[string]store.ErrorCode
}

// New constructs the polling service.
func New(cfg *config.Config, market fetcher.QuoteFetcher, staking fetcher.StakingAprFetcher, staked fetcher.StakedEthFetcher, fee fetcher.NetworkFeeFetcher, seed *seeder.Seeder, history *store.History, cache *store.Cache, watchdog *alerting.Watchdog, logger zerolog.Logger) *Service {
	feeOverride := decimal.Zero
	if cfg.Projection.FeePercentOverride > 0 {
		feeOverride = decimal.NewFromFloat(cfg.Projection.FeePercentOverride)
	}

	return &Service{
		market:          market,
		staking:         staking,
		staked:          staked,
		fee:             fee,
		seeder:          seed,
		history:         history,
		cache:           cache,
		watchdog:        watchdog,
		logger:          logger.With().Str("component", "service").Logger(),
		feeOverride:     feeOverride,
		marketSource:    hostOf(cfg.Market.BaseURL),
		aprSource:       hostOf(cfg.Staking.AprURL),
		stakedSource:    hostOf(cfg.Staking.StakedURL),
		feeSource:       cfg.Ethereum.NetworkFeeAddress,
		prices:          make(map[string]store.PriceQuote),
		errors:          make(map[string]store.SourceError),
		sources:         make(map[string]string),
		permanentLogged: make(map[string]store.ErrorCode),
	}
}

// cycleResults collects the fan-out output. Each adapter goroutine writes a
// disjoint field pair; the WaitGroup publishes them to the merging goroutine.
type cycleResults struct {
	prices    map[string]store.PriceQuote
	pricesErr error
	apr       *store.StakingAprSample
	aprErr    error
	staked    *store.StakedEthSample
	stakedErr error
	fee       *store.NetworkFeeSample
	feeErr    error
}

// RunCycle 执行单个轮询周期。Returns false when the previous cycle still
// holds the lock and this tick was dropped.
func (s *Service) RunCycle(ctx context.Context, firedAt time.Time) bool {
	if !s.cycleMu.TryLock() {
		metrics.CyclesTotal.WithLabelValues("dropped").Inc()
		return false
	}
	defer s.cycleMu.Unlock()

	started := time.Now()
	logger := s.logger.With().Str("cycle_id", uuid.New().String()).Logger()
	logger.Debug().Time("fired_at", firedAt).Msg("poll cycle started")

	results := s.fanOut(ctx)

	now := firedAt.UTC()
	if firedAt.IsZero() {
		now = time.Now().UTC()
	}

	succeeded := 0
	total := 4

	succeeded += s.mergePrices(ctx, logger, results, now)
	succeeded += s.mergeStakingApr(ctx, logger, results, now)
	succeeded += s.mergeStakedEth(ctx, logger, results, now)
	succeeded += s.mergeNetworkFee(ctx, logger, results, now)

	if succeeded > 0 {
		s.lastUpdated = now
		metrics.LastSuccessTimestamp.Set(float64(now.Unix()))
	}

	if s.seeder != nil {
		s.seeder.Run(ctx, now)
	}

	s.recomputeProjection(logger, now)
	s.publish()

	elapsed := time.Since(started)
	outcome := cycleOutcome(succeeded, total)
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	metrics.CycleDuration.Observe(elapsed.Seconds())

	logger.Info().
		Int("succeeded", succeeded).
		Int("total", total).
		Str("outcome", outcome).
		Dur("elapsed", elapsed).
		Msg("poll cycle finished")

	s.watchdog.ObserveCycle(ctx, succeeded, total, now)
	return true
}

// Snapshot exposes the current published state, mainly for one-shot CLI use.
func (s *Service) Snapshot() store.Snapshot {
	return s.cache.Get()
}

func (s *Service) fanOut(ctx context.Context) cycleResults {
	var res cycleResults
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		res.prices, res.pricesErr = s.market.FetchQuotes(ctx)
	}()
	go func() {
		defer wg.Done()
		res.apr, res.aprErr = s.staking.FetchStakingApr(ctx)
	}()
	go func() {
		defer wg.Done()
		res.staked, res.stakedErr = s.staked.FetchStakedEth(ctx)
	}()
	go func() {
		defer wg.Done()
		res.fee, res.feeErr = s.fee.FetchNetworkFee(ctx)
	}()
	wg.Wait()
	return res
}

func (s *Service) mergePrices(ctx context.Context, logger zerolog.Logger, res cycleResults, now time.Time) int {
	if res.pricesErr != nil {
		s.recordError(ctx, logger, store.SlotPrices, res.pricesErr, now)
		return 0
	}

	s.prices = res.prices
	for symbol, quote := range res.prices {
		ts := quote.SourceTimestamp
		if ts.IsZero() {
			ts = now
		}
		s.history.Append(symbol, store.HistoryPoint{
			TimestampMs: ts.UnixMilli(),
			PriceUSD:    quote.PriceUSD,
		}, now)
		metrics.HistoryPoints.WithLabelValues(symbol).Set(float64(s.history.Len(symbol)))
	}

	s.sources[store.SlotPrices] = s.marketSource
	s.markSuccess(store.SlotPrices)
	return 1
}

func (s *Service) mergeStakingApr(ctx context.Context, logger zerolog.Logger, res cycleResults, now time.Time) int {
	if res.aprErr != nil {
		s.recordError(ctx, logger, store.SlotStakingApr, res.aprErr, now)
		return 0
	}

	s.stakingApr = res.apr
	s.sources[store.SlotStakingApr] = fmt.Sprintf("%s (%s)", s.aprSource, res.apr.SourceField)
	s.markSuccess(store.SlotStakingApr)
	return 1
}

func (s *Service) mergeStakedEth(ctx context.Context, logger zerolog.Logger, res cycleResults, now time.Time) int {
	if res.stakedErr != nil {
		s.recordError(ctx, logger, store.SlotStakedEth, res.stakedErr, now)
		return 0
	}

	// A reachable endpoint whose payload held no staked number keeps the
	// previous sample and clears any stale error, but is not a success.
	if res.staked == nil {
		delete(s.errors, store.SlotStakedEth)
		metrics.AdapterResults.WithLabelValues(store.SlotStakedEth, statusEmpty).Inc()
		logger.Debug().Msg("staked endpoint returned no usable total")
		return 0
	}

	s.stakedEth = res.staked
	s.sources[store.SlotStakedEth] = s.stakedSource
	s.markSuccess(store.SlotStakedEth)
	return 1
}

func (s *Service) mergeNetworkFee(ctx context.Context, logger zerolog.Logger, res cycleResults, now time.Time) int {
	if res.feeErr != nil {
		s.recordError(ctx, logger, store.SlotNetworkFee, res.feeErr, now)
		return 0
	}

	if res.fee.Percent == nil {
		// Decode miss: keep serving the last decoded sample when there is
		// one; otherwise surface the raw-only sample for diagnostics.
		metrics.FeeDecodesTotal.WithLabelValues("none").Inc()
		metrics.AdapterResults.WithLabelValues(store.SlotNetworkFee, statusError).Inc()
		s.errors[store.SlotNetworkFee] = store.SourceError{
			Code:    store.ErrDecodeFailed,
			Message: fmt.Sprintf("network fee %s matched no scale heuristic", res.fee.Raw),
			At:      now,
		}
		logger.Warn().Str("raw", res.fee.Raw.String()).Msg("network fee undecodable, keeping previous sample")

		if s.networkFee == nil || s.networkFee.Percent == nil {
			s.networkFee = res.fee
			s.sources[store.SlotNetworkFee] = fmt.Sprintf("%s (raw)", s.feeSource)
		}
		return 0
	}

	s.networkFee = res.fee
	s.sources[store.SlotNetworkFee] = fmt.Sprintf("%s (%s)", s.feeSource, res.fee.Scale)
	metrics.FeeDecodesTotal.WithLabelValues(res.fee.Scale).Inc()
	s.markSuccess(store.SlotNetworkFee)
	return 1
}

func (s *Service) recomputeProjection(logger zerolog.Logger, now time.Time) {
	feePercent := s.feeOverride
	if !feePercent.IsPositive() && s.networkFee != nil && s.networkFee.Percent != nil {
		feePercent = *s.networkFee.Percent
	}

	proj, reason := projection.Compute(projection.Inputs{
		EthWindow:  s.history.Window(ethSymbol, now),
		SsvWindow:  s.history.Window(ssvSymbol, now),
		StakingApr: s.stakingApr,
		FeePercent: feePercent,
		Now:        now,
	})

	if proj == nil {
		s.projection = nil
		s.errors[store.SlotProjection] = store.SourceError{
			Code:    store.ErrWindowIncomplete,
			Message: reason,
			At:      now,
		}
		metrics.ProjectionAvailable.Set(0)
		logger.Debug().Str("reason", reason).Msg("fee projection unavailable")
		return
	}

	s.projection = proj
	delete(s.errors, store.SlotProjection)
	metrics.ProjectionAvailable.Set(1)
}

// publish swaps a freshly built snapshot into the cache. Maps are copied so
// the published value never aliases cycle-owned state; empty maps publish as
// nil so they serialise as JSON null.
func (s *Service) publish() {
	snap := store.Snapshot{
		StakingApr:  s.stakingApr,
		StakedEth:   s.stakedEth,
		NetworkFee:  s.networkFee,
		Projection:  s.projection,
		LastUpdated: s.lastUpdated,
	}
	if len(s.prices) > 0 {
		snap.Prices = make(map[string]store.PriceQuote, len(s.prices))
		for k, v := range s.prices {
			snap.Prices[k] = v
		}
	}
	if len(s.errors) > 0 {
		snap.Errors = make(map[string]store.SourceError, len(s.errors))
		for k, v := range s.errors {
			snap.Errors[k] = v
		}
	}
	if len(s.sources) > 0 {
		snap.Sources = make(map[string]string, len(s.sources))
		for k, v := range s.sources {
			snap.Sources[k] = v
		}
	}
	s.cache.Set(snap)
}

func (s *Service) recordError(ctx context.Context, logger zerolog.Logger, slot string, err error, now time.Time) {
	code := fetcher.Classify(err)
	s.errors[slot] = store.SourceError{Code: code, Message: err.Error(), At: now}
	metrics.AdapterResults.WithLabelValues(slot, statusError).Inc()

	if code.Permanent() {
		if s.permanentLogged[slot] == code {
			return
		}
		s.permanentLogged[slot] = code
		logger.Error().Err(err).Str("slot", slot).Str("code", string(code)).
			Msg("source misconfigured; will not retry until reconfigured")
		s.watchdog.ObserveConfigError(ctx, slot, code, err.Error(), now)
		return
	}

	logger.Warn().Err(err).Str("slot", slot).Str("code", string(code)).Msg("source fetch failed")
}

func (s *Service) markSuccess(slot string) {
	delete(s.errors, slot)
	delete(s.permanentLogged, slot)
	metrics.AdapterResults.WithLabelValues(slot, statusOK).Inc()
}

func cycleOutcome(succeeded, total int) string {
	switch {
	case succeeded == total:
		return "ok"
	case succeeded > 0:
		return "partial"
	default:
		return "failed"
	}
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
