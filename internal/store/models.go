package store

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot slot names. Each adapter owns exactly one error slot.
const (
	SlotPrices     = "prices"
	SlotStakingApr = "stakingApr"
	SlotStakedEth  = "stakedEth"
	SlotNetworkFee = "networkFee"
	SlotProjection = "projection"
)

// ErrorCode classifies why a snapshot slot carries no fresh value.
type ErrorCode string

const (
	// ErrMissingCredential: no API key configured; permanent until reconfigured.
	ErrMissingCredential ErrorCode = "MISSING_CREDENTIAL"
	// ErrMissingProvider: no upstream URL or RPC endpoint configured.
	ErrMissingProvider ErrorCode = "MISSING_PROVIDER"
	// ErrFetchFailed: transient upstream failure, retried next cycle.
	ErrFetchFailed ErrorCode = "FETCH_FAILED"
	// ErrDecodeFailed: on-chain value matched no scale heuristic.
	ErrDecodeFailed ErrorCode = "DECODE_FAILED"
	// ErrWindowIncomplete: averaging window not yet valid; gates the projection only.
	ErrWindowIncomplete ErrorCode = "WINDOW_INCOMPLETE"
)

// Permanent reports whether the code describes a configuration problem
// that will not resolve without operator action.
func (c ErrorCode) Permanent() bool {
	return c == ErrMissingCredential || c == ErrMissingProvider
}

// SourceError records the most recent failure of one slot.
type SourceError struct {
	Code    ErrorCode
	Message string
	At      time.Time
}

// PriceQuote is one market observation for a tracked symbol; overwritten each cycle.
type PriceQuote struct {
	Symbol            string
	PriceUSD          decimal.Decimal
	TotalSupply       *decimal.Decimal
	CirculatingSupply *decimal.Decimal
	MaxSupply         *decimal.Decimal
	SourceTimestamp   time.Time
}

// StakingAprSample carries the beacon-chain staking yield as a decimal
// fraction plus the upstream field that supplied it.
type StakingAprSample struct {
	Value       decimal.Decimal
	SourceField string
}

// StakedEthSample is the network-wide staked total in ETH,
// converted from the upstream gwei integer.
type StakedEthSample struct {
	ValueEth decimal.Decimal
}

// NetworkFeeSample is one decoded observation of the on-chain network fee.
// Percent is nil when no scale heuristic matched; Raw, PerBlockSSV and
// PerYearSSV are still populated for diagnostics.
type NetworkFeeSample struct {
	Raw         *big.Int
	Scale       string
	Percent     *decimal.Decimal
	PerBlockSSV decimal.Decimal
	PerYearSSV  decimal.Decimal
	BlockNumber *uint64
}

// HistoryPoint is one daily-ish price sample. Synthetic marks points
// fabricated by the seeder fallback rather than observed upstream.
type HistoryPoint struct {
	TimestampMs int64
	PriceUSD    decimal.Decimal
	Synthetic   bool
}

// Time returns the point's timestamp in UTC.
func (p HistoryPoint) Time() time.Time {
	return time.UnixMilli(p.TimestampMs).UTC()
}

// CalendarWindow summarises the samples falling inside one fixed,
// completed calendar span. Derived on demand, never stored.
type CalendarWindow struct {
	Avg            decimal.Decimal
	Count          int
	StartDate      time.Time
	EndDate        time.Time
	DaysSpan       float64
	HasGap         bool
	SyntheticCount int
}

// Valid reports whether the window may feed the projection.
func (w CalendarWindow) Valid() bool {
	return w.Count >= 30 && w.DaysSpan >= 29 && !w.HasGap
}

// ProjectionBasis marks whether a projection rests on observed samples only.
const (
	BasisObserved  = "observed"
	BasisSynthetic = "synthetic"
)

// ProjectionInputs records every number that went into a projection.
type ProjectionInputs struct {
	AvgEthPriceUSD decimal.Decimal
	AvgSsvPriceUSD decimal.Decimal
	StakingApr     decimal.Decimal
	FeePercent     decimal.Decimal
	EthWindow      CalendarWindow
	SsvWindow      CalendarWindow
}

// FeeProjection is the forward per-validator-year fee estimate in SSV.
// Recomputed each cycle; absent whenever any input is incomplete.
type FeeProjection struct {
	PerYearSSV decimal.Decimal
	Basis      string
	ComputedAt time.Time
	Inputs     ProjectionInputs
}

// Snapshot is the externally visible merged state. The orchestrator builds
// a fresh value each cycle and swaps it whole; readers must treat the maps
// as immutable.
type Snapshot struct {
	Prices      map[string]PriceQuote
	StakingApr  *StakingAprSample
	StakedEth   *StakedEthSample
	NetworkFee  *NetworkFeeSample
	Projection  *FeeProjection
	LastUpdated time.Time
	Errors      map[string]SourceError
	Sources     map[string]string
}

// Ready reports whether any adapter has ever produced a value.
func (s Snapshot) Ready() bool {
	return !s.LastUpdated.IsZero()
}
