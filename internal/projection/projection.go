// Package projection derives the forward-looking per-validator-year network
// fee from windowed price averages. The calculation is deliberately gated:
// partial inputs clear the projection instead of feeding it.
package projection

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/store"
)

// validatorStakeEth is the beacon-chain deposit per validator.
var validatorStakeEth = decimal.NewFromInt(32)

// Inputs bundles one evaluation's data.
type Inputs struct {
	EthWindow  store.CalendarWindow
	SsvWindow  store.CalendarWindow
	StakingApr *store.StakingAprSample
	// FeePercent is a decimal fraction; non-positive disables the projection.
	FeePercent decimal.Decimal
	Now        time.Time
}

// Compute returns the projection, or nil plus a gating reason when any
// input is incomplete.
//
//	perValidatorYield = 32 × avgEthPriceUsd × stakingApr   (USD/year)
//	perYearFee        = perValidatorYield × feePercent / avgSsvPriceUsd
func Compute(in Inputs) (*store.FeeProjection, string) {
	if !in.EthWindow.Valid() {
		return nil, windowReason("ETH", in.EthWindow)
	}
	if !in.SsvWindow.Valid() {
		return nil, windowReason("SSV", in.SsvWindow)
	}
	if !in.EthWindow.Avg.IsPositive() || !in.SsvWindow.Avg.IsPositive() {
		return nil, "window average not positive"
	}
	if in.StakingApr == nil || !in.StakingApr.Value.IsPositive() {
		return nil, "staking apr unavailable"
	}
	if !in.FeePercent.IsPositive() {
		return nil, "network fee percent unavailable"
	}

	perValidatorYield := validatorStakeEth.Mul(in.EthWindow.Avg).Mul(in.StakingApr.Value)
	perYear := perValidatorYield.Mul(in.FeePercent).Div(in.SsvWindow.Avg)

	basis := store.BasisObserved
	if in.EthWindow.SyntheticCount > 0 || in.SsvWindow.SyntheticCount > 0 {
		basis = store.BasisSynthetic
	}

	return &store.FeeProjection{
		PerYearSSV: perYear,
		Basis:      basis,
		ComputedAt: in.Now.UTC(),
		Inputs: store.ProjectionInputs{
			AvgEthPriceUSD: in.EthWindow.Avg,
			AvgSsvPriceUSD: in.SsvWindow.Avg,
			StakingApr:     in.StakingApr.Value,
			FeePercent:     in.FeePercent,
			EthWindow:      in.EthWindow,
			SsvWindow:      in.SsvWindow,
		},
	}, ""
}

func windowReason(symbol string, w store.CalendarWindow) string {
	return fmt.Sprintf("%s window incomplete: %d points spanning %.1f days, gap=%v",
		symbol, w.Count, w.DaysSpan, w.HasGap)
}
