// Package feescale guesses the numeric scale of the on-chain network fee.
// The contract exposes one uint256 whose unit is not documented: deployed
// instances have returned whole percents, basis points, and 18-decimal
// fixed-point fractions. Detection runs an ordered strategy list and
// commits to the first plausible interpretation.
package feescale

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale identifiers committed to by Detect.
const (
	ScalePercentInteger = "percent-integer"
	ScaleBasisPoints    = "basis-points"
)

// BlocksPerYear approximates mainnet block production at 12s slots.
const BlocksPerYear = 2_628_000

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)

	maxWholePercent = big.NewInt(100)
	maxBasisPoints  = big.NewInt(10_000_000)

	blocksPerYearDec = decimal.NewFromInt(BlocksPerYear)

	// fixed-point exponents, most common first
	fixedDecimals = []int32{18, 8, 6, 4}
)

// Result is the committed interpretation of one raw value. Percent is a
// fraction in (0,1] and is nil when no strategy matched; Raw is always set.
type Result struct {
	Raw     *big.Int
	Scale   string
	Percent *decimal.Decimal
}

// Detect runs the scale heuristics against raw. The same input always
// yields the same result, and exactly one scale is committed per value.
func Detect(raw *big.Int) Result {
	res := Result{Raw: new(big.Int).Set(raw)}
	if raw.Sign() <= 0 {
		return res
	}

	// Small integers read as whole percent; 100 → 1.0 is the accepted
	// boundary. Checked ahead of basis points so 4 means 4%, not 4 bp.
	if raw.Cmp(maxWholePercent) <= 0 {
		pct := decimal.NewFromBigInt(raw, -2)
		res.Scale = ScalePercentInteger
		res.Percent = &pct
		return res
	}

	if raw.Cmp(maxBasisPoints) <= 0 {
		bps := decimal.NewFromBigInt(raw, -4)
		if bps.IsPositive() && bps.LessThan(one) {
			res.Scale = ScaleBasisPoints
			res.Percent = &bps
			return res
		}
	}

	for _, d := range fixedDecimals {
		v := decimal.NewFromBigInt(raw, -d)
		if v.IsPositive() && v.LessThan(one) {
			res.Scale = fixedScale(d)
			res.Percent = &v
			return res
		}
	}

	for _, d := range fixedDecimals {
		v := decimal.NewFromBigInt(raw, -d)
		if v.GreaterThanOrEqual(one) && v.LessThanOrEqual(hundred) {
			pct := v.Div(hundred)
			res.Scale = fixedScale(d) + "-percent"
			res.Percent = &pct
			return res
		}
	}

	return res
}

func fixedScale(decimals int32) string {
	return fmt.Sprintf("fixed-%d", decimals)
}

// Annualize reads raw as an 18-decimal per-block amount and scales it to a
// per-year amount. Computed even when Detect matched nothing, so the raw
// value stays diagnosable.
func Annualize(raw *big.Int) (perBlock, perYear decimal.Decimal) {
	perBlock = decimal.NewFromBigInt(raw, -18)
	perYear = perBlock.Mul(blocksPerYearDec)
	return perBlock, perYear
}
