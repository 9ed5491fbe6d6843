package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/store"
)

type priceDTO struct {
	Symbol            string   `json:"symbol"`
	PriceUsd          float64  `json:"priceUsd"`
	TotalSupply       *float64 `json:"totalSupply,omitempty"`
	CirculatingSupply *float64 `json:"circulatingSupply,omitempty"`
	MaxSupply         *float64 `json:"maxSupply,omitempty"`
	Timestamp         string   `json:"timestamp"`
}

type projectionInputsDTO struct {
	AvgEthPriceUsd float64 `json:"avgEthPriceUsd"`
	AvgSsvPriceUsd float64 `json:"avgSsvPriceUsd"`
	StakingApr     float64 `json:"stakingApr"`
	FeePercent     float64 `json:"feePercent"`
}

type projectionDTO struct {
	PerYearSsv float64             `json:"perYearSsv"`
	Basis      string              `json:"basis"`
	ComputedAt string              `json:"computedAt"`
	Inputs     projectionInputsDTO `json:"inputs"`
}

// dataDTO carries the merged dashboard values. Unavailable members are
// null, never defaulted.
type dataDTO struct {
	Prices                       map[string]priceDTO `json:"prices"`
	StakingApr                   *float64            `json:"stakingApr"`
	StakedEth                    *float64            `json:"stakedEth"`
	NetworkFee                   *string             `json:"networkFee"`
	NetworkFeePercent            *float64            `json:"networkFeePercent"`
	NetworkFeeYearlySsv          *float64            `json:"networkFeeYearlySsv"`
	NextMonthNetworkFeeYearlySsv *float64            `json:"nextMonthNetworkFeeYearlySsv"`
	FeeProjection                *projectionDTO      `json:"feeProjection"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	At      string `json:"at"`
}

type pricesResponse struct {
	Data              dataDTO             `json:"data"`
	LastUpdated       string              `json:"lastUpdated"`
	RefreshIntervalMs int64               `json:"refreshIntervalMs"`
	Sources           map[string]string   `json:"sources"`
	LastFetchError    map[string]errorDTO `json:"lastFetchError"`
}

type unavailableResponse struct {
	Message        string              `json:"message"`
	LastFetchError map[string]errorDTO `json:"lastFetchError"`
}

type healthResponse struct {
	Status               string              `json:"status"`
	LastUpdated          *string             `json:"lastUpdated"`
	LastFetchError       map[string]errorDTO `json:"lastFetchError"`
	Symbols              []string            `json:"symbols"`
	StakingAprConfigured bool                `json:"stakingAprConfigured"`
	NetworkFeeConfigured bool                `json:"networkFeeConfigured"`
	StakedEthAvailable   bool                `json:"stakedEthAvailable"`
	RefreshIntervalMs    int64               `json:"refreshIntervalMs"`
}

// Prices serves the merged snapshot. 503 is reserved for the cold state
// where no adapter has ever produced a value.
func Prices(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Cache.Get()

		if !snap.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, unavailableResponse{
				Message:        "no data fetched yet",
				LastFetchError: errorMap(snap.Errors),
			})
			return
		}

		writeJSON(w, http.StatusOK, pricesResponse{
			Data:              buildData(snap),
			LastUpdated:       snap.LastUpdated.UTC().Format(time.RFC3339),
			RefreshIntervalMs: deps.RefreshInterval.Milliseconds(),
			Sources:           snap.Sources,
			LastFetchError:    errorMap(snap.Errors),
		})
	}
}

// Health reports liveness plus which sources are configured and warm.
func Health(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := deps.Cache.Get()

		status := "ok"
		var lastUpdated *string
		if snap.Ready() {
			s := snap.LastUpdated.UTC().Format(time.RFC3339)
			lastUpdated = &s
		} else {
			status = "starting"
		}

		writeJSON(w, http.StatusOK, healthResponse{
			Status:               status,
			LastUpdated:          lastUpdated,
			LastFetchError:       errorMap(snap.Errors),
			Symbols:              deps.Symbols,
			StakingAprConfigured: deps.StakingConfigured,
			NetworkFeeConfigured: deps.FeeConfigured,
			StakedEthAvailable:   snap.StakedEth != nil,
			RefreshIntervalMs:    deps.RefreshInterval.Milliseconds(),
		})
	}
}

func buildData(snap store.Snapshot) dataDTO {
	var data dataDTO

	if snap.Prices != nil {
		data.Prices = make(map[string]priceDTO, len(snap.Prices))
		for symbol, quote := range snap.Prices {
			data.Prices[symbol] = priceDTO{
				Symbol:            quote.Symbol,
				PriceUsd:          quote.PriceUSD.InexactFloat64(),
				TotalSupply:       floatPtr(quote.TotalSupply),
				CirculatingSupply: floatPtr(quote.CirculatingSupply),
				MaxSupply:         floatPtr(quote.MaxSupply),
				Timestamp:         quote.SourceTimestamp.UTC().Format(time.RFC3339),
			}
		}
	}

	if snap.StakingApr != nil {
		v := snap.StakingApr.Value.InexactFloat64()
		data.StakingApr = &v
	}
	if snap.StakedEth != nil {
		v := snap.StakedEth.ValueEth.InexactFloat64()
		data.StakedEth = &v
	}
	if fee := snap.NetworkFee; fee != nil {
		raw := fee.Raw.String()
		data.NetworkFee = &raw
		yearly := fee.PerYearSSV.InexactFloat64()
		data.NetworkFeeYearlySsv = &yearly
		if fee.Percent != nil {
			pct := fee.Percent.InexactFloat64()
			data.NetworkFeePercent = &pct
		}
	}
	if proj := snap.Projection; proj != nil {
		perYear := proj.PerYearSSV.InexactFloat64()
		data.NextMonthNetworkFeeYearlySsv = &perYear
		data.FeeProjection = &projectionDTO{
			PerYearSsv: perYear,
			Basis:      proj.Basis,
			ComputedAt: proj.ComputedAt.UTC().Format(time.RFC3339),
			Inputs: projectionInputsDTO{
				AvgEthPriceUsd: proj.Inputs.AvgEthPriceUSD.InexactFloat64(),
				AvgSsvPriceUsd: proj.Inputs.AvgSsvPriceUSD.InexactFloat64(),
				StakingApr:     proj.Inputs.StakingApr.InexactFloat64(),
				FeePercent:     proj.Inputs.FeePercent.InexactFloat64(),
			},
		}
	}

	return data
}

func errorMap(errors map[string]store.SourceError) map[string]errorDTO {
	if len(errors) == 0 {
		return nil
	}
	out := make(map[string]errorDTO, len(errors))
	for slot, srcErr := range errors {
		out[slot] = errorDTO{
			Code:    string(srcErr.Code),
			Message: srcErr.Message,
			At:      srcErr.At.UTC().Format(time.RFC3339),
		}
	}
	return out
}

func floatPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	v := d.InexactFloat64()
	return &v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
