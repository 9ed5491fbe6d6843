package app

import (
	"encoding/json"
	"math/big"
	"os"

	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/feescale"
)

type feeDecodeView struct {
	Raw         string           `json:"raw"`
	Scale       string           `json:"scale,omitempty"`
	Percent     *decimal.Decimal `json:"percent"`
	PerBlockSsv decimal.Decimal  `json:"perBlockSsv"`
	PerYearSsv  decimal.Decimal  `json:"perYearSsv"`
}

// DecodeFee 按与链上读取完全相同的策略解析一个原始 fee 整数并打印结果。
func (a *App) DecodeFee(raw *big.Int) error {
	res := feescale.Detect(raw)
	perBlock, perYear := feescale.Annualize(raw)

	if res.Percent == nil {
		a.Logger.Warn().Str("raw", raw.String()).Msg("没有任何 scale 匹配该值")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(feeDecodeView{
		Raw:         res.Raw.String(),
		Scale:       res.Scale,
		Percent:     res.Percent,
		PerBlockSsv: perBlock,
		PerYearSsv:  perYear,
	})
}
