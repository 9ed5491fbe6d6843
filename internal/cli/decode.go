package cli

import (
	"errors"
	"math/big"

	"github.com/spf13/cobra"
)

var decodeRaw string

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "解析一个原始的链上 fee 整数并打印判定的 scale",
	RunE: func(cmd *cobra.Command, args []string) error {
		if decodeRaw == "" {
			return errors.New("--raw 必须提供")
		}

		raw, ok := new(big.Int).SetString(decodeRaw, 10)
		if !ok {
			return errors.New("--raw 必须为十进制整数")
		}
		return getApp().DecodeFee(raw)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeRaw, "raw", "", "合约返回的原始整数值")
}
