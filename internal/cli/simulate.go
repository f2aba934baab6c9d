package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateFee       float64
	simulateThreshold float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次路由费用告警并发送通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFee < 0 || simulateThreshold <= 0 {
			return errors.New("--fee 不能为负且 --threshold 必须大于 0")
		}

		fee := decimal.NewFromFloat(simulateFee)
		threshold := decimal.NewFromFloat(simulateThreshold)
		return getApp().SimulateAlert(cmd.Context(), fee, threshold)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateFee, "fee", 0.5, "模拟报价费用 (USD)")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 1, "告警阈值 (USD)")
}
