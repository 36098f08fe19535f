package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateSymbol string
	simulatePrice  float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Inject a price for a watched symbol and dispatch any triggered alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		if simulatePrice <= 0 {
			return errors.New("--price must be greater than 0")
		}

		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, decimal.NewFromFloat(simulatePrice))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Watched symbol to simulate")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Injected current price")
}
