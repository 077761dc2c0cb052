package harvestcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/ligun0805/vault-harvester/internal/watchers"
	"github.com/shopspring/decimal"
)

const (
	ReasonOK                  = "ok"
	ReasonGasAboveAbsoluteMax = "gas above absolute max"
	ReasonGasAboveMax         = "gas above max"
	ReasonRewardBelowMinimum  = "reward below minimum"
	ReasonProfitRatioTooLow   = "profit ratio too low"
)

// DecisionConfig holds the profitability knobs.
type DecisionConfig struct {
	MinRewardUSD       float64
	ProfitMultiplier   float64
	MaxGasGwei         float64
	AbsoluteMaxGasGwei float64
	EnforceMinReward   bool
	SkipAboveMaxGas    bool
	NativeSymbol       string
}

func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		MinRewardUSD:       1.0,
		ProfitMultiplier:   2.0,
		MaxGasGwei:         40,
		AbsoluteMaxGasGwei: 600,
		EnforceMinReward:   true,
		NativeSymbol:       "MATIC",
	}
}

// Prices is a snapshot of USD prices keyed by upper-case symbol. Missing
// symbols price at zero.
type Prices map[string]decimal.Decimal

func (p Prices) Get(symbol string) decimal.Decimal {
	return p[strings.ToUpper(symbol)]
}

type Decision struct {
	Should            bool
	Reason            string
	RewardUSD         decimal.Decimal
	GasCostUSD        decimal.Decimal
	ExpectedProfitUSD decimal.Decimal
	GasPriceGwei      decimal.Decimal
}

func (d Decision) String() string {
	return fmt.Sprintf("should=%t reason=%q reward=$%s gas_cost=$%s exp_profit=$%s gas=%s gwei",
		d.Should, d.Reason, d.RewardUSD.StringFixed(4), d.GasCostUSD.StringFixed(6),
		d.ExpectedProfitUSD.StringFixed(4), d.GasPriceGwei.StringFixed(2))
}

// Record converts the decision into the diagnostic stored on a watcher.
func (d Decision) Record(at time.Time) *watchers.DecisionRecord {
	return &watchers.DecisionRecord{
		Should:            d.Should,
		Reason:            d.Reason,
		ExpectedProfitUSD: d.ExpectedProfitUSD.InexactFloat64(),
		GasCostUSD:        d.GasCostUSD.InexactFloat64(),
		RewardUSD:         d.RewardUSD.InexactFloat64(),
		GasGwei:           d.GasPriceGwei.InexactFloat64(),
		At:                float64(at.Unix()),
	}
}

// Decide reports whether harvesting reward now clears the configured margin.
// It has no side effects.
func Decide(reward PendingReward, gasGwei decimal.Decimal, gasLimit uint64, prices Prices, cfg DecisionConfig) Decision {
	native := cfg.NativeSymbol
	if native == "" {
		native = "MATIC"
	}

	rewardUSD := reward.Amount.Mul(prices.Get(reward.Symbol))
	gasCostUSD := gasGwei.Shift(-9).Mul(decimal.NewFromInt(int64(gasLimit))).Mul(prices.Get(native))
	expected := rewardUSD.Sub(gasCostUSD)

	d := Decision{
		RewardUSD:         rewardUSD,
		GasCostUSD:        gasCostUSD,
		ExpectedProfitUSD: expected,
		GasPriceGwei:      gasGwei,
	}

	switch {
	case gasGwei.GreaterThan(decimal.NewFromFloat(cfg.AbsoluteMaxGasGwei)):
		d.Reason = ReasonGasAboveAbsoluteMax
	case cfg.SkipAboveMaxGas && cfg.MaxGasGwei > 0 && gasGwei.GreaterThan(decimal.NewFromFloat(cfg.MaxGasGwei)):
		d.Reason = ReasonGasAboveMax
	case cfg.EnforceMinReward && rewardUSD.LessThan(decimal.NewFromFloat(cfg.MinRewardUSD)):
		d.Reason = ReasonRewardBelowMinimum
	case expected.LessThan(gasCostUSD.Mul(decimal.NewFromFloat(cfg.ProfitMultiplier).Sub(decimal.NewFromInt(1)))):
		d.Reason = ReasonProfitRatioTooLow
	default:
		d.Should = true
		d.Reason = ReasonOK
	}
	return d
}
