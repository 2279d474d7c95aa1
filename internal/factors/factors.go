// Package factors holds the built-in factor definitions.
package factors

import (
	"math"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/production"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// DailyTable is the synced daily bar table the built-ins read
const DailyTable = "sync_daily_data"

// Builtins returns the built-in factor definitions
func Builtins() []*production.FactorDefinition {
	return []*production.FactorDefinition{
		{
			ID:          "factor_ma_20",
			Description: "20-day moving average of close",
			Category:    "technical",
			DependsOn:   []string{DailyTable},
			Params:      map[string]interface{}{"window": 20, "lookback_days": 40},
			ComputeMode: models.ComputeIncremental,
			Compute:     MovingAverage,
		},
		{
			ID:          "factor_momentum_20",
			Description: "20-day close-to-close return",
			Category:    "momentum",
			DependsOn:   []string{DailyTable},
			Params:      map[string]interface{}{"window": 20, "lookback_days": 40},
			ComputeMode: models.ComputeIncremental,
			Compute:     Momentum,
		},
		{
			ID:          "factor_volatility_10",
			Description: "10-day volatility of pct_chg",
			Category:    "technical",
			DependsOn:   []string{DailyTable},
			Params:      map[string]interface{}{"window": 10, "lookback_days": 30},
			ComputeMode: models.ComputeIncremental,
			Compute:     Volatility,
		},
		{
			ID:          "factor_rsi_14",
			Description: "14-day RSI",
			Category:    "technical",
			DependsOn:   []string{DailyTable},
			Params:      map[string]interface{}{"window": 14, "lookback_days": 30},
			ComputeMode: models.ComputeFull,
			Compute:     RSI,
		},
	}
}

// RegisterBuiltins registers every built-in on registry
func RegisterBuiltins(registry *production.Registry) error {
	for _, def := range Builtins() {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// MovingAverage is the rolling mean of close over params["window"]
func MovingAverage(frame *production.Frame, params map[string]interface{}) (*production.Frame, error) {
	w := window(params, 20)
	return perStock(frame, "close", func(values []float64, i int) (float64, bool) {
		if i+1 < w {
			return 0, false
		}
		return mean(values[i+1-w : i+1])
	}), nil
}

// Momentum is close / close shifted by params["window"] minus one
func Momentum(frame *production.Frame, params map[string]interface{}) (*production.Frame, error) {
	w := window(params, 20)
	return perStock(frame, "close", func(values []float64, i int) (float64, bool) {
		if i < w {
			return 0, false
		}
		prev, cur := values[i-w], values[i]
		if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
			return 0, false
		}
		return cur/prev - 1, true
	}), nil
}

// Volatility is the rolling sample standard deviation of pct_chg
func Volatility(frame *production.Frame, params map[string]interface{}) (*production.Frame, error) {
	w := window(params, 10)
	return perStock(frame, "pct_chg", func(values []float64, i int) (float64, bool) {
		if i+1 < w {
			return 0, false
		}
		return stddev(values[i+1-w : i+1])
	}), nil
}

// RSI is the relative strength index of close over params["window"]
func RSI(frame *production.Frame, params map[string]interface{}) (*production.Frame, error) {
	w := window(params, 14)
	return perStock(frame, "close", func(values []float64, i int) (float64, bool) {
		if i < w {
			return 0, false
		}
		var gain, loss float64
		for j := i + 1 - w; j <= i; j++ {
			change := values[j] - values[j-1]
			if math.IsNaN(change) {
				return 0, false
			}
			if change > 0 {
				gain += change
			} else {
				loss -= change
			}
		}
		if loss == 0 {
			return 100, true
		}
		return 100 - 100/(1+gain/loss), true
	}), nil
}

// perStock walks each stock's rows in date order and emits one output row
// per position where fn yields a value
func perStock(frame *production.Frame, col string, fn func(values []float64, i int) (float64, bool)) *production.Frame {
	codes, groups := frame.GroupByCode()
	out := make([]production.Row, 0, frame.Len())
	for _, code := range codes {
		rows := groups[code]
		values := make([]float64, len(rows))
		for i, r := range rows {
			v, ok := r.Float(col)
			if !ok {
				v = math.NaN()
			}
			values[i] = v
		}
		for i, r := range rows {
			v, ok := fn(values, i)
			if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			out = append(out, production.Row{
				production.ColTsCode:      code,
				production.ColTradeDate:   r.TradeDate(),
				production.ColFactorValue: v,
			})
		}
	}
	return production.NewFrame(out)
}

func window(params map[string]interface{}, fallback int) int {
	switch v := params["window"].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

func mean(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range values {
		if math.IsNaN(v) {
			return 0, false
		}
		sum += v
	}
	return sum / float64(len(values)), true
}

func stddev(values []float64) (float64, bool) {
	if len(values) < 2 {
		return 0, false
	}
	m, ok := mean(values)
	if !ok {
		return 0, false
	}
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1)), true
}
