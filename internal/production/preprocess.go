package production

import (
	"fmt"
	"math"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Marker columns set on source rows during preprocessing
const (
	markLimit     = "_limit"
	markLowVolume = "_low_volume"
	markIPO       = "_ipo"
)

const (
	// limitMovePct is the |pct_chg| treated as a price-limit move
	limitMovePct = 9.5
	// nearZeroVolume is the volume below which a limit move counts as sealed
	nearZeroVolume = 1.0
	// lowVolume flags thinly traded bars (volume in lots)
	lowVolume = 100.0
)

var priceColumns = []string{"open", "high", "low", "close"}

// ResolvePreprocess merges preprocess overrides onto base. Layers are applied
// in order, so later layers win; a nil layer is skipped.
func ResolvePreprocess(base models.PreprocessOptions, layers ...map[string]interface{}) (models.PreprocessOptions, error) {
	opts := base
	for _, layer := range layers {
		if len(layer) == 0 {
			continue
		}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &opts,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return opts, err
		}
		if err := decoder.Decode(layer); err != nil {
			return opts, fmt.Errorf("invalid preprocess options: %w", err)
		}
	}

	switch opts.AdjustPrice {
	case models.AdjustNone, models.AdjustForward, models.AdjustBackward:
	default:
		return opts, fmt.Errorf("invalid adjust_price %q", opts.AdjustPrice)
	}
	if opts.NewStockDays < 0 {
		return opts, fmt.Errorf("invalid new_stock_days %d", opts.NewStockDays)
	}
	return opts, nil
}

// preprocessLayer extracts params["preprocess"] as a map
func preprocessLayer(params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return nil
	}
	switch v := params["preprocess"].(type) {
	case map[string]interface{}:
		return v
	case storage.JSONB:
		return v
	default:
		return nil
	}
}

// AdjustPrices rescales OHLC columns by adj_factor relative to the latest
// (forward) or earliest (backward) factor of each stock. Rows without an
// adjustment factor keep their raw prices.
func AdjustPrices(frame *Frame, adj *Frame, mode models.AdjustMode) {
	if mode == models.AdjustNone || adj.Empty() || frame.Empty() {
		return
	}

	factors := make(map[rowKey]float64, adj.Len())
	for _, r := range adj.Rows {
		if v, ok := r.Float("adj_factor"); ok && v > 0 {
			factors[r.key()] = v
		}
	}

	_, groups := frame.GroupByCode()
	for _, rows := range groups {
		base := 0.0
		for i := range rows {
			idx := i
			if mode == models.AdjustForward {
				idx = len(rows) - 1 - i
			}
			if v, ok := factors[rows[idx].key()]; ok {
				base = v
				break
			}
		}
		if base == 0 {
			continue
		}

		for _, r := range rows {
			f, ok := factors[r.key()]
			if !ok {
				continue
			}
			for _, col := range priceColumns {
				if p, ok := r.Float(col); ok {
					r[col] = p * f / base
				}
			}
		}
	}
}

// StockFilter excludes special stocks from a frame
type StockFilter struct {
	Stocks map[string]storage.StockInfo
	// IPOCutoff excludes stocks listed after this date
	IPOCutoff string
}

// FilterResult counts what a filter removed
type FilterResult struct {
	STCodes      int
	NewCodes     int
	RowsRemoved  int
	FlaggedAsIPO int
}

// Apply drops ST names when filterST is set. Stocks listed after IPOCutoff are
// dropped when filterNew is set and marked for the IPO quality bit otherwise.
func (s StockFilter) Apply(frame *Frame, filterST, filterNew bool) (*Frame, FilterResult) {
	var res FilterResult
	if len(s.Stocks) == 0 || frame.Empty() {
		return frame, res
	}

	exclude := make(map[string]bool)
	newStocks := make(map[string]bool)
	for code, info := range s.Stocks {
		if filterST && strings.Contains(info.Name, "ST") {
			exclude[code] = true
			res.STCodes++
		}
		if s.IPOCutoff != "" && info.ListDate != "" && info.ListDate > s.IPOCutoff {
			newStocks[code] = true
			if filterNew {
				exclude[code] = true
				res.NewCodes++
			}
		}
	}

	before := frame.Len()
	out := frame.Filter(func(r Row) bool { return !exclude[r.TsCode()] })
	res.RowsRemoved = before - out.Len()

	if !filterNew {
		for _, r := range out.Rows {
			if newStocks[r.TsCode()] {
				r[markIPO] = true
				res.FlaggedAsIPO++
			}
		}
	}
	return out, res
}

// MarkLimits tags limit-up and limit-down bars: flat OHLC with a nonzero
// move, or a limit-sized move on near-zero volume. Thin volume is tagged
// separately.
func MarkLimits(frame *Frame) {
	for _, r := range frame.Rows {
		pct, hasPct := r.Float("pct_chg")
		vol, hasVol := r.Float("vol")

		if hasVol && vol < lowVolume {
			r[markLowVolume] = true
		}
		if !hasPct || pct == 0 {
			continue
		}

		sealed := isFlatBar(r) || (math.Abs(pct) >= limitMovePct && hasVol && vol < nearZeroVolume)
		if !sealed {
			continue
		}
		if pct > 0 {
			r[markLimit] = 1
		} else {
			r[markLimit] = -1
		}
	}
}

func isFlatBar(r Row) bool {
	first, ok := r.Float(priceColumns[0])
	if !ok {
		return false
	}
	for _, col := range priceColumns[1:] {
		v, ok := r.Float(col)
		if !ok || v != first {
			return false
		}
	}
	return true
}

// sourceFlags derives per-row quality bits from the markers on source rows
func sourceFlags(frame *Frame) map[rowKey]models.QualityFlag {
	flags := make(map[rowKey]models.QualityFlag)
	for _, r := range frame.Rows {
		var q models.QualityFlag
		switch r[markLimit] {
		case 1:
			q |= models.QualityLimitUp
		case -1:
			q |= models.QualityLimitDown
		}
		if r[markLowVolume] == true {
			q |= models.QualityLowVolume
		}
		if r[markIPO] == true {
			q |= models.QualityIPOPeriod
		}
		if q != models.QualityNormal {
			flags[r.key()] |= q
		}
	}
	return flags
}

// PostSuspensionKeys finds, per stock in source, each resumption after a
// trading-day gap and returns the keys of the window trading rows starting
// at the resumption
func PostSuspensionKeys(source *Frame, tradingDays []string, window int) map[rowKey]bool {
	keys := make(map[rowKey]bool)
	if len(tradingDays) == 0 || window <= 0 {
		return keys
	}

	position := make(map[string]int, len(tradingDays))
	for i, d := range tradingDays {
		position[d] = i
	}

	_, groups := source.GroupByCode()
	for _, rows := range groups {
		prev := -1
		remaining := 0
		for _, r := range rows {
			pos, ok := position[r.TradeDate()]
			if !ok {
				continue
			}
			if prev >= 0 && pos-prev > 1 {
				remaining = window
			}
			prev = pos

			if remaining > 0 {
				keys[r.key()] = true
				remaining--
			}
		}
	}
	return keys
}
