package production

import (
	"fmt"
	"sort"
	"strconv"
)

// Key columns of every market data frame
const (
	ColTsCode      = "ts_code"
	ColTradeDate   = "trade_date"
	ColFactorValue = "factor_value"
)

// Row is one record of a frame keyed by column name
type Row map[string]interface{}

// Float returns col as a float64. ok is false for missing, nil or
// non-numeric values.
func (r Row) Float(col string) (float64, bool) {
	switch v := r[col].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String returns col as text, empty when missing
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

// TsCode returns the row's stock code
func (r Row) TsCode() string { return r.String(ColTsCode) }

// TradeDate returns the row's trade date
func (r Row) TradeDate() string { return r.String(ColTradeDate) }

func (r Row) key() rowKey {
	return rowKey{code: r.TsCode(), date: r.TradeDate()}
}

type rowKey struct {
	code string
	date string
}

// Frame is an in-memory table of rows
type Frame struct {
	Rows []Row
}

// NewFrame wraps rows in a frame
func NewFrame(rows []Row) *Frame {
	return &Frame{Rows: rows}
}

// FrameFromMaps converts store query results into a frame
func FrameFromMaps(maps []map[string]interface{}) *Frame {
	rows := make([]Row, len(maps))
	for i, m := range maps {
		rows[i] = Row(m)
	}
	return &Frame{Rows: rows}
}

// Len returns the number of rows
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Empty reports whether the frame has no rows
func (f *Frame) Empty() bool {
	return f.Len() == 0
}

// HasColumn reports whether any row carries col
func (f *Frame) HasColumn(col string) bool {
	if f == nil {
		return false
	}
	for _, r := range f.Rows {
		if _, ok := r[col]; ok {
			return true
		}
	}
	return false
}

// Sort orders rows by (ts_code, trade_date)
func (f *Frame) Sort() {
	sort.SliceStable(f.Rows, func(i, j int) bool {
		a, b := f.Rows[i], f.Rows[j]
		if ca, cb := a.TsCode(), b.TsCode(); ca != cb {
			return ca < cb
		}
		return a.TradeDate() < b.TradeDate()
	})
}

// Filter returns a frame with the rows keep accepts
func (f *Frame) Filter(keep func(Row) bool) *Frame {
	out := make([]Row, 0, f.Len())
	for _, r := range f.Rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return &Frame{Rows: out}
}

// GroupByCode sorts the frame and returns the rows of each stock in date
// order, along with the codes in sorted order
func (f *Frame) GroupByCode() ([]string, map[string][]Row) {
	f.Sort()
	codes := make([]string, 0)
	groups := make(map[string][]Row)
	for _, r := range f.Rows {
		code := r.TsCode()
		if _, ok := groups[code]; !ok {
			codes = append(codes, code)
		}
		groups[code] = append(groups[code], r)
	}
	return codes, groups
}

// LeftJoin copies into f the columns of other that f does not already carry,
// matching rows on (ts_code, trade_date)
func (f *Frame) LeftJoin(other *Frame) {
	if other.Empty() {
		return
	}

	index := make(map[rowKey]Row, other.Len())
	for _, r := range other.Rows {
		index[r.key()] = r
	}

	existing := make(map[string]bool)
	for _, r := range f.Rows {
		for col := range r {
			existing[col] = true
		}
	}

	for _, r := range f.Rows {
		match, ok := index[r.key()]
		if !ok {
			continue
		}
		for col, v := range match {
			if !existing[col] {
				r[col] = v
			}
		}
	}
}

// Between returns the rows whose trade_date lies in [start, end]
func (f *Frame) Between(start, end string) *Frame {
	return f.Filter(func(r Row) bool {
		d := r.TradeDate()
		return d >= start && d <= end
	})
}
