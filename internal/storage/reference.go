package storage

import (
	"context"
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
)

// Reference tables filled by the default sync tasks
const (
	TradeCalTable   = "sync_trade_cal"
	StockBasicTable = "sync_stock_basic"
	AdjFactorTable  = "sync_adj_factor"
)

// StockInfo is the listing data used to filter a stock universe
type StockInfo struct {
	TsCode   string
	Name     string
	ListDate string
}

// ReferenceStore reads the market reference tables
type ReferenceStore struct {
	tables *TableStore
}

// NewReferenceStore creates a new reference store
func NewReferenceStore(tables *TableStore) *ReferenceStore {
	return &ReferenceStore{tables: tables}
}

// LoadCalendar reads open days from the trade calendar table. A missing
// table yields an empty calendar.
func (s *ReferenceStore) LoadCalendar(ctx context.Context) (*tradedate.Calendar, error) {
	if !s.tables.HasTable(ctx, TradeCalTable) {
		return tradedate.NewCalendar(nil), nil
	}

	var days []string
	err := s.tables.db.WithContext(ctx).
		Table(TradeCalTable).
		Where("is_open = ?", 1).
		Distinct().
		Pluck("cal_date", &days).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load trade calendar: %w", err)
	}

	return tradedate.NewCalendar(days), nil
}

// LoadStocks returns listing info keyed by ts_code. A missing table yields
// an empty map.
func (s *ReferenceStore) LoadStocks(ctx context.Context) (map[string]StockInfo, error) {
	stocks := make(map[string]StockInfo)
	if !s.tables.HasTable(ctx, StockBasicTable) {
		return stocks, nil
	}

	var rows []StockInfo
	err := s.tables.db.WithContext(ctx).
		Table(StockBasicTable).
		Select("ts_code, name, list_date").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load stock basics: %w", err)
	}

	for _, row := range rows {
		stocks[row.TsCode] = row
	}
	return stocks, nil
}
