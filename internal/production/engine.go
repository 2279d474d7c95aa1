package production

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Messages recorded on the run audit for no-op outcomes
const (
	MsgNoData      = "no data in date range"
	MsgEmptyResult = "empty result"
	MsgUpToDate    = "already up to date"
)

const (
	defaultWindow = 20
	factorPrefix  = "factor_"
)

// ErrNoData is returned when no source rows exist for the load window
var ErrNoData = errors.New(MsgNoData)

// Config holds the global defaults of the engine
type Config struct {
	Preprocess   models.PreprocessOptions
	LookbackDays int
	// DefaultStart is the first calc date of a full run without a start date
	DefaultStart string
}

// DefaultConfig returns the global engine defaults
func DefaultConfig() Config {
	return Config{
		Preprocess:   models.DefaultPreprocess(),
		LookbackDays: 60,
		DefaultStart: "20100101",
	}
}

// RunOptions are the per-call overrides of RunTask
type RunOptions struct {
	TargetDate string
	StartDate  string
	EndDate    string
	// Mode overrides the factor's compute mode when set
	Mode models.ComputeMode
	// Preprocess overrides every other preprocess layer
	Preprocess map[string]interface{}
}

// RunResult summarizes one RunTask call
type RunResult struct {
	FactorID     string                   `json:"factor_id"`
	Success      bool                     `json:"success"`
	Mode         models.ComputeMode       `json:"mode"`
	Window       Window                   `json:"window"`
	Preprocess   models.PreprocessOptions `json:"preprocess"`
	RowsLoaded   int                      `json:"rows_loaded"`
	RowsAffected int64                    `json:"rows_affected"`
	Message      string                   `json:"message,omitempty"`
}

// Window is the resolved date range of a run
type Window struct {
	CalcStart string `json:"calc_start"`
	CalcEnd   string `json:"calc_end"`
	// DataStart is CalcStart moved back by the lookback
	DataStart string `json:"data_start"`
	UpToDate  bool   `json:"up_to_date,omitempty"`
}

// FactorSummary is the listing view of a registered factor
type FactorSummary struct {
	FactorID         string                 `json:"factor_id"`
	Description      string                 `json:"description"`
	Category         string                 `json:"category"`
	ComputeMode      models.ComputeMode     `json:"compute_mode"`
	DependsOn        []string               `json:"depends_on"`
	StorageTarget    string                 `json:"storage_target"`
	Params           map[string]interface{} `json:"params"`
	LastComputedDate string                 `json:"last_computed_date,omitempty"`
	LastComputedAt   *time.Time             `json:"last_computed_at,omitempty"`
}

// Engine is the factor-production executor
type Engine struct {
	registry *Registry
	repo     storage.FactorRepository
	tables   *storage.TableStore
	refs     *storage.ReferenceStore
	metrics  *metrics.Recorder
	cfg      Config
	now      func() time.Time
}

// NewEngine creates a new factor-production engine
func NewEngine(registry *Registry, repo storage.FactorRepository, tables *storage.TableStore, recorder *metrics.Recorder, cfg Config) *Engine {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultConfig().LookbackDays
	}
	if cfg.DefaultStart == "" {
		cfg.DefaultStart = DefaultConfig().DefaultStart
	}
	return &Engine{
		registry: registry,
		repo:     repo,
		tables:   tables,
		refs:     storage.NewReferenceStore(tables),
		metrics:  recorder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source used to resolve "today"
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Registry returns the registry the engine resolves factors from
func (e *Engine) Registry() *Registry {
	return e.registry
}

// RunTask computes one factor. The returned error is nil exactly when
// RunResult.Success is true.
func (e *Engine) RunTask(ctx context.Context, factorID string, opts RunOptions) (*RunResult, error) {
	result := &RunResult{FactorID: factorID}

	def, err := e.registry.Get(factorID)
	if err != nil {
		log.WithField("factor_id", factorID).Error("Factor not registered")
		return result, err
	}

	startedAt := e.now()
	result.Mode = def.Mode()
	if opts.Mode != "" {
		result.Mode = opts.Mode
	}

	rows, msg, runErr := e.run(ctx, def, opts, result)
	result.RowsAffected = rows
	result.Message = msg

	status := models.StateSuccess
	errMsg := msg
	if runErr != nil {
		status = models.StateFailed
		errMsg = runErr.Error()
		log.WithField("factor_id", factorID).WithError(runErr).Error("Factor computation failed")
	} else {
		result.Success = true
	}

	elapsed := e.now().Sub(startedAt)
	e.recordRun(ctx, def.ID, result, status, errMsg, startedAt, elapsed)
	e.metrics.FactorFinished(def.ID, string(status), rows, elapsed)

	return result, runErr
}

func (e *Engine) run(ctx context.Context, def *FactorDefinition, opts RunOptions, result *RunResult) (int64, string, error) {
	logger := log.WithFields(log.Fields{"factor_id": def.ID, "mode": result.Mode})

	for _, d := range []*string{&opts.TargetDate, &opts.StartDate, &opts.EndDate} {
		normalized, err := tradedate.Normalize(*d)
		if err != nil {
			return 0, "", err
		}
		*d = normalized
	}

	meta, err := e.repo.GetMetadata(ctx, def.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.WithError(err).Warn("Failed to read factor metadata")
	}
	var metaLayer map[string]interface{}
	last := ""
	if meta != nil {
		metaLayer = meta.Preprocess
		last = meta.LastComputedDate
	}

	pp, err := ResolvePreprocess(e.cfg.Preprocess, preprocessLayer(def.Params), metaLayer, opts.Preprocess)
	if err != nil {
		return 0, "", err
	}
	result.Preprocess = pp

	cal, err := e.refs.LoadCalendar(ctx)
	if err != nil {
		logger.WithError(err).Warn("Trading calendar unavailable, using calendar-day offsets")
		cal = tradedate.NewCalendar(nil)
	}

	lookback := intParam(def.Params, "lookback_days", e.cfg.LookbackDays)
	window, err := ResolveWindow(result.Mode, opts, last, tradedate.Today(e.now()), e.cfg.DefaultStart, lookback, cal)
	if err != nil {
		return 0, "", err
	}
	result.Window = window
	if window.UpToDate {
		logger.Info("Factor already up to date")
		return 0, MsgUpToDate, nil
	}

	logger.WithFields(log.Fields{
		"calc_start": window.CalcStart,
		"calc_end":   window.CalcEnd,
		"data_start": window.DataStart,
	}).Info("Starting factor computation")

	source, err := e.loadSources(ctx, def, window.DataStart, window.CalcEnd)
	if err != nil {
		return 0, "", err
	}
	if source.Empty() {
		logger.Warn("No source data in load window")
		return 0, "", ErrNoData
	}
	result.RowsLoaded = source.Len()

	if pp.AdjustPrice != models.AdjustNone && source.HasColumn("close") {
		e.adjust(ctx, source, window, pp.AdjustPrice)
	}

	source, err = e.filterStocks(ctx, source, window.DataStart, pp, cal)
	if err != nil {
		logger.WithError(err).Warn("Stock filter skipped")
	}

	if pp.MarkLimit && source.HasColumn("open") {
		MarkLimits(source)
	}

	out, err := safeCompute(def, source)
	if err != nil {
		return 0, "", err
	}
	if out.Empty() {
		logger.Warn("Factor returned empty result")
		return 0, MsgEmptyResult, nil
	}

	suppressed := map[rowKey]bool{}
	if pp.HandleSuspension && out.HasColumn(ColFactorValue) && cal.IsLoaded() {
		span := intParam(def.Params, "window", defaultWindow)
		suppressed = PostSuspensionKeys(source, cal.Between(window.DataStart, window.CalcEnd), span)
	}

	out = out.Between(window.CalcStart, window.CalcEnd)
	flags := sourceFlags(source)
	for _, r := range out.Rows {
		k := r.key()
		q := flags[k]
		if suppressed[k] {
			r[ColFactorValue] = nil
			q |= models.QualityPostSuspension
		}
		r["quality_flag"] = int32(q)
	}

	rows, err := e.save(ctx, def, out, suppressed)
	if err != nil {
		return 0, "", err
	}

	e.updateMetadata(ctx, def, meta, window.CalcEnd)
	logger.WithField("rows", rows).Info("Factor computation completed")
	return rows, "", nil
}

// ResolveWindow computes the calc range and load start of a run. Full mode
// spans [start or defaultStart, end or today] and only looks back when a
// start was given. Incremental mode continues from the day after last.
func ResolveWindow(mode models.ComputeMode, opts RunOptions, last, today, defaultStart string, lookback int, cal *tradedate.Calendar) (Window, error) {
	var w Window

	if mode == models.ComputeFull {
		w.CalcStart = firstNonEmpty(opts.StartDate, defaultStart)
		w.CalcEnd = firstNonEmpty(opts.EndDate, today)
		if w.CalcStart > w.CalcEnd {
			return w, fmt.Errorf("start date %s is after end date %s", w.CalcStart, w.CalcEnd)
		}
		w.DataStart = w.CalcStart
		if opts.StartDate != "" {
			d, _, err := cal.OffsetOrApprox(w.CalcStart, -lookback)
			if err != nil {
				return w, err
			}
			w.DataStart = d
		}
		return w, nil
	}

	switch {
	case opts.TargetDate != "":
		w.CalcStart = opts.TargetDate
		w.CalcEnd = firstNonEmpty(opts.EndDate, opts.TargetDate)
	case opts.StartDate != "":
		w.CalcStart = opts.StartDate
		w.CalcEnd = firstNonEmpty(opts.EndDate, today)
	default:
		w.CalcStart = today
		if last != "" {
			next, err := tradedate.AddDays(last, 1)
			if err != nil {
				return w, err
			}
			w.CalcStart = next
		}
		w.CalcEnd = today
	}

	if w.CalcStart > w.CalcEnd {
		w.UpToDate = true
		return w, nil
	}

	d, _, err := cal.OffsetOrApprox(w.CalcStart, -lookback)
	if err != nil {
		return w, err
	}
	w.DataStart = d
	return w, nil
}

// loadSources loads every dependency for [start, end] and left-joins them on
// (ts_code, trade_date) onto the first non-empty one
func (e *Engine) loadSources(ctx context.Context, def *FactorDefinition, start, end string) (*Frame, error) {
	var merged *Frame
	for _, dep := range def.DependsOn {
		var frame *Frame
		if strings.HasPrefix(dep, factorPrefix) {
			values, err := e.repo.LoadValues(ctx, dep, start, end)
			if err != nil {
				return nil, err
			}
			rows := make([]Row, 0, len(values))
			for _, v := range values {
				row := Row{ColTsCode: v.TsCode, ColTradeDate: v.TradeDate, dep: nil}
				if v.FactorValue != nil {
					row[dep] = *v.FactorValue
				}
				rows = append(rows, row)
			}
			frame = NewFrame(rows)
		} else {
			if !e.tables.HasTable(ctx, dep) {
				log.WithFields(log.Fields{"factor_id": def.ID, "table": dep}).Warn("Source table missing")
				continue
			}
			maps, err := e.tables.Query(ctx, dep, ColTradeDate, start, end)
			if err != nil {
				return nil, err
			}
			frame = FrameFromMaps(maps)
		}

		if frame.Empty() {
			continue
		}
		if merged == nil {
			merged = frame
		} else {
			merged.LeftJoin(frame)
		}
	}

	if merged == nil {
		return NewFrame(nil), nil
	}
	merged.Sort()
	return merged, nil
}

func (e *Engine) adjust(ctx context.Context, source *Frame, w Window, mode models.AdjustMode) {
	if !e.tables.HasTable(ctx, storage.AdjFactorTable) {
		log.Warn("Adjustment factors missing, using raw prices")
		return
	}
	maps, err := e.tables.Query(ctx, storage.AdjFactorTable, ColTradeDate, w.DataStart, w.CalcEnd)
	if err != nil {
		log.WithError(err).Warn("Failed to load adjustment factors, using raw prices")
		return
	}
	adj := FrameFromMaps(maps)
	if adj.Empty() {
		log.Warn("Adjustment factors empty, using raw prices")
		return
	}
	AdjustPrices(source, adj, mode)
}

func (e *Engine) filterStocks(ctx context.Context, source *Frame, dataStart string, pp models.PreprocessOptions, cal *tradedate.Calendar) (*Frame, error) {
	stocks, err := e.refs.LoadStocks(ctx)
	if err != nil {
		return source, err
	}
	if len(stocks) == 0 {
		return source, nil
	}

	cutoff, _, err := cal.OffsetOrApprox(dataStart, -pp.NewStockDays)
	if err != nil {
		return source, err
	}

	out, res := StockFilter{Stocks: stocks, IPOCutoff: cutoff}.Apply(source, pp.FilterST, pp.FilterNewStock)
	if res.RowsRemoved > 0 || res.FlaggedAsIPO > 0 {
		log.WithFields(log.Fields{
			"st_codes":     res.STCodes,
			"new_codes":    res.NewCodes,
			"rows_removed": res.RowsRemoved,
			"ipo_flagged":  res.FlaggedAsIPO,
		}).Info("Filtered special stocks")
	}
	return out, nil
}

func safeCompute(def *FactorDefinition, source *Frame) (out *Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factor %s panicked: %v", def.ID, r)
		}
	}()
	out, err = def.Compute(source, def.Params)
	if err != nil {
		return nil, fmt.Errorf("factor %s compute failed: %w", def.ID, err)
	}
	return out, nil
}

func (e *Engine) save(ctx context.Context, def *FactorDefinition, out *Frame, suppressed map[rowKey]bool) (int64, error) {
	if def.Storage.IsShared() {
		values := make([]storage.FactorValueModel, 0, out.Len())
		for _, r := range out.Rows {
			if r.TsCode() == "" || r.TradeDate() == "" {
				continue
			}
			v, ok := r.Float(ColFactorValue)
			if ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
				ok = false
			}
			if !ok && !suppressed[r.key()] {
				continue
			}
			model := storage.FactorValueModel{
				TsCode:      r.TsCode(),
				TradeDate:   r.TradeDate(),
				FactorID:    def.ID,
				QualityFlag: r["quality_flag"].(int32),
			}
			if ok {
				model.FactorValue = &v
			}
			values = append(values, model)
		}
		return e.repo.UpsertValues(ctx, values)
	}

	return e.saveCustom(ctx, def, out)
}

func (e *Engine) saveCustom(ctx context.Context, def *FactorDefinition, out *Frame) (int64, error) {
	target := def.Storage.Target
	keys := def.Storage.Keys()

	if len(def.Storage.Columns) > 0 {
		schema := make(map[string]models.ColumnDef, len(def.Storage.Columns))
		for col, typ := range def.Storage.Columns {
			nullable := !contains(keys, col)
			schema[col] = models.ColumnDef{Type: typ, Nullable: &nullable}
		}
		if err := e.tables.EnsureTable(ctx, target, schema, keys); err != nil {
			return 0, err
		}
	} else if !e.tables.HasTable(ctx, target) {
		return 0, fmt.Errorf("custom table %s does not exist and declares no columns", target)
	}

	rows := make([]map[string]interface{}, 0, out.Len())
	for _, r := range out.Rows {
		row := make(map[string]interface{}, len(r))
		for col, v := range r {
			if strings.HasPrefix(col, "_") {
				continue
			}
			if len(def.Storage.Columns) > 0 {
				if _, declared := def.Storage.Columns[col]; !declared {
					continue
				}
			}
			row[col] = v
		}
		rows = append(rows, row)
	}
	return e.tables.Upsert(ctx, target, rows, keys)
}

// updateMetadata records the computed end date. A user-set preprocess
// override on the existing row is preserved.
func (e *Engine) updateMetadata(ctx context.Context, def *FactorDefinition, existing *storage.FactorMetadataModel, lastDate string) {
	now := e.now()
	meta := &storage.FactorMetadataModel{
		FactorID:         def.ID,
		Description:      def.Description,
		Category:         def.Category,
		ComputeMode:      string(def.Mode()),
		StorageTarget:    storageTarget(def),
		Params:           storage.JSONB(def.Params),
		LastComputedDate: lastDate,
		LastComputedAt:   &now,
		UpdatedAt:        now,
	}
	if existing != nil {
		meta.Preprocess = existing.Preprocess
	}
	if err := e.repo.SaveMetadata(ctx, meta); err != nil {
		log.WithField("factor_id", def.ID).WithError(err).Warn("Failed to update factor metadata")
	}
}

func (e *Engine) recordRun(ctx context.Context, factorID string, res *RunResult, status models.State, msg string, startedAt time.Time, elapsed time.Duration) {
	finished := startedAt.Add(elapsed)
	err := e.repo.AppendRun(ctx, &storage.FactorTaskRunModel{
		FactorID:        factorID,
		Mode:            string(res.Mode),
		Status:          string(status),
		StartDate:       res.Window.CalcStart,
		EndDate:         res.Window.CalcEnd,
		RowsAffected:    res.RowsAffected,
		DurationSeconds: elapsed.Seconds(),
		ErrorMessage:    msg,
		StartedAt:       startedAt,
		FinishedAt:      &finished,
		CreatedAt:       finished,
	})
	if err != nil {
		log.WithField("factor_id", factorID).WithError(err).Warn("Failed to record factor run")
	}
}

// UpdatePreprocess persists a per-factor preprocess override and returns the
// settings a run without explicit overrides would use. An empty map clears it.
func (e *Engine) UpdatePreprocess(ctx context.Context, factorID string, overrides map[string]interface{}) (models.PreprocessOptions, error) {
	def, err := e.registry.Get(factorID)
	if err != nil {
		return models.PreprocessOptions{}, err
	}
	resolved, err := ResolvePreprocess(e.cfg.Preprocess, preprocessLayer(def.Params), overrides)
	if err != nil {
		return models.PreprocessOptions{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	meta, err := e.repo.GetMetadata(ctx, factorID)
	if errors.Is(err, storage.ErrNotFound) {
		meta = &storage.FactorMetadataModel{
			FactorID:      def.ID,
			Description:   def.Description,
			Category:      def.Category,
			ComputeMode:   string(def.Mode()),
			StorageTarget: storageTarget(def),
			Params:        storage.JSONB(def.Params),
		}
	} else if err != nil {
		return models.PreprocessOptions{}, err
	}

	meta.Preprocess = storage.JSONB(overrides)
	meta.UpdatedAt = e.now()
	if err := e.repo.SaveMetadata(ctx, meta); err != nil {
		return models.PreprocessOptions{}, err
	}

	log.WithFields(log.Fields{"factor_id": factorID, "preprocess": overrides}).Info("Factor preprocess override updated")
	return resolved, nil
}

// ListFactors summarizes every registered factor with its last computed date
func (e *Engine) ListFactors(ctx context.Context) ([]FactorSummary, error) {
	metas, err := e.repo.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]storage.FactorMetadataModel, len(metas))
	for _, m := range metas {
		byID[m.FactorID] = m
	}

	defs := e.registry.List()
	out := make([]FactorSummary, 0, len(defs))
	for _, def := range defs {
		s := FactorSummary{
			FactorID:      def.ID,
			Description:   def.Description,
			Category:      def.Category,
			ComputeMode:   def.Mode(),
			DependsOn:     def.DependsOn,
			StorageTarget: storageTarget(def),
			Params:        def.Params,
		}
		if m, ok := byID[def.ID]; ok {
			s.LastComputedDate = m.LastComputedDate
			s.LastComputedAt = m.LastComputedAt
		}
		out = append(out, s)
	}
	return out, nil
}

// GetFactorRuns returns the most recent run-audit records of a factor
func (e *Engine) GetFactorRuns(ctx context.Context, factorID string, limit int) ([]*models.FactorRun, error) {
	return e.repo.ListRuns(ctx, factorID, limit)
}

func storageTarget(def *FactorDefinition) string {
	if def.Storage.IsShared() {
		return storage.FactorValuesTable
	}
	return def.Storage.Target
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
