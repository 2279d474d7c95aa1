package storage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent reports whether name is safe to use as a table or column name
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// NormalizeType maps a configured column type onto portable SQL
func NormalizeType(t string) string {
	upper := strings.ToUpper(strings.TrimSpace(t))
	if i := strings.IndexByte(upper, '('); i >= 0 {
		upper = strings.TrimSpace(upper[:i])
	}

	switch upper {
	case "DOUBLE", "DOUBLE PRECISION", "FLOAT", "FLOAT8", "REAL", "NUMERIC", "DECIMAL":
		return "DOUBLE PRECISION"
	case "INT", "INTEGER", "INT4", "SMALLINT", "SHORT":
		return "INTEGER"
	case "BIGINT", "LONG", "INT8":
		return "BIGINT"
	case "BOOL", "BOOLEAN":
		return "BOOLEAN"
	case "DATE":
		return "VARCHAR(8)"
	case "TIMESTAMP", "DATETIME":
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

// TableStore manages the dynamically-shaped tables that sync tasks and
// custom-storage factors write into
type TableStore struct {
	db *gorm.DB
}

// NewTableStore creates a new table store
func NewTableStore(db *gorm.DB) *TableStore {
	return &TableStore{db: db}
}

// HasTable reports whether table exists
func (s *TableStore) HasTable(ctx context.Context, table string) bool {
	return s.db.WithContext(ctx).Migrator().HasTable(table)
}

// EnsureTable creates table from schema when missing, otherwise adds any
// schema column the existing table lacks
func (s *TableStore) EnsureTable(ctx context.Context, table string, schema map[string]models.ColumnDef, primaryKeys []string) error {
	if !ValidIdent(table) {
		return fmt.Errorf("%w: table name %q", ErrInvalidInput, table)
	}
	for col := range schema {
		if !ValidIdent(col) {
			return fmt.Errorf("%w: column name %q", ErrInvalidInput, col)
		}
	}
	for _, pk := range primaryKeys {
		if !ValidIdent(pk) {
			return fmt.Errorf("%w: primary key %q", ErrInvalidInput, pk)
		}
	}

	if s.HasTable(ctx, table) {
		_, err := s.AddMissingColumns(ctx, table, schema)
		return err
	}

	if len(schema) == 0 {
		return fmt.Errorf("%w: table %s has no schema", ErrInvalidInput, table)
	}

	isKey := make(map[string]bool, len(primaryKeys))
	for _, pk := range primaryKeys {
		isKey[pk] = true
	}

	defs := make([]string, 0, len(schema)+1)
	for _, col := range columnOrder(schema, primaryKeys) {
		def, ok := schema[col]
		colType := "TEXT"
		if ok {
			colType = NormalizeType(def.Type)
		}
		line := quoteIdent(col) + " " + colType
		if isKey[col] || (def.Nullable != nil && !*def.Nullable) {
			line += " NOT NULL"
		}
		defs = append(defs, line)
	}
	if len(primaryKeys) > 0 {
		keys := make([]string, len(primaryKeys))
		for i, pk := range primaryKeys {
			keys[i] = quoteIdent(pk)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	log.WithFields(log.Fields{"table": table, "columns": len(defs)}).Info("Created table")
	return nil
}

// AddMissingColumns adds schema columns absent from table and returns their names
func (s *TableStore) AddMissingColumns(ctx context.Context, table string, schema map[string]models.ColumnDef) ([]string, error) {
	migrator := s.db.WithContext(ctx).Migrator()

	var added []string
	for _, col := range columnOrder(schema, nil) {
		if migrator.HasColumn(table, col) {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(col), NormalizeType(schema[col].Type))
		if err := s.db.WithContext(ctx).Exec(ddl).Error; err != nil {
			return added, fmt.Errorf("failed to add column %s.%s: %w", table, col, err)
		}
		added = append(added, col)
	}

	if len(added) > 0 {
		log.WithFields(log.Fields{"table": table, "columns": added}).Info("Added missing columns")
	}
	return added, nil
}

// Upsert writes rows keyed by primaryKeys, replacing the non-key columns of
// existing rows. It returns the number of rows written.
func (s *TableStore) Upsert(ctx context.Context, table string, rows []map[string]interface{}, primaryKeys []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if !ValidIdent(table) {
		return 0, fmt.Errorf("%w: table name %q", ErrInvalidInput, table)
	}
	if len(primaryKeys) == 0 {
		return 0, fmt.Errorf("%w: upsert into %s without primary keys", ErrInvalidInput, table)
	}

	columns := unionColumns(rows)
	isKey := make(map[string]bool, len(primaryKeys))
	conflict := make([]clause.Column, len(primaryKeys))
	for i, pk := range primaryKeys {
		isKey[pk] = true
		conflict[i] = clause.Column{Name: pk}
	}

	var updates []string
	for _, col := range columns {
		if !ValidIdent(col) {
			return 0, fmt.Errorf("%w: column name %q", ErrInvalidInput, col)
		}
		if !isKey[col] {
			updates = append(updates, col)
		}
	}

	onConflict := clause.OnConflict{Columns: conflict}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = clause.AssignmentColumns(updates)
	}

	var written int64
	for start := 0; start < len(rows); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := make([]map[string]interface{}, 0, end-start)
		for _, row := range dedupeByKey(rows[start:end], primaryKeys) {
			full := make(map[string]interface{}, len(columns))
			for _, col := range columns {
				full[col] = row[col]
			}
			batch = append(batch, full)
		}

		if err := s.db.WithContext(ctx).Table(table).Clauses(onConflict).Create(&batch).Error; err != nil {
			return written, fmt.Errorf("failed to upsert into %s: %w", table, err)
		}
		written += int64(len(batch))
	}

	return written, nil
}

// Query returns the rows of table whose dateField lies in [start, end]. An
// empty dateField returns the whole table.
func (s *TableStore) Query(ctx context.Context, table, dateField, start, end string) ([]map[string]interface{}, error) {
	if !ValidIdent(table) || (dateField != "" && !ValidIdent(dateField)) {
		return nil, fmt.Errorf("%w: query %s.%s", ErrInvalidInput, table, dateField)
	}

	query := s.db.WithContext(ctx).Table(table)
	if dateField != "" {
		query = query.Where(fmt.Sprintf("%s >= ? AND %s <= ?", quoteIdent(dateField), quoteIdent(dateField)), start, end)
	}

	var rows []map[string]interface{}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	return rows, nil
}

// Count returns the number of rows in table
func (s *TableStore) Count(ctx context.Context, table string) (int64, error) {
	if !ValidIdent(table) {
		return 0, fmt.Errorf("%w: table name %q", ErrInvalidInput, table)
	}
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// CoerceRow converts upstream values to the Go types matching schema
func CoerceRow(schema map[string]models.ColumnDef, row map[string]interface{}) {
	for col, def := range schema {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		switch NormalizeType(def.Type) {
		case "INTEGER", "BIGINT":
			switch n := v.(type) {
			case float64:
				row[col] = int64(n)
			case string:
				if i, err := strconv.ParseInt(n, 10, 64); err == nil {
					row[col] = i
				}
			}
		case "DOUBLE PRECISION":
			if s, isStr := v.(string); isStr {
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					row[col] = f
				} else {
					row[col] = nil
				}
			}
		case "BOOLEAN":
			if n, isNum := v.(float64); isNum {
				row[col] = n != 0
			}
		case "TEXT", "VARCHAR(8)":
			if n, isNum := v.(float64); isNum {
				row[col] = strconv.FormatFloat(n, 'f', -1, 64)
			}
		}
	}
}

// columnOrder lists primary keys first, then the remaining columns sorted
func columnOrder(schema map[string]models.ColumnDef, primaryKeys []string) []string {
	seen := make(map[string]bool, len(schema))
	cols := make([]string, 0, len(schema)+len(primaryKeys))
	for _, pk := range primaryKeys {
		if !seen[pk] {
			seen[pk] = true
			cols = append(cols, pk)
		}
	}

	rest := make([]string, 0, len(schema))
	for col := range schema {
		if !seen[col] {
			rest = append(rest, col)
		}
	}
	sort.Strings(rest)
	return append(cols, rest...)
}

func unionColumns(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// dedupeByKey keeps the last row of each primary key; a single statement
// cannot touch the same conflict target twice
func dedupeByKey(rows []map[string]interface{}, primaryKeys []string) []map[string]interface{} {
	index := make(map[string]int, len(rows))
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(primaryKeys))
		for i, pk := range primaryKeys {
			parts[i] = fmt.Sprint(row[pk])
		}
		key := strings.Join(parts, "\x00")
		if i, ok := index[key]; ok {
			out[i] = row
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}
