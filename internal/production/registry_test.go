package production

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func noopCompute(f *Frame, _ map[string]interface{}) (*Frame, error) { return f, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	def := &FactorDefinition{ID: "factor_a", DependsOn: []string{"sync_daily_data"}, Compute: noopCompute}

	require.NoError(t, r.Register(def))
	assert.ErrorIs(t, r.Register(def), ErrDuplicateFactor)

	require.NoError(t, r.Register(&FactorDefinition{ID: "factor_0", DependsOn: []string{"x"}, Compute: noopCompute}))

	got, err := r.Get("factor_a")
	require.NoError(t, err)
	assert.Same(t, def, got)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "factor_0", list[0].ID)

	r.Unregister("factor_a")
	r.Unregister("never_registered")
	_, err = r.Get("factor_a")
	assert.ErrorIs(t, err, ErrFactorNotFound)
	assert.Equal(t, 1, r.Len())
}

func TestFactorDefinition_Validate(t *testing.T) {
	tests := []struct {
		name string
		def  FactorDefinition
		ok   bool
	}{
		{"valid", FactorDefinition{ID: "f", DependsOn: []string{"t"}, Compute: noopCompute}, true},
		{"missing id", FactorDefinition{DependsOn: []string{"t"}, Compute: noopCompute}, false},
		{"missing compute", FactorDefinition{ID: "f", DependsOn: []string{"t"}}, false},
		{"no dependencies", FactorDefinition{ID: "f", Compute: noopCompute}, false},
		{"bad mode", FactorDefinition{ID: "f", DependsOn: []string{"t"}, Compute: noopCompute, ComputeMode: "weekly"}, false},
		{"bad target", FactorDefinition{ID: "f", DependsOn: []string{"t"}, Compute: noopCompute, Storage: StorageConfig{Target: "x;y"}}, false},
		{"custom target", FactorDefinition{ID: "f", DependsOn: []string{"t"}, Compute: noopCompute, Storage: StorageConfig{Target: "my_factor"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFactorDefinition_Defaults(t *testing.T) {
	def := FactorDefinition{}
	assert.Equal(t, models.ComputeIncremental, def.Mode())
	assert.True(t, def.Storage.IsShared())
	assert.Equal(t, []string{"ts_code", "trade_date"}, def.Storage.Keys())
}

func TestFrame(t *testing.T) {
	f := NewFrame([]Row{
		{"ts_code": "B", "trade_date": "20240103", "close": 2.0},
		{"ts_code": "A", "trade_date": "20240103", "close": "1.5"},
		{"ts_code": "A", "trade_date": "20240102", "close": int64(1)},
	})

	codes, groups := f.GroupByCode()
	assert.Equal(t, []string{"A", "B"}, codes)
	assert.Equal(t, "20240102", groups["A"][0].TradeDate())

	v, ok := groups["A"][1].Float("close")
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	_, ok = groups["A"][1].Float("missing")
	assert.False(t, ok)

	f.LeftJoin(NewFrame([]Row{
		{"ts_code": "A", "trade_date": "20240102", "close": 99.0, "pe": 12.0},
	}))
	assert.Equal(t, 12.0, f.Rows[0]["pe"])
	assert.Equal(t, int64(1), f.Rows[0]["close"], "existing columns are not overwritten")
	assert.NotContains(t, f.Rows[1], "pe")

	assert.Equal(t, 2, f.Between("20240103", "20240103").Len())
	assert.True(t, f.HasColumn("pe"))
	assert.False(t, (*Frame)(nil).HasColumn("pe"))
}
