// Package production computes derived factors over synced market data.
package production

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

var (
	// ErrFactorNotFound is returned for an id missing from the registry
	ErrFactorNotFound = errors.New("factor not found")

	// ErrDuplicateFactor is returned when an id is registered twice
	ErrDuplicateFactor = errors.New("factor already registered")
)

// ComputeFunc derives factor rows from a loaded frame. Rows of the returned
// frame carry ts_code, trade_date and factor_value (or the columns of the
// factor's custom storage table).
type ComputeFunc func(frame *Frame, params map[string]interface{}) (*Frame, error)

// StorageConfig selects where a factor's output is written
type StorageConfig struct {
	// Target is the destination table, factor_values when empty
	Target string
	// Columns declares the custom table schema as column -> type
	Columns map[string]string
	// PrimaryKeys of the custom table, ts_code and trade_date when empty
	PrimaryKeys []string
}

// IsShared reports whether output goes to the shared factor value store
func (s StorageConfig) IsShared() bool {
	return s.Target == "" || s.Target == storage.FactorValuesTable
}

// Keys returns the custom table primary keys with their default
func (s StorageConfig) Keys() []string {
	if len(s.PrimaryKeys) == 0 {
		return []string{"ts_code", "trade_date"}
	}
	return s.PrimaryKeys
}

// FactorDefinition describes one computable factor
type FactorDefinition struct {
	ID          string
	Description string
	Category    string
	// DependsOn lists source tables or factor ids loaded for the compute
	DependsOn   []string
	Params      map[string]interface{}
	ComputeMode models.ComputeMode
	Storage     StorageConfig
	Compute     ComputeFunc
}

// Validate checks the definition can be registered
func (d *FactorDefinition) Validate() error {
	if d.ID == "" {
		return errors.New("factor id is required")
	}
	if d.Compute == nil {
		return fmt.Errorf("factor %s has no compute function", d.ID)
	}
	if len(d.DependsOn) == 0 {
		return fmt.Errorf("factor %s has no data dependencies", d.ID)
	}
	switch d.ComputeMode {
	case "", models.ComputeIncremental, models.ComputeFull:
	default:
		return fmt.Errorf("factor %s has invalid compute mode %q", d.ID, d.ComputeMode)
	}
	if !d.Storage.IsShared() && !storage.ValidIdent(d.Storage.Target) {
		return fmt.Errorf("factor %s has invalid storage target %q", d.ID, d.Storage.Target)
	}
	return nil
}

// Mode returns the compute mode, incremental when unset
func (d *FactorDefinition) Mode() models.ComputeMode {
	if d.ComputeMode == "" {
		return models.ComputeIncremental
	}
	return d.ComputeMode
}

// Registry maps factor ids to their definitions. It is built once at startup
// and handed to the engine.
type Registry struct {
	factors map[string]*FactorDefinition
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factors: make(map[string]*FactorDefinition)}
}

// Register adds a definition, rejecting duplicates
func (r *Registry) Register(def *FactorDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factors[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFactor, def.ID)
	}
	r.factors[def.ID] = def
	return nil
}

// MustRegister registers def and panics on error
func (r *Registry) MustRegister(def *FactorDefinition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns the definition registered under id
func (r *Registry) Get(id string) (*FactorDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.factors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFactorNotFound, id)
	}
	return def, nil
}

// List returns all definitions ordered by id
func (r *Registry) List() []*FactorDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*FactorDefinition, 0, len(r.factors))
	for _, def := range r.factors {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Unregister removes id; a missing id is ignored
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factors, id)
}

// Len returns the number of registered factors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factors)
}
