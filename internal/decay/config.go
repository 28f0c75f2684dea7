// Package decay implements the sector-parameterized exponential memory
// decay model: a process-wide decay parameter table (§4.B) and the
// relevance scorer that consumes it (§4.C).
package decay

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/noesis-ai/noesis/internal/model"
)

// Params is the per-sector decay parameterization: S_base must be > 0;
// S_floor is optional (zero value means "no floor").
type Params struct {
	SBase  float64 `yaml:"s_base"`
	SFloor float64 `yaml:"s_floor"`
	HasFloor bool  `yaml:"-"`
}

// defaultParams are the built-in fallback values used when no config file
// is available, the file is malformed, or any of the five sectors is
// missing from it.
func defaultParams() map[model.MemorySector]Params {
	return map[model.MemorySector]Params{
		model.MemoryEmotional:  {SBase: 200, SFloor: 150, HasFloor: true},
		model.MemoryEpisodic:   {SBase: 150, SFloor: 100, HasFloor: true},
		model.MemorySemantic:   {SBase: 100},
		model.MemoryProcedural: {SBase: 120},
		model.MemoryReflective: {SBase: 180, SFloor: 120, HasFloor: true},
	}
}

// fileSchema is the on-disk YAML shape: a flat sector -> params map.
type fileSchema map[string]struct {
	SBase  float64  `yaml:"s_base"`
	SFloor *float64 `yaml:"s_floor"`
}

// Config is the immutable, process-wide decay parameter table. Constructed
// once via Load and never mutated after that — matching the "owned by an
// explicit application context rather than ambient globals" design note:
// callers hold their own *Config rather than reaching for a package-level
// global, but the load-once-under-a-mutex shape mirrors the rest of the
// pack's singleton caches.
type Config struct {
	params map[model.MemorySector]Params
}

var (
	once     sync.Once
	instance *Config
)

// Load reads the decay table from path (if non-empty) and falls back to
// built-in defaults on any error, logging a warning. Safe to call
// concurrently; the underlying load happens exactly once regardless of how
// many callers invoke it — callers after the first receive the already
// loaded instance even if they pass a different path.
func Load(logger *slog.Logger, path string) *Config {
	once.Do(func() {
		instance = load(logger, path)
	})
	return instance
}

// NewForTest constructs a fresh, independent Config bypassing the
// process-wide singleton — per the design note, tests get their own
// instance per run rather than sharing global state.
func NewForTest(params map[model.MemorySector]Params) *Config {
	return &Config{params: params}
}

func load(logger *slog.Logger, path string) *Config {
	params, err := loadFile(path)
	if err != nil {
		if logger != nil {
			logger.Warn("decay: falling back to default config", "path", path, "error", err)
		}
		return &Config{params: defaultParams()}
	}
	return &Config{params: params}
}

func loadFile(path string) (map[model.MemorySector]Params, error) {
	if path == "" {
		return nil, fmt.Errorf("decay: no config path configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("decay: read %s: %w", path, err)
	}
	var schema fileSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("decay: parse %s: %w", path, err)
	}
	params := make(map[model.MemorySector]Params, len(schema))
	for sector, entry := range schema {
		s := model.MemorySector(sector)
		if entry.SBase <= 0 {
			return nil, fmt.Errorf("decay: sector %q has non-positive s_base", sector)
		}
		p := Params{SBase: entry.SBase}
		if entry.SFloor != nil {
			p.SFloor, p.HasFloor = *entry.SFloor, true
		}
		params[s] = p
	}
	for _, s := range model.Sectors {
		if _, ok := params[s]; !ok {
			return nil, fmt.Errorf("decay: config missing sector %q", s)
		}
	}
	return params, nil
}

// For returns the decay parameters for sector, falling back to semantic's
// parameters if sector is not present in the table.
func (c *Config) For(sector model.MemorySector) Params {
	if p, ok := c.params[sector]; ok {
		return p
	}
	return c.params[model.MemorySemantic]
}
