// Package pricing resolves a per-event cost in USD from a model name and
// token counts, using static per-provider pricing tables embedded at build
// time.
package pricing

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

//go:embed data/*.json
var dataFS embed.FS

const millionTokens = 1_000_000.0

// stripPrefixes are provider prefixes callers commonly pass in front of a
// bare model name (e.g. "anthropic/claude-opus-4-6").
var stripPrefixes = []string{"anthropic/", "openai/", "google/"}

// ModelPricing holds per-token costs for one model, derived from the
// embedded per-million-token data.
type ModelPricing struct {
	InputCostPerToken      float64
	OutputCostPerToken     float64
	CacheReadCostPerToken  float64
	CacheWriteCostPerToken float64
}

// TokenCounts is the set of token buckets a cost calculation considers.
type TokenCounts struct {
	Input      int64
	Output     int64
	CacheRead  int64
	CacheWrite int64
}

// Registry is an immutable, process-wide lookup table built once from the
// embedded pricing data files.
type Registry struct {
	models  map[string]ModelPricing
	aliases map[string]string
}

type dataFileModel struct {
	Aliases               []string `json:"aliases"`
	InputCostPerMTok      float64  `json:"inputCostPerMTok"`
	OutputCostPerMTok     float64  `json:"outputCostPerMTok"`
	CacheReadCostPerMTok  float64  `json:"cacheReadCostPerMTok"`
	CacheWriteCostPerMTok float64  `json:"cacheWriteCostPerMTok"`
}

type dataFile struct {
	Models map[string]dataFileModel `json:"models"`
}

var (
	registryOnce sync.Once
	registry     *Registry
	loadErr      error
)

// Global returns the process-wide pricing registry, building it from the
// embedded data files on first use.
func Global() *Registry {
	registryOnce.Do(func() {
		registry, loadErr = load()
	})
	if loadErr != nil {
		// The embedded data is part of the binary; a load failure here means
		// the build itself is broken, not a runtime condition callers can
		// recover from.
		panic(fmt.Sprintf("pricing: failed to load embedded data: %v", loadErr))
	}
	return registry
}

func load() (*Registry, error) {
	entries, err := dataFS.ReadDir("data")
	if err != nil {
		return nil, fmt.Errorf("reading embedded pricing dir: %w", err)
	}

	reg := &Registry{
		models:  make(map[string]ModelPricing),
		aliases: make(map[string]string),
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := dataFS.ReadFile("data/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		var file dataFile
		if err := json.Unmarshal(raw, &file); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}
		for name, model := range file.Models {
			reg.models[name] = ModelPricing{
				InputCostPerToken:      model.InputCostPerMTok / millionTokens,
				OutputCostPerToken:     model.OutputCostPerMTok / millionTokens,
				CacheReadCostPerToken:  model.CacheReadCostPerMTok / millionTokens,
				CacheWriteCostPerToken: model.CacheWriteCostPerMTok / millionTokens,
			}
			for _, alias := range model.Aliases {
				reg.aliases[alias] = name
			}
		}
	}

	return reg, nil
}

// Lookup resolves a model name (stripping known provider prefixes, then
// trying a direct match and finally an alias) to its pricing entry.
func (r *Registry) Lookup(modelName string) (ModelPricing, bool) {
	name := strings.TrimSpace(modelName)
	for _, prefix := range stripPrefixes {
		name = strings.TrimPrefix(name, prefix)
	}

	if model, ok := r.models[name]; ok {
		return model, true
	}
	if canonical, ok := r.aliases[name]; ok {
		if model, ok := r.models[canonical]; ok {
			return model, true
		}
	}
	return ModelPricing{}, false
}

// CalculateCost returns the total cost in USD for the given model and token
// counts, or ok=false when the model is unknown. It never errors: an
// unpriceable model is a normal outcome, not a failure.
func CalculateCost(modelName string, tokens TokenCounts) (cost float64, ok bool) {
	model, found := Global().Lookup(modelName)
	if !found {
		return 0, false
	}
	cost = float64(tokens.Input)*model.InputCostPerToken +
		float64(tokens.Output)*model.OutputCostPerToken +
		float64(tokens.CacheRead)*model.CacheReadCostPerToken +
		float64(tokens.CacheWrite)*model.CacheWriteCostPerToken
	return cost, true
}
