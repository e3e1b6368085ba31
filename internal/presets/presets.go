// Package presets holds named indicator configurations, built in or loaded
// from a YAML file.
package presets

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"indicator-engine/internal/indicator"

	"gopkg.in/yaml.v3"
)

// ErrUnknownPreset is returned by Get for a name that is not registered.
var ErrUnknownPreset = errors.New("unknown preset")

// Registry maps preset names to indicator configs.
type Registry struct {
	presets map[string]indicator.Config
}

// Builtin returns the presets shipped with the server.
func Builtin() *Registry {
	r := &Registry{presets: make(map[string]indicator.Config)}

	trend := indicator.DefaultConfig()
	trend.SMA20, trend.SMA50, trend.SMA200 = true, true, true
	trend.EMA12, trend.EMA26 = true, true
	r.presets["trend"] = trend

	momentum := indicator.DefaultConfig()
	momentum.RSI, momentum.MACD = true, true
	r.presets["momentum"] = momentum

	volatility := indicator.DefaultConfig()
	volatility.Bollinger, volatility.SMA20 = true, true
	r.presets["volatility"] = volatility

	all := indicator.DefaultConfig()
	all.SMA20, all.SMA50, all.SMA200 = true, true, true
	all.EMA12, all.EMA26 = true, true
	all.RSI, all.MACD, all.Bollinger = true, true, true
	r.presets["all"] = all

	return r
}

// file is the on-disk layout:
//
//	presets:
//	  scalping:
//	    ema12: true
//	    rsi: true
//	    rsiPeriod: 7
type file struct {
	Presets map[string]yaml.Node `yaml:"presets"`
}

// Parse decodes YAML presets on top of the built-in ones. Every preset
// starts from indicator.DefaultConfig, so omitted parameters keep their
// defaults, and is validated.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("presets yaml: %w", err)
	}

	r := Builtin()
	for name, node := range f.Presets {
		cfg := indicator.DefaultConfig()
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
		r.presets[name] = cfg
	}
	return r, nil
}

// Load reads presets from a YAML file. An empty path yields the built-ins.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return Parse(data)
}

// Get returns the named preset.
func (r *Registry) Get(name string) (indicator.Config, error) {
	cfg, ok := r.presets[name]
	if !ok {
		return indicator.Config{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return cfg, nil
}

// Names returns the preset names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.presets))
	for n := range r.presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// All returns a copy of every preset keyed by name.
func (r *Registry) All() map[string]indicator.Config {
	out := make(map[string]indicator.Config, len(r.presets))
	for k, v := range r.presets {
		out[k] = v
	}
	return out
}
