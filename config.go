package voxmarch

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config keys read by the render pipeline.
const (
	KeyRaytracerSamples     = "renderer_raytracer_samples"
	KeyRaytracerDoLighting  = "renderer_raytracer_do_lighting"
	KeyRaytracerMaxSteps    = "renderer_raytracer_max_steps"
	KeyDenoiserFiltering    = "renderer_denoiser_enable_filtering"
	KeyDenoiserReprojection = "renderer_denoiser_reprojection_percent"
	KeyDenoiserBlurStrength = "renderer_denoiser_edge_avoiding_blur_strength"
	KeyFOV                  = "renderer_fov"
)

var ErrMissingKey = errors.New("config: missing key")

type ValueKind uint8

const (
	ValueBool ValueKind = iota
	ValueInt
	ValueFloat
	ValueString
)

// ConfigValue is a loosely typed config entry. Conversions between kinds
// follow the usual numeric rules; strings are parsed on demand.
type ConfigValue struct {
	Kind ValueKind
	b    bool
	i    int64
	f    float64
	s    string
}

func Bool(v bool) ConfigValue     { return ConfigValue{Kind: ValueBool, b: v} }
func Int(v int64) ConfigValue     { return ConfigValue{Kind: ValueInt, i: v} }
func Float(v float64) ConfigValue { return ConfigValue{Kind: ValueFloat, f: v} }
func String(v string) ConfigValue { return ConfigValue{Kind: ValueString, s: v} }

func (v ConfigValue) Float() (float64, error) {
	switch v.Kind {
	case ValueBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	case ValueInt:
		return float64(v.i), nil
	case ValueFloat:
		return v.f, nil
	default:
		f, err := strconv.ParseFloat(v.s, 64)
		if err != nil {
			return 0, fmt.Errorf("config: %q is not a number: %w", v.s, err)
		}
		return f, nil
	}
}

func (v ConfigValue) Int() (int64, error) {
	switch v.Kind {
	case ValueBool:
		if v.b {
			return 1, nil
		}
		return 0, nil
	case ValueInt:
		return v.i, nil
	case ValueFloat:
		return int64(v.f), nil
	default:
		i, err := strconv.ParseInt(v.s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("config: %q is not an integer: %w", v.s, err)
		}
		return i, nil
	}
}

func (v ConfigValue) Bool() (bool, error) {
	switch v.Kind {
	case ValueBool:
		return v.b, nil
	case ValueInt:
		return v.i != 0, nil
	case ValueFloat:
		return v.f != 0, nil
	default:
		b, err := strconv.ParseBool(v.s)
		if err != nil {
			return false, fmt.Errorf("config: %q is not a bool: %w", v.s, err)
		}
		return b, nil
	}
}

func (v ConfigValue) String() string {
	switch v.Kind {
	case ValueBool:
		return strconv.FormatBool(v.b)
	case ValueInt:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return v.s
	}
}

// Config is a named store of scalar settings. Safe for concurrent use.
type Config struct {
	mu   sync.RWMutex
	vars map[string]ConfigValue
}

// NewConfig returns a config populated with the renderer defaults.
func NewConfig() *Config {
	c := &Config{vars: make(map[string]ConfigValue)}
	c.Set(KeyRaytracerSamples, Int(1))
	c.Set(KeyRaytracerDoLighting, Bool(false))
	c.Set(KeyRaytracerMaxSteps, Int(200))
	c.Set(KeyDenoiserFiltering, Bool(true))
	c.Set(KeyDenoiserReprojection, Float(0.90))
	c.Set(KeyDenoiserBlurStrength, Float(1.5))
	c.Set(KeyFOV, Float(90))
	return c
}

// NewEmptyConfig returns a config with no entries.
func NewEmptyConfig() *Config {
	return &Config{vars: make(map[string]ConfigValue)}
}

func (c *Config) Set(name string, v ConfigValue) {
	c.mu.Lock()
	c.vars[name] = v
	c.mu.Unlock()
}

func (c *Config) Get(name string) (ConfigValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	return v, ok
}

func (c *Config) Delete(name string) {
	c.mu.Lock()
	delete(c.vars, name)
	c.mu.Unlock()
}

// Keys returns the configured names in sorted order.
func (c *Config) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.vars))
	for k := range c.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadYAML overlays a flat YAML mapping of name: scalar onto the config.
func (c *Config) LoadYAML(r io.Reader) error {
	raw := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	for name, v := range raw {
		switch t := v.(type) {
		case bool:
			c.Set(name, Bool(t))
		case int:
			c.Set(name, Int(int64(t)))
		case int64:
			c.Set(name, Int(t))
		case float64:
			c.Set(name, Float(t))
		case string:
			c.Set(name, String(t))
		default:
			return fmt.Errorf("config: key %q has unsupported value %v", name, v)
		}
	}
	return nil
}

func (c *Config) lookup(name string) (ConfigValue, error) {
	v, ok := c.Get(name)
	if !ok {
		return ConfigValue{}, fmt.Errorf("%w: %s", ErrMissingKey, name)
	}
	return v, nil
}

func (c *Config) float(name string) (float32, error) {
	v, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	f, err := v.Float()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return float32(f), nil
}

func (c *Config) int(name string) (int, error) {
	v, err := c.lookup(name)
	if err != nil {
		return 0, err
	}
	i, err := v.Int()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return int(i), nil
}

func (c *Config) bool(name string) (bool, error) {
	v, err := c.lookup(name)
	if err != nil {
		return false, err
	}
	b, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return b, nil
}

// Settings is the per-frame scalar config consumed by the render passes.
type Settings struct {
	MaxSteps            int
	Samples             int
	ReprojectionPercent float32
	BlurStrength        float32
	DoLighting          bool
	EnableFiltering     bool
	FOV                 float32
}

// Settings resolves every key the pipeline needs. A missing key is an error.
func (c *Config) Settings() (Settings, error) {
	var s Settings
	var err error
	if s.MaxSteps, err = c.int(KeyRaytracerMaxSteps); err != nil {
		return s, err
	}
	if s.Samples, err = c.int(KeyRaytracerSamples); err != nil {
		return s, err
	}
	if s.ReprojectionPercent, err = c.float(KeyDenoiserReprojection); err != nil {
		return s, err
	}
	if s.BlurStrength, err = c.float(KeyDenoiserBlurStrength); err != nil {
		return s, err
	}
	if s.DoLighting, err = c.bool(KeyRaytracerDoLighting); err != nil {
		return s, err
	}
	if s.EnableFiltering, err = c.bool(KeyDenoiserFiltering); err != nil {
		return s, err
	}
	if s.FOV, err = c.float(KeyFOV); err != nil {
		return s, err
	}
	s.ReprojectionPercent = clamp01(s.ReprojectionPercent)
	if s.MaxSteps < 0 {
		s.MaxSteps = 0
	}
	if s.Samples < 0 {
		s.Samples = 0
	}
	return s, nil
}

// MustSettings is Settings for callers that treat a broken config as fatal.
func (c *Config) MustSettings(logger Logger) Settings {
	s, err := c.Settings()
	if err != nil {
		OrNop(logger).Errorf("invalid render config: %v", err)
		panic(err)
	}
	return s
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
