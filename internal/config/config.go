package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"stallplan/internal/floorplan"
)

// Config models stallplan.yml.
type Config struct {
	Units     floorplan.Units  `yaml:"units"`
	Tiers     []floorplan.Tier `yaml:"tiers"`
	Placement struct {
		MaxAttempts int     `yaml:"max_attempts"`
		GridStep    float64 `yaml:"grid_step"`
		GridBudget  int     `yaml:"grid_budget"`
		MaxStalls   int     `yaml:"max_stalls"`
		// Seed fixes the sampler; nil seeds from the clock per run.
		Seed *uint64 `yaml:"seed"`
	} `yaml:"placement"`
	Oracle OracleConfig `yaml:"oracle"`
	Cache  CacheConfig  `yaml:"cache"`
	Server struct {
		Addr        string   `yaml:"addr"`
		BasePath    string   `yaml:"base_path"`
		CORSOrigins []string `yaml:"cors_origins"`
		// RequestTimeout bounds one placement request; 0 disables it.
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`
	Auth struct {
		Required  bool   `yaml:"required"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

const (
	OracleNone      = "none"
	OracleStatic    = "static"
	OracleRegressor = "regressor"
	OracleHTTP      = "http"

	CacheNone  = "none"
	CacheFile  = "file"
	CacheRedis = "redis"
)

type OracleConfig struct {
	Kind    string        `yaml:"kind"`
	Path    string        `yaml:"path"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Kind     string        `yaml:"kind"`
	Dir      string        `yaml:"dir"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !(c.Units.Scale > 0) {
		return fmt.Errorf("config.units.scale must be > 0")
	}
	if c.Units.Precision < 0 || c.Units.Precision > 10 {
		return fmt.Errorf("config.units.precision must be between 0 and 10")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("config.tiers is required")
	}
	ids := map[int]bool{}
	labels := map[string]bool{}
	for i, t := range c.Tiers {
		if t.ID <= 0 {
			return fmt.Errorf("tier %d: id must be positive (0 is the empty oracle class)", i)
		}
		if t.Label == "" || t.Name == "" {
			return fmt.Errorf("tier %d: label and name are required", t.ID)
		}
		if ids[t.ID] {
			return fmt.Errorf("tier id %d defined twice", t.ID)
		}
		if labels[t.Label] {
			return fmt.Errorf("tier label %s defined twice", t.Label)
		}
		ids[t.ID] = true
		labels[t.Label] = true
	}
	p := c.Placement
	if p.MaxAttempts < 0 || p.GridBudget < 0 || p.GridStep < 0 || p.MaxStalls < 0 {
		return fmt.Errorf("config.placement values must not be negative")
	}
	if c.Server.RequestTimeout < 0 {
		return fmt.Errorf("config.server.request_timeout must not be negative")
	}
	switch c.Oracle.Kind {
	case "", OracleNone:
	case OracleStatic, OracleRegressor:
		if c.Oracle.Path == "" {
			return fmt.Errorf("config.oracle.path is required for kind %s", c.Oracle.Kind)
		}
	case OracleHTTP:
		if c.Oracle.URL == "" {
			return fmt.Errorf("config.oracle.url is required for kind http")
		}
	default:
		return fmt.Errorf("config.oracle.kind must be one of none, static, regressor, http")
	}
	switch c.Cache.Kind {
	case "", CacheNone, CacheFile:
	case CacheRedis:
		if c.Cache.Addr == "" {
			return fmt.Errorf("config.cache.addr is required for kind redis")
		}
	default:
		return fmt.Errorf("config.cache.kind must be one of none, file, redis")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stallplan.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.Tiers = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = floorplan.DefaultTiers()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `units:
  # editor units per hall unit
  scale: 4
  precision: 2

tiers:
  - {id: 1, label: Platinum, name: platinum}
  - {id: 2, label: Gold, name: gold}
  - {id: 3, label: Silver, name: silver}
  - {id: 4, label: Bronze, name: bronze}

placement:
  max_attempts: 10000
  grid_step: 0.5
  # boxes the grid scanner may examine per unit
  grid_budget: 1048576
  # total stalls one request may ask for
  max_stalls: 10000

oracle:
  kind: none
  timeout: 10s

cache:
  kind: none
  prefix: "stallplan:"
  ttl: 24h

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  cors_origins: ["*"]
  request_timeout: 60s

auth:
  required: false
`
