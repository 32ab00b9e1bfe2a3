package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDeploymentBlock uint64 = 18_000_000
	DefaultMaxBlockRange   uint64 = 100_000
	DefaultWindowDelay            = 100 * time.Millisecond
	DefaultAggTimeout             = 8 * time.Second
	DefaultAggBackoff             = 200 * time.Millisecond
	DefaultCachePath              = "pumpmybag.db"
	DefaultServerAddr             = ":8080"

	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config holds the YAML configuration.
type Config struct {
	Version    int              `yaml:"version"`
	Chain      ChainConfig      `yaml:"chain"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Cache      CacheConfig      `yaml:"cache"`
	Server     ServerConfig     `yaml:"server"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type ChainConfig struct {
	RPCURL          string  `yaml:"rpc_url"`
	ChainID         uint64  `yaml:"chain_id"`
	Contract        string  `yaml:"contract"`
	ABIPath         string  `yaml:"abi_path"`
	DeploymentBlock uint64  `yaml:"deployment_block"`
	MaxBlockRange   uint64  `yaml:"max_block_range"`
	WindowDelay     string  `yaml:"window_delay"`
	RPS             float64 `yaml:"rps"`
	Burst           int     `yaml:"burst"`

	windowDelay time.Duration
}

// AggregatorConfig configures the primary count source. An empty URL
// disables it and every resolution goes to the log scan.
type AggregatorConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
	Retries int    `yaml:"retries"`
	Backoff string `yaml:"backoff"`

	timeout time.Duration
	backoff time.Duration
}

type CacheConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ServerConfig configures `serve`. RPCURL and MaxBlockRange fall back to the
// chain section when unset.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	RPCURL        string `yaml:"rpc_url"`
	MaxBlockRange uint64 `yaml:"max_block_range"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Template   string `yaml:"template"`
}

var envPattern = regexp.MustCompile(`\${([A-Za-z_][A-Za-z0-9_]*)}`)

// Load reads, interpolates env vars, parses YAML, and validates.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}

	if err := loadDotEnv(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated, err := interpolateEnv(string(raw))
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(configPath string) error {
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
	}
	return nil
}

func interpolateEnv(input string) (string, error) {
	missing := []string{}
	out := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("missing environment variables: %s", strings.Join(dedup(missing), ", "))
	}
	return out, nil
}

// Validate checks each section and fills in defaults.
func (c *Config) Validate() error {
	if c.Version == 0 {
		return errors.New("version is required")
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := c.Aggregator.Validate(); err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.RPCURL == "" {
		c.Server.RPCURL = c.Chain.RPCURL
	}
	if c.Server.MaxBlockRange == 0 {
		c.Server.MaxBlockRange = c.Chain.MaxBlockRange
	}
	if c.Notify.Template != "" && c.Notify.WebhookURL == "" {
		return errors.New("notify: webhook_url is required when template is set")
	}
	return nil
}

func (c *ChainConfig) Validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("contract %q is not a hex address", c.Contract)
	}
	if c.DeploymentBlock == 0 {
		c.DeploymentBlock = DefaultDeploymentBlock
	}
	if c.MaxBlockRange == 0 {
		c.MaxBlockRange = DefaultMaxBlockRange
	}
	d, err := parseDuration(c.WindowDelay, DefaultWindowDelay)
	if err != nil {
		return fmt.Errorf("window_delay: %w", err)
	}
	c.windowDelay = d
	if c.RPS < 0 {
		return errors.New("rps must not be negative")
	}
	if c.Burst < 0 {
		return errors.New("burst must not be negative")
	}
	return nil
}

// ContractAddress returns the parsed contract address.
func (c ChainConfig) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

// WindowDelayDuration is the parsed window_delay.
func (c ChainConfig) WindowDelayDuration() time.Duration { return c.windowDelay }

func (a *AggregatorConfig) Validate() error {
	var err error
	if a.timeout, err = parseDuration(a.Timeout, DefaultAggTimeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}
	if a.backoff, err = parseDuration(a.Backoff, DefaultAggBackoff); err != nil {
		return fmt.Errorf("backoff: %w", err)
	}
	if a.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	if a.URL != "" && !strings.HasPrefix(a.URL, "http://") && !strings.HasPrefix(a.URL, "https://") {
		return fmt.Errorf("url %q must be http or https", a.URL)
	}
	return nil
}

// Enabled reports whether a primary source is configured.
func (a AggregatorConfig) Enabled() bool { return a.URL != "" }

func (a AggregatorConfig) TimeoutDuration() time.Duration { return a.timeout }

func (a AggregatorConfig) BackoffDuration() time.Duration { return a.backoff }

func (c *CacheConfig) Validate() error {
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case "":
		c.Backend = BackendSQLite
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("unsupported backend: %s", c.Backend)
	}
	if c.Path == "" {
		c.Path = DefaultCachePath
	}
	return nil
}

func parseDuration(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", raw)
	}
	return d, nil
}

func dedup(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
