package common

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fikriaf/ars-sub001/crypto"
	"github.com/fikriaf/ars-sub001/disclosure"
	"github.com/fikriaf/ars-sub001/privacyscore"
	"github.com/fikriaf/ars-sub001/scanner"
	"github.com/fikriaf/ars-sub001/services"
	"github.com/fikriaf/ars-sub001/store"
	"github.com/fikriaf/ars-sub001/swap"
	"github.com/fikriaf/ars-sub001/viewkey"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file.
//
//	http:
//	  listen_addr: ":8080"
//	  metrics_addr: ":8090"
//	  rate_limit: 20
//	log:
//	  level: info
//	  format: json
//	privacy:
//	  threshold: 70
//	  strict: false
//	scanner:
//	  interval: 60s
//	  workers: 4
//	store:
//	  driver: postgres
//	  postgres:
//	    host: localhost
//	    port: 5432
//	    user: veil
//	    database: veil
//	auth:
//	  jwt_secret: "..."
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Privacy     PrivacyConfig     `yaml:"privacy"`
	Swap        SwapConfig        `yaml:"swap"`
	Scanner     scanner.Config    `yaml:"scanner"`
	Vault       VaultConfig       `yaml:"vault"`
	ViewingKeys ViewingKeysConfig `yaml:"viewing_keys"`
	Disclosure  DisclosureConfig  `yaml:"disclosure"`
	Store       StoreConfig       `yaml:"store"`
	Provider    ProviderConfig    `yaml:"provider"`
	Auth        AuthConfig        `yaml:"auth"`

	// CallTimeout bounds every provider, store and ledger call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

type HTTPConfig struct {
	ListenAddr       string        `yaml:"listen_addr"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	EnablePprof      bool          `yaml:"enable_pprof"`
	CORSOrigins      []string      `yaml:"cors_origins"`
	RateLimit        float64       `yaml:"rate_limit"`
	RateBurst        int           `yaml:"rate_burst"`
	DrainDuration    time.Duration `yaml:"drain_duration"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or text.
	Format string `yaml:"format"`

	// File enables a rotated log file next to stderr output.
	File      string `yaml:"file"`
	MaxSizeKB int64  `yaml:"max_size_kb"`
	MaxRolls  int    `yaml:"max_rolls"`
}

type PrivacyConfig struct {
	Threshold int  `yaml:"threshold"`
	Strict    bool `yaml:"strict"`

	// AlertWebhook receives low-score alerts as JSON when set.
	AlertWebhook string `yaml:"alert_webhook"`
}

type SwapConfig struct {
	SlippageBps        int     `yaml:"slippage_bps"`
	MEVReductionTarget float64 `yaml:"mev_reduction_target"`
}

type VaultConfig struct {
	KDFIterations int `yaml:"kdf_iterations"`

	// Pepper is hex encoded. PepperEnv names an environment variable
	// holding it instead.
	Pepper    string `yaml:"pepper"`
	PepperEnv string `yaml:"pepper_env"`
}

type ViewingKeysConfig struct {
	DefaultExpiry     time.Duration `yaml:"default_expiry"`
	ApprovalThreshold int           `yaml:"approval_threshold"`
	ApprovalValidity  time.Duration `yaml:"approval_validity"`

	// Approvers are hex Ed25519 public keys allowed to approve master key
	// exports.
	Approvers []string `yaml:"approvers"`
}

type DisclosureConfig struct {
	Expiry       time.Duration `yaml:"expiry"`
	MaxRiskScore int           `yaml:"max_risk_score"`
	LargeAmount  uint64        `yaml:"large_amount"`
	Denylist     []string      `yaml:"denylist"`
}

type StoreConfig struct {
	// Driver is memory or postgres.
	Driver   string               `yaml:"driver"`
	Postgres store.PostgresConfig `yaml:"postgres"`
}

type ProviderConfig struct {
	// URL of a remote cryptography provider. Empty runs the provider in
	// process.
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	// JWTSecret signs API tokens. JWTSecretEnv names an environment variable
	// holding it instead.
	JWTSecret    string `yaml:"jwt_secret"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
	JWTIssuer    string `yaml:"jwt_issuer"`

	// Disabled serves the API without authentication. Development only.
	Disabled bool `yaml:"disabled"`
}

// DefaultConfig returns the configuration used for unset options.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr:       ":8080",
			MetricsAddr:      ":8090",
			RateLimit:        20,
			RateBurst:        40,
			DrainDuration:    5 * time.Second,
			GracefulShutdown: 10 * time.Second,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     30 * time.Second,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "json",
			MaxSizeKB: 10 * 1024,
			MaxRolls:  5,
		},
		Privacy: PrivacyConfig{
			Threshold: privacyscore.DefaultThreshold,
		},
		Swap: SwapConfig{
			SlippageBps:        swap.DefaultSlippageBps,
			MEVReductionTarget: swap.DefaultReductionTarget,
		},
		Scanner: scanner.DefaultConfig(),
		Vault: VaultConfig{
			KDFIterations: crypto.MinKDFIterations,
		},
		ViewingKeys: ViewingKeysConfig{
			DefaultExpiry:     viewkey.DefaultExpiry,
			ApprovalThreshold: viewkey.DefaultApprovalThreshold,
			ApprovalValidity:  viewkey.DefaultApprovalValidity,
		},
		Disclosure: DisclosureConfig{
			Expiry:       disclosure.DefaultExpiry,
			MaxRiskScore: disclosure.DefaultMaxRiskScore,
			LargeAmount:  disclosure.DefaultLargeAmount,
		},
		Store: StoreConfig{
			Driver: "memory",
			Postgres: store.PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		Provider: ProviderConfig{
			Timeout: 15 * time.Second,
		},
		Auth: AuthConfig{
			JWTIssuer: "veil",
		},
		CallTimeout: 15 * time.Second,
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Validate checks option ranges and required settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Privacy.Threshold < 0 || c.Privacy.Threshold > 100 {
		errs = append(errs, fmt.Errorf("privacy.threshold %d not in [0, 100]", c.Privacy.Threshold))
	}
	if c.Swap.SlippageBps < 0 || c.Swap.SlippageBps >= 10_000 {
		errs = append(errs, fmt.Errorf("swap.slippage_bps %d not in [0, 10000)", c.Swap.SlippageBps))
	}
	if c.Swap.MEVReductionTarget < 0 || c.Swap.MEVReductionTarget > 100 {
		errs = append(errs, fmt.Errorf("swap.mev_reduction_target %v not in [0, 100]", c.Swap.MEVReductionTarget))
	}
	if c.Vault.KDFIterations < crypto.MinKDFIterations {
		errs = append(errs, fmt.Errorf("vault.kdf_iterations must be at least %d", crypto.MinKDFIterations))
	}
	if c.Scanner.Workers < 0 || c.Scanner.BatchSize < 0 || c.Scanner.RetryAttempts < 0 {
		errs = append(errs, errors.New("scanner settings must not be negative"))
	}
	if n := len(c.ViewingKeys.Approvers); n > 0 && c.ViewingKeys.ApprovalThreshold > n {
		errs = append(errs, fmt.Errorf("viewing_keys.approval_threshold %d exceeds %d approvers", c.ViewingKeys.ApprovalThreshold, n))
	}
	if _, err := c.ApprovalPolicy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.VaultPepper(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" && c.Store.Postgres.Host == "" {
			errs = append(errs, errors.New("store.postgres needs a dsn or host"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not memory or postgres", c.Store.Driver))
	}
	if !c.Auth.Disabled && len(c.JWTSecret()) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes unless auth.disabled is set"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}

// VaultPepper decodes the configured pepper.
func (c *Config) VaultPepper() ([]byte, error) {
	raw := c.Vault.Pepper
	if c.Vault.PepperEnv != "" {
		raw = os.Getenv(c.Vault.PepperEnv)
	}
	if raw == "" {
		return nil, nil
	}
	pepper, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("vault pepper: %w", err)
	}
	return pepper, nil
}

// JWTSecret returns the API token secret.
func (c *Config) JWTSecret() []byte {
	if c.Auth.JWTSecretEnv != "" {
		return []byte(os.Getenv(c.Auth.JWTSecretEnv))
	}
	return []byte(c.Auth.JWTSecret)
}

// ApprovalPolicy decodes the master key approval policy.
func (c *Config) ApprovalPolicy() (viewkey.ApprovalPolicy, error) {
	policy := viewkey.ApprovalPolicy{
		Threshold: c.ViewingKeys.ApprovalThreshold,
		Validity:  c.ViewingKeys.ApprovalValidity,
	}
	for _, h := range c.ViewingKeys.Approvers {
		pk, err := LoadApproverKey(h)
		if err != nil {
			return policy, err
		}
		policy.Approvers = append(policy.Approvers, pk)
	}
	return policy, nil
}

// ServicesConfig maps the file onto component settings.
func (c *Config) ServicesConfig() (services.Config, error) {
	policy, err := c.ApprovalPolicy()
	if err != nil {
		return services.Config{}, err
	}
	sc := c.Scanner
	if sc.CallTimeout == 0 {
		sc.CallTimeout = c.CallTimeout
	}
	threshold := c.Privacy.Threshold
	return services.Config{
		Scanner:            sc,
		PrivacyThreshold:   &threshold,
		StrictPrivacy:      c.Privacy.Strict,
		SlippageBps:        c.Swap.SlippageBps,
		MEVReductionTarget: c.Swap.MEVReductionTarget,
		CallTimeout:        c.CallTimeout,
		ViewingKeyExpiry:   c.ViewingKeys.DefaultExpiry,
		Approvals:          policy,
		DisclosureExpiry:   c.Disclosure.Expiry,
		MaxRiskScore:       c.Disclosure.MaxRiskScore,
	}, nil
}

// RiskScorer builds the disclosure risk scorer.
func (c *Config) RiskScorer() disclosure.RiskScorer {
	return disclosure.ThresholdRiskScorer{
		LargeAmount: c.Disclosure.LargeAmount,
		Denylist:    c.Disclosure.Denylist,
	}
}
