package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures runtime settings for a supply-chain ledger node.
type Config struct {
	Server struct {
		Listen                 string `yaml:"listen"`
		ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`

	Node struct {
		MinerID               string `yaml:"miner_id"`
		SigningPrivateKeyPath string `yaml:"signing_private_key_path"`
	} `yaml:"node"`

	Consensus struct {
		MinWaitMS         int    `yaml:"min_wait_ms"`
		MaxWaitMS         int    `yaml:"max_wait_ms"`
		MiningReward      *int64 `yaml:"mining_reward"`
		ManufacturerAlias string `yaml:"manufacturer_alias"`
		AutoMine          *bool  `yaml:"auto_mine"`
		MinPending        int    `yaml:"min_pending"`
		PollIntervalMS    int    `yaml:"poll_interval_ms"`
	} `yaml:"consensus"`

	Confirmation struct {
		HonestyProbability *float64 `yaml:"honesty_probability"`
	} `yaml:"confirmation"`

	Dispute struct {
		Penalty          *int64 `yaml:"penalty"`
		IncludeDiscarded *bool  `yaml:"include_discarded"`
	} `yaml:"dispute"`

	Storage struct {
		PostgresDSN string `yaml:"postgres_dsn"`
		MaxConns    int32  `yaml:"max_conns"`
		MinConns    int32  `yaml:"min_conns"`
	} `yaml:"storage"`

	Publisher struct {
		RedisURL string `yaml:"redis_url"`
		Topic    string `yaml:"topic"`
	} `yaml:"publisher"`

	Export struct {
		QRDir string `yaml:"qr_dir"`
	} `yaml:"export"`

	Security struct {
		EnforceSecureTLS *bool    `yaml:"enforce_secure_transport"`
		BearerToken      string   `yaml:"bearer_token"`
		TrustedCIDRs     []string `yaml:"trusted_cidrs"`
	} `yaml:"security"`

	Actors struct {
		Manufacturer *Actor  `yaml:"manufacturer"`
		Distributors []Actor `yaml:"distributors"`
		Clients      []Actor `yaml:"clients"`
	} `yaml:"actors"`

	Logging struct {
		Level   string `yaml:"level"`
		Service string `yaml:"service"`
		Version string `yaml:"version"`
		Commit  string `yaml:"commit"`
		Region  string `yaml:"region"`
	} `yaml:"logging"`
}

// Actor is a participant registered at startup.
type Actor struct {
	ID      string `yaml:"id"`
	Deposit int64  `yaml:"deposit"`
}

// Load reads and validates config from disk.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(buf)
}

// Parse validates config from raw YAML.
func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.expandEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and no actors.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8090"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 10
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		// rounds block for up to max_wait_ms before answering
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 15
	}
	if c.Consensus.MinWaitMS == 0 && c.Consensus.MaxWaitMS == 0 {
		c.Consensus.MinWaitMS = 1000
		c.Consensus.MaxWaitMS = 5000
	}
	if c.Consensus.MiningReward == nil {
		c.Consensus.MiningReward = int64Ptr(10)
	}
	if c.Consensus.ManufacturerAlias == "" {
		c.Consensus.ManufacturerAlias = "Manufacturer"
	}
	if c.Consensus.AutoMine == nil {
		c.Consensus.AutoMine = boolPtr(false)
	}
	if c.Consensus.MinPending <= 0 {
		c.Consensus.MinPending = 2
	}
	if c.Consensus.PollIntervalMS <= 0 {
		c.Consensus.PollIntervalMS = 1000
	}
	if c.Confirmation.HonestyProbability == nil {
		c.Confirmation.HonestyProbability = float64Ptr(0.7)
	}
	if c.Dispute.Penalty == nil {
		c.Dispute.Penalty = int64Ptr(50)
	}
	if c.Dispute.IncludeDiscarded == nil {
		c.Dispute.IncludeDiscarded = boolPtr(false)
	}
	if c.Storage.MaxConns <= 0 {
		c.Storage.MaxConns = 8
	}
	if c.Storage.MinConns < 0 {
		c.Storage.MinConns = 0
	}
	if c.Publisher.Topic == "" {
		c.Publisher.Topic = "sealed-blocks"
	}
	if c.Security.EnforceSecureTLS == nil {
		c.Security.EnforceSecureTLS = boolPtr(true)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Service == "" {
		c.Logging.Service = "supplychain-node"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "dev"
	}
	if c.Logging.Commit == "" {
		c.Logging.Commit = "unknown"
	}
	if c.Logging.Region == "" {
		c.Logging.Region = "local"
	}
}

func (c *Config) validate() error {
	if c.Consensus.MinWaitMS < 0 {
		return errors.New("consensus.min_wait_ms must not be negative")
	}
	if c.Consensus.MaxWaitMS < c.Consensus.MinWaitMS {
		return errors.New("consensus.max_wait_ms must be >= consensus.min_wait_ms")
	}
	if int64(c.Server.WriteTimeoutSeconds)*1000 <= int64(c.Consensus.MaxWaitMS) {
		return fmt.Errorf("server.write_timeout_seconds (%ds) must exceed consensus.max_wait_ms (%dms)", c.Server.WriteTimeoutSeconds, c.Consensus.MaxWaitMS)
	}
	if *c.Consensus.MiningReward < 0 {
		return errors.New("consensus.mining_reward must not be negative")
	}
	if p := *c.Confirmation.HonestyProbability; p < 0 || p > 1 {
		return errors.New("confirmation.honesty_probability must be within [0,1]")
	}
	if *c.Dispute.Penalty < 0 {
		return errors.New("dispute.penalty must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of debug|info|warn|error")
	}
	if *c.Security.EnforceSecureTLS {
		if c.Storage.PostgresDSN != "" && dsnUsesInsecureSSL(c.Storage.PostgresDSN) {
			return errors.New("storage.postgres_dsn must use sslmode=require|verify-ca|verify-full when enforce_secure_transport is enabled")
		}
		if c.Publisher.RedisURL != "" && !isTLSRedisURL(c.Publisher.RedisURL) {
			return errors.New("publisher.redis_url must use rediss:// when enforce_secure_transport is enabled")
		}
	}
	for _, cidr := range c.Security.TrustedCIDRs {
		if strings.TrimSpace(cidr) == "" {
			continue
		}
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("security.trusted_cidrs contains invalid CIDR %q", cidr)
		}
	}
	if m := c.Actors.Manufacturer; m != nil && strings.TrimSpace(m.ID) == "" {
		return errors.New("actors.manufacturer.id is required")
	}
	if err := validateActors("actors.distributors", c.Actors.Distributors); err != nil {
		return err
	}
	return validateActors("actors.clients", c.Actors.Clients)
}

func (c *Config) expandEnv() {
	c.Node.MinerID = os.ExpandEnv(strings.TrimSpace(c.Node.MinerID))
	c.Node.SigningPrivateKeyPath = os.ExpandEnv(strings.TrimSpace(c.Node.SigningPrivateKeyPath))
	c.Storage.PostgresDSN = os.ExpandEnv(strings.TrimSpace(c.Storage.PostgresDSN))
	c.Publisher.RedisURL = os.ExpandEnv(strings.TrimSpace(c.Publisher.RedisURL))
	c.Export.QRDir = os.ExpandEnv(strings.TrimSpace(c.Export.QRDir))
	c.Security.BearerToken = os.ExpandEnv(strings.TrimSpace(c.Security.BearerToken))
}

func validateActors(field string, actors []Actor) error {
	seen := make(map[string]struct{}, len(actors))
	for i, a := range actors {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return fmt.Errorf("%s[%d].id is required", field, i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate id in %s: %s", field, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func boolPtr(v bool) *bool { return &v }

func int64Ptr(v int64) *int64 { return &v }

func float64Ptr(v float64) *float64 { return &v }
