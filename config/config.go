package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration. Venue order matters: when two venues
// quote the same receive amount the router keeps the first registered, so
// the list order here is the preference order.
type Config struct {
	ListenAddress        string `toml:"ListenAddress"`
	DataDir              string `toml:"DataDir"`
	NetworkName          string `toml:"NetworkName"`
	SweepIntervalSeconds uint64 `toml:"SweepIntervalSeconds"`
	SweepBatchLimit      int    `toml:"SweepBatchLimit"`
	HubDenom             string `toml:"HubDenom"`

	Log    LogConfig     `toml:"log"`
	Venues []VenueConfig `toml:"venue"`
}

// LogConfig controls file logging rotation.
type LogConfig struct {
	Directory  string `toml:"Directory"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// VenueConfig declares one exchange venue. Kind selects which of the
// kind-specific fields apply.
type VenueConfig struct {
	Name     string `toml:"Name"`
	Kind     string `toml:"Kind"`
	Contract string `toml:"Contract"`

	// pool venues
	Pools []PoolConfig `toml:"pool"`

	// book venues
	Pairs []PairConfig `toml:"pair"`

	// deposit venues
	Affiliate    string `toml:"Affiliate"`
	AffiliateBps uint64 `toml:"AffiliateBps"`
}

// PoolConfig seeds one constant-product pool. Balances are integer strings
// in base units.
type PoolConfig struct {
	Asset        string `toml:"Asset"`
	AssetBalance string `toml:"AssetBalance"`
	HubBalance   string `toml:"HubBalance"`
}

// PairConfig declares one order-book market.
type PairConfig struct {
	Address    string `toml:"Address"`
	BaseDenom  string `toml:"BaseDenom"`
	QuoteDenom string `toml:"QuoteDenom"`
}

const (
	VenueKindPool    = "pool"
	VenueKindBook    = "book"
	VenueKindDeposit = "deposit"
)

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./calc-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "calc-local"
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = 5
	}
	if c.SweepBatchLimit == 0 {
		c.SweepBatchLimit = 25
	}
	if strings.TrimSpace(c.HubDenom) == "" {
		c.HubDenom = "urune"
	}
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	seen := make(map[string]struct{}, len(c.Venues))
	for i, venue := range c.Venues {
		name := strings.TrimSpace(venue.Name)
		if name == "" {
			return fmt.Errorf("config: venue %d missing Name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("config: duplicate venue %q", name)
		}
		seen[name] = struct{}{}
		switch venue.Kind {
		case VenueKindPool:
			if strings.TrimSpace(venue.Contract) == "" {
				return fmt.Errorf("config: pool venue %q missing Contract", name)
			}
			if len(venue.Pools) == 0 {
				return fmt.Errorf("config: pool venue %q declares no pools", name)
			}
			for _, pool := range venue.Pools {
				if strings.TrimSpace(pool.Asset) == "" {
					return fmt.Errorf("config: pool venue %q has a pool without Asset", name)
				}
				if _, err := parseAmount(pool.AssetBalance); err != nil {
					return fmt.Errorf("config: pool venue %q asset balance: %w", name, err)
				}
				if _, err := parseAmount(pool.HubBalance); err != nil {
					return fmt.Errorf("config: pool venue %q hub balance: %w", name, err)
				}
			}
		case VenueKindBook:
			if len(venue.Pairs) == 0 {
				return fmt.Errorf("config: book venue %q declares no pairs", name)
			}
			for _, pair := range venue.Pairs {
				if strings.TrimSpace(pair.Address) == "" ||
					strings.TrimSpace(pair.BaseDenom) == "" ||
					strings.TrimSpace(pair.QuoteDenom) == "" {
					return fmt.Errorf("config: book venue %q has an incomplete pair", name)
				}
			}
		case VenueKindDeposit:
			if venue.AffiliateBps > 0 && strings.TrimSpace(venue.Affiliate) == "" {
				return fmt.Errorf("config: deposit venue %q sets AffiliateBps without Affiliate", name)
			}
		default:
			return fmt.Errorf("config: venue %q has unknown Kind %q", name, venue.Kind)
		}
	}
	return nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// Amounts parses the balance strings validated by Validate.
func (p PoolConfig) Amounts() (asset, hub *big.Int, err error) {
	asset, err = parseAmount(p.AssetBalance)
	if err != nil {
		return nil, nil, err
	}
	hub, err = parseAmount(p.HubBalance)
	if err != nil {
		return nil, nil, err
	}
	return asset, hub, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Log = LogConfig{
		Directory:  "./logs",
		MaxSizeMB:  64,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
