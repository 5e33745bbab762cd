package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadParsesVenues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = "0.0.0.0:9000"
DataDir = "./data"
NetworkName = "testnet"
SweepIntervalSeconds = 2
SweepBatchLimit = 10
HubDenom = "urune"

[log]
Directory = "./logs"
MaxSizeMB = 32

[[venue]]
Name = "amm"
Kind = "pool"
Contract = "ammpool"

  [[venue.pool]]
  Asset = "uatom"
  AssetBalance = "1000"
  HubBalance = "5000"

[[venue]]
Name = "clob"
Kind = "book"

  [[venue.pair]]
  Address = "market1"
  BaseDenom = "uatom"
  QuoteDenom = "urune"

[[venue]]
Name = "bridge"
Kind = "deposit"
Affiliate = "partner"
AffiliateBps = 25
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" || cfg.SweepIntervalSeconds != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Venues) != 3 {
		t.Fatalf("venues = %d, want 3", len(cfg.Venues))
	}
	if cfg.Venues[0].Kind != VenueKindPool || len(cfg.Venues[0].Pools) != 1 {
		t.Fatalf("pool venue = %+v", cfg.Venues[0])
	}
	asset, hub, err := cfg.Venues[0].Pools[0].Amounts()
	if err != nil || asset.Int64() != 1000 || hub.Int64() != 5000 {
		t.Fatalf("amounts = %s, %s, %v", asset, hub, err)
	}
	if cfg.Venues[1].Pairs[0].Address != "market1" {
		t.Fatalf("book venue = %+v", cfg.Venues[1])
	}
	if cfg.Venues[2].AffiliateBps != 25 {
		t.Fatalf("deposit venue = %+v", cfg.Venues[2])
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":8080" || cfg.NetworkName != "calc-local" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not persisted: %v", err)
	}

	// The persisted default must load back cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestValidateRejectsBrokenVenues(t *testing.T) {
	tests := []struct {
		name  string
		venue VenueConfig
		want  string
	}{
		{
			name:  "unknown kind",
			venue: VenueConfig{Name: "x", Kind: "teleport"},
			want:  "unknown Kind",
		},
		{
			name:  "pool without pools",
			venue: VenueConfig{Name: "x", Kind: VenueKindPool, Contract: "c"},
			want:  "declares no pools",
		},
		{
			name: "pool with bad balance",
			venue: VenueConfig{Name: "x", Kind: VenueKindPool, Contract: "c", Pools: []PoolConfig{
				{Asset: "uatom", AssetBalance: "abc", HubBalance: "1"},
			}},
			want: "invalid amount",
		},
		{
			name:  "book without pairs",
			venue: VenueConfig{Name: "x", Kind: VenueKindBook},
			want:  "declares no pairs",
		},
		{
			name:  "deposit bps without affiliate",
			venue: VenueConfig{Name: "x", Kind: VenueKindDeposit, AffiliateBps: 10},
			want:  "without Affiliate",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			cfg.Venues = []VenueConfig{tc.venue}
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestValidateRejectsDuplicateVenueNames(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Venues = []VenueConfig{
		{Name: "x", Kind: VenueKindDeposit},
		{Name: "x", Kind: VenueKindDeposit},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate venue") {
		t.Fatalf("error = %v, want duplicate venue", err)
	}
}
