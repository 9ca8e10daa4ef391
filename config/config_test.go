package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/holiman/uint256"
)

const sampleConfig = `
Owner = "0x00000000000000000000000000000000000000c1"
LiquidityProvider = "0x00000000000000000000000000000000000000c2"
ProtocolFeeRatePermille = 5
ClientRate = 40

[[Tokens]]
Symbol = "USDC"
Address = "0x00000000000000000000000000000000000000a1"
Decimals = 6
PriceUSD = "1"
LTVBps = 8000
LiquidationThresholdBps = 8500

[[Tokens]]
Symbol = "WETH"
Address = "0x00000000000000000000000000000000000000a2"
Decimals = 18
PriceUSD = "2000.25"
LTVBps = 7500
LiquidationThresholdBps = 8000
[Tokens.Interest]
BaseBps = 100
Slope1Bps = 400
Slope2Bps = 6000
KinkBps = 8000

[[Pools]]
TokenA = "WETH"
TokenB = "usdc"
Fee = 3000
ReserveA = "1000"
ReserveB = "2000000"

[[Genesis]]
Account = "0x00000000000000000000000000000000000000b1"
Token = "USDC"
Amount = "1000.5"

[Pauses]
Swap = true

[Quotas.Position]
MaxRequestsPerEpoch = 10
EpochSeconds = 60
`

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "protocol.toml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProtocolFeeRatePermille != 5 || cfg.ClientRate != 40 {
		t.Fatalf("unexpected rates: %d %d", cfg.ProtocolFeeRatePermille, cfg.ClientRate)
	}
	if cfg.InterestBuffer != DefaultInterestBuffer || cfg.SwapDeadline().Seconds() != DefaultSwapDeadlineSeconds {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.FactoryAddress == "" || cfg.CollectorAddress == "" {
		t.Fatalf("module addresses not defaulted")
	}
	weth, ok := cfg.TokenBySymbol("weth")
	if !ok || weth.Interest == nil || weth.Interest.KinkBps != 8000 {
		t.Fatalf("unexpected weth config: %+v", weth)
	}
	if !cfg.Pauses.IsPaused("swap") || cfg.Pauses.IsPaused("position") || cfg.Pauses.IsPaused("unknown") {
		t.Fatalf("unexpected pauses: %+v", cfg.Pauses)
	}
	if cfg.Quotas.Position.MaxRequestsPerEpoch != 10 {
		t.Fatalf("quota not decoded: %+v", cfg.Quotas)
	}
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	cases := map[string]struct {
		from, to string
		want     string
	}{
		"fee rate":      {"ProtocolFeeRatePermille = 5", "ProtocolFeeRatePermille = 500", "protocol fee rate"},
		"client rate":   {"ClientRate = 40", "ClientRate = 10", "client rate"},
		"decimals":      {"Decimals = 6", "Decimals = 24", "decimals 24"},
		"unknown token": {`TokenB = "usdc"`, `TokenB = "DAI"`, "unknown token"},
		"fee tier":      {"Fee = 3000", "Fee = 2500", "fee tier"},
		"precision":     {`Amount = "1000.5"`, `Amount = "1.0000001"`, "more than 6 decimals"},
		"owner":         {`Owner = "0x00000000000000000000000000000000000000c1"`, `Owner = "nobody"`, "owner"},
		"unknown field": {"[Pauses]", "Bogus = 1\n[Pauses]", "unknown field"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			doc := strings.Replace(sampleConfig, tc.from, tc.to, 1)
			_, err := Parse(doc)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseUnits(t *testing.T) {
	got, err := ParseUnits("2000.25", 8)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Uint64() != 200_025_000_000 {
		t.Fatalf("unexpected units: %s", got)
	}
	if _, err := ParseUnits("-1", 6); err == nil {
		t.Fatalf("expected negative amount to fail")
	}
	if FormatUnits(uint256.NewInt(1_500_000), 6) != "1.5" {
		t.Fatalf("unexpected format: %s", FormatUnits(uint256.NewInt(1_500_000), 6))
	}
}
