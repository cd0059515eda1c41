// Package config loads and validates the engine's financial parameters.
// Every number that affects a payout lives here, injected from YAML; a
// missing or out-of-range financial parameter is fatal at startup rather
// than silently defaulted.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veritaslabs/yieldengine/internal/domain"
)

// ConfigurationError reports a missing or invalid configuration value.
// It is the only error class in the engine that is fatal.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// PeriodBonusConfig defines one step of the staking-period bonus function
type PeriodBonusConfig struct {
	MinDays int     `yaml:"min_days"`
	Bonus   float64 `yaml:"bonus"`
}

// YieldConfig holds the engagement weighting table and quality clamp.
// The clamp bounds are configurable; the working calculator never fixed them
// explicitly, so they must stay tunable for replay against historical data.
type YieldConfig struct {
	ViewWeight         float64 `yaml:"view_weight"`
	ShareWeight        float64 `yaml:"share_weight"`
	VerificationWeight float64 `yaml:"verification_weight"`
	MintedBonus        float64 `yaml:"minted_bonus"`
	SealedBonus        float64 `yaml:"sealed_bonus"`
	QualityMidpoint    float64 `yaml:"quality_midpoint"`
	QualityMin         float64 `yaml:"quality_min"`
	QualityMax         float64 `yaml:"quality_max"`
}

// VaultConfig holds pooled-stake accounting parameters
type VaultConfig struct {
	PerformanceFeeRate float64  `yaml:"performance_fee_rate"`
	CompoundInterval   Duration `yaml:"compound_interval"`
}

// ClaimConfig holds claim workflow parameters
type ClaimConfig struct {
	LockTimeout     Duration `yaml:"lock_timeout"`
	AmountTolerance float64  `yaml:"amount_tolerance"`
	Token           string   `yaml:"token"`
}

// CacheConfig holds the claimable-summary cache parameters
type CacheConfig struct {
	Addr     string   `yaml:"addr"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	TTL      Duration `yaml:"ttl"`
}

// SettlementConfig holds dispatch throttling parameters
type SettlementConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Config is the full engine configuration
type Config struct {
	BaseAPY        float64             `yaml:"base_apy"`
	ConversionRate float64             `yaml:"conversion_rate"`
	TierBonuses    map[string]float64  `yaml:"tier_bonuses"`
	PeriodBonuses  []PeriodBonusConfig `yaml:"period_bonuses"`
	Yield          YieldConfig         `yaml:"yield"`
	Vault          VaultConfig         `yaml:"vault"`
	Claim          ClaimConfig         `yaml:"claim"`
	Cache          CacheConfig         `yaml:"cache"`
	Settlement     SettlementConfig    `yaml:"settlement"`
}

// Default returns the configuration matching historical payout parameters
func Default() *Config {
	return &Config{
		BaseAPY:        0.12,
		ConversionRate: 0.1,
		TierBonuses: map[string]float64{
			"explorer":  0.0,
			"seeker":    0.10,
			"creator":   0.25,
			"sovereign": 0.50,
		},
		PeriodBonuses: []PeriodBonusConfig{
			{MinDays: 90, Bonus: 0.10},
			{MinDays: 180, Bonus: 0.25},
			{MinDays: 365, Bonus: 0.50},
		},
		Yield: YieldConfig{
			ViewWeight:         0.5,
			ShareWeight:        1.5,
			VerificationWeight: 3.0,
			MintedBonus:        10.0,
			SealedBonus:        5.0,
			QualityMidpoint:    50,
			QualityMin:         0.1,
			QualityMax:         2.0,
		},
		Vault: VaultConfig{
			PerformanceFeeRate: 0.02,
			CompoundInterval:   Duration(24 * time.Hour),
		},
		Claim: ClaimConfig{
			LockTimeout:     Duration(2 * time.Second),
			AmountTolerance: 1e-6,
			Token:           "VRT",
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  Duration(30 * time.Second),
		},
		Settlement: SettlementConfig{
			RatePerSecond: 10,
			Burst:         20,
		},
	}
}

// Load reads configuration from a YAML file and validates it. Values absent
// from the file fall back to Default(); validation still runs on the merged
// result so a half-written file cannot ship bad financial parameters.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every financial parameter. Returns a ConfigurationError on
// the first violation.
func (c *Config) Validate() error {
	if c.BaseAPY <= 0 || c.BaseAPY > 1 {
		return &ConfigurationError{Field: "base_apy", Reason: fmt.Sprintf("must be in (0, 1], got %f", c.BaseAPY)}
	}
	if c.ConversionRate <= 0 {
		return &ConfigurationError{Field: "conversion_rate", Reason: fmt.Sprintf("must be positive, got %f", c.ConversionRate)}
	}

	if len(c.TierBonuses) == 0 {
		return &ConfigurationError{Field: "tier_bonuses", Reason: "table is empty"}
	}
	if _, ok := c.TierBonuses[domain.TierExplorer.String()]; !ok {
		return &ConfigurationError{Field: "tier_bonuses", Reason: "missing explorer entry; unknown tiers default to it"}
	}
	for name, bonus := range c.TierBonuses {
		// an unrecognized name would collapse onto explorer and corrupt
		// the fallback bonus, so a typo here is fatal
		if domain.ParseTier(name).String() != name {
			return &ConfigurationError{Field: "tier_bonuses." + name, Reason: "unknown tier name"}
		}
		if bonus < 0 {
			return &ConfigurationError{Field: "tier_bonuses." + name, Reason: fmt.Sprintf("bonus must be non-negative, got %f", bonus)}
		}
	}
	for i, pb := range c.PeriodBonuses {
		if pb.MinDays <= 0 {
			return &ConfigurationError{Field: fmt.Sprintf("period_bonuses[%d].min_days", i), Reason: "must be positive"}
		}
		if pb.Bonus < 0 {
			return &ConfigurationError{Field: fmt.Sprintf("period_bonuses[%d].bonus", i), Reason: "must be non-negative"}
		}
	}

	y := c.Yield
	if y.ViewWeight < 0 || y.ShareWeight < 0 || y.VerificationWeight < 0 {
		return &ConfigurationError{Field: "yield", Reason: "engagement weights must be non-negative"}
	}
	if y.QualityMin <= 0 {
		return &ConfigurationError{Field: "yield.quality_min", Reason: fmt.Sprintf("must be positive, got %f", y.QualityMin)}
	}
	if y.QualityMax < y.QualityMin {
		return &ConfigurationError{Field: "yield.quality_max", Reason: fmt.Sprintf("must be >= quality_min, got %f < %f", y.QualityMax, y.QualityMin)}
	}
	if y.QualityMidpoint <= 0 {
		return &ConfigurationError{Field: "yield.quality_midpoint", Reason: "must be positive"}
	}

	if c.Vault.PerformanceFeeRate < 0 || c.Vault.PerformanceFeeRate >= 1 {
		return &ConfigurationError{Field: "vault.performance_fee_rate", Reason: fmt.Sprintf("must be in [0, 1), got %f", c.Vault.PerformanceFeeRate)}
	}
	if c.Vault.CompoundInterval <= 0 {
		return &ConfigurationError{Field: "vault.compound_interval", Reason: "must be positive"}
	}

	if c.Claim.LockTimeout <= 0 {
		return &ConfigurationError{Field: "claim.lock_timeout", Reason: "must be positive"}
	}
	if c.Claim.AmountTolerance < 0 {
		return &ConfigurationError{Field: "claim.amount_tolerance", Reason: "must be non-negative"}
	}
	if c.Claim.Token == "" {
		return &ConfigurationError{Field: "claim.token", Reason: "must be set"}
	}

	if c.Settlement.RatePerSecond <= 0 {
		return &ConfigurationError{Field: "settlement.rate_per_second", Reason: "must be positive"}
	}
	if c.Settlement.Burst <= 0 {
		return &ConfigurationError{Field: "settlement.burst", Reason: "must be positive"}
	}

	return nil
}

// MultiplierParams converts the tier and period tables to domain parameters
func (c *Config) MultiplierParams() domain.MultiplierParams {
	bonuses := make(map[domain.Tier]float64, len(c.TierBonuses))
	for name, bonus := range c.TierBonuses {
		bonuses[domain.ParseTier(name)] = bonus
	}

	periods := make([]domain.PeriodBonus, 0, len(c.PeriodBonuses))
	for _, pb := range c.PeriodBonuses {
		periods = append(periods, domain.PeriodBonus{MinDays: pb.MinDays, Bonus: pb.Bonus})
	}

	return domain.MultiplierParams{TierBonuses: bonuses, PeriodBonuses: periods}
}

// YieldParams converts the yield table to domain parameters
func (c *Config) YieldParams() domain.YieldParams {
	return domain.YieldParams{
		ViewWeight:         c.Yield.ViewWeight,
		ShareWeight:        c.Yield.ShareWeight,
		VerificationWeight: c.Yield.VerificationWeight,
		MintedBonus:        c.Yield.MintedBonus,
		SealedBonus:        c.Yield.SealedBonus,
		QualityMidpoint:    c.Yield.QualityMidpoint,
		QualityMin:         c.Yield.QualityMin,
		QualityMax:         c.Yield.QualityMax,
	}
}
