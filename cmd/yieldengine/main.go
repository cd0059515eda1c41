package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/veritaslabs/yieldengine/internal/cache"
	"github.com/veritaslabs/yieldengine/internal/claim"
	"github.com/veritaslabs/yieldengine/internal/config"
	"github.com/veritaslabs/yieldengine/internal/domain"
	"github.com/veritaslabs/yieldengine/internal/engine"
	"github.com/veritaslabs/yieldengine/internal/metrics"
	"github.com/veritaslabs/yieldengine/internal/persistence"
	"github.com/veritaslabs/yieldengine/internal/persistence/memory"
	"github.com/veritaslabs/yieldengine/internal/persistence/postgres"
	"github.com/veritaslabs/yieldengine/internal/scheduler"
	"github.com/veritaslabs/yieldengine/internal/settlement"
	"github.com/veritaslabs/yieldengine/internal/vault"
)

const (
	appName = "yieldengine"
	version = "v1.2.0"

	queryTimeout = 5 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Capsule yield and reward accrual engine",
		Version: version,
		Long:    "yieldengine converts capsule engagement into claimable token rewards and manages pooled-stake vault accounting with scheduled compounding",
	}
	rootCmd.PersistentFlags().String("config", "", "Path to engine configuration YAML (defaults apply when empty)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		levelName, _ := cmd.Flags().GetString("log-level")
		if level, err := zerolog.ParseLevel(levelName); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the accrual engine service",
		Long:  "Starts the compound scheduler and the metrics/health HTTP endpoint. With --dsn the engine persists to PostgreSQL; without it all state is in memory and lost on exit.",
		RunE:  runServe,
	}
	runCmd.Flags().String("dsn", "", "PostgreSQL DSN (empty = in-memory state)")
	runCmd.Flags().String("listen", ":8080", "Listen address for /metrics and /healthz")
	runCmd.Flags().Float64("daily-yield", 0.0003, "Vault yield accrued per compound interval, as a fraction of total value")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE:  runValidate,
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Simulate reward accrual for a hypothetical account",
		Long:  "Computes the claimable summary for a synthetic account offline, then projects vault share price growth over the given horizon. Useful for tuning tier and period bonus tables before deploying them.",
		RunE:  runSimulate,
	}
	simulateCmd.Flags().String("tier", "creator", "Membership tier (explorer, seeker, creator, sovereign)")
	simulateCmd.Flags().Int("staking-days", 180, "Days the account's stake has been in the vault")
	simulateCmd.Flags().Int("capsules", 1, "Number of identical capsules to simulate")
	simulateCmd.Flags().Int64("views", 1000, "Views per capsule")
	simulateCmd.Flags().Int64("shares", 50, "Shares per capsule")
	simulateCmd.Flags().Int64("verifications", 10, "Verifications per capsule")
	simulateCmd.Flags().Float64("quality", 50, "Quality score per capsule (0-100)")
	simulateCmd.Flags().Bool("minted", true, "Capsules are minted as NFTs")
	simulateCmd.Flags().Bool("sealed", false, "Capsules carry a veritas seal")
	simulateCmd.Flags().Int("days", 30, "Vault projection horizon in days")
	simulateCmd.Flags().Float64("daily-yield", 0.0003, "Daily vault yield as a fraction of total value")
	simulateCmd.Flags().Float64("principal", 1000, "Staked principal for the vault projection")
	simulateCmd.Flags().String("format", "table", "Output format: table, json")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(simulateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// runServe wires the full engine and blocks until SIGINT/SIGTERM
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dsn, _ := cmd.Flags().GetString("dsn")
	listen, _ := cmd.Flags().GetString("listen")
	dailyYield, _ := cmd.Flags().GetFloat64("daily-yield")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stores engine.Stores
	if dsn != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer db.Close()

		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}

		stores = engine.Stores{
			Accounts: postgres.NewAccountsRepo(db, queryTimeout),
			Capsules: postgres.NewCapsulesRepo(db, queryTimeout),
			Claims:   postgres.NewClaimsRepo(db, queryTimeout),
			Stakes:   postgres.NewStakesRepo(db, queryTimeout),
			Vault:    postgres.NewVaultRepo(db, queryTimeout),
		}
		log.Info().Msg("using postgres persistence")
	} else {
		store := memory.NewStore()
		stores = engine.Stores{
			Accounts: store,
			Capsules: store,
			Claims:   store.Claims(),
			Stakes:   store.Stakes(),
			Vault:    store.Vault(),
		}
		log.Warn().Msg("no --dsn supplied, state is in-memory and lost on exit")
	}

	var summaryCache *cache.SummaryCache
	if cfg.Cache.Addr != "" {
		summaryCache, err = cache.NewSummaryCache(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB, cfg.Cache.TTL.Std())
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Cache.Addr).Msg("summary cache unavailable, serving uncached")
			summaryCache = nil
		} else {
			defer summaryCache.Close()
		}
	}

	registry := metrics.NewRegistry()
	registry.MustRegister()

	dispatcher, err := settlement.NewDispatcher(logSettler{}, cfg.Settlement.RatePerSecond, cfg.Settlement.Burst)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Options{
		Config:     cfg,
		Stores:     stores,
		Cache:      summaryCache,
		Metrics:    registry,
		Dispatcher: dispatcher,
	})
	if err != nil {
		return err
	}
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore vault state: %w", err)
	}

	sched, err := scheduler.NewScheduler(scheduler.Options{
		Vault: eng.Vault(),
		Source: scheduler.YieldSourceFunc(func(ctx context.Context) (float64, error) {
			return eng.Vault().Snapshot().TotalValue * dailyYield, nil
		}),
		Interval:  cfg.Vault.CompoundInterval.Std(),
		FeeRate:   cfg.Vault.PerformanceFeeRate,
		Durations: registry.CompoundDuration,
	})
	if err != nil {
		return err
	}
	sched.OnCompound = func(result *vault.CompoundResult) {
		registry.SharePrice.Set(result.SharePrice)
		snap := eng.Vault().Snapshot()
		registry.TotalShares.Set(snap.TotalShares)
		registry.AccruedFees.Set(snap.AccruedFees)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sched.Status())
	})
	mux.HandleFunc("/compound", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := sched.Trigger(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sched.Status())
	})

	srv := &http.Server{Addr: listen, Handler: mux}
	go func() {
		log.Info().Str("addr", listen).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("compound scheduler stopped")
		}
	}()

	log.Info().Str("version", version).Msg("engine running")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
	log.Info().Msg("engine stopped")
	return nil
}

// runValidate loads and validates a config file, printing the effective
// financial parameters on success
func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("configuration valid: base_apy=%.4f conversion_rate=%.4f fee_rate=%.4f token=%s\n",
		cfg.BaseAPY, cfg.ConversionRate, cfg.Vault.PerformanceFeeRate, cfg.Claim.Token)
	return nil
}

// simulationReport is the JSON shape of simulate output
type simulationReport struct {
	Tier            string               `json:"tier"`
	StakingDays     int                  `json:"staking_days"`
	Multiplier      float64              `json:"multiplier"`
	Summary         domain.Summary       `json:"summary"`
	VaultProjection []vaultProjectionRow `json:"vault_projection,omitempty"`
}

type vaultProjectionRow struct {
	Day        int     `json:"day"`
	SharePrice float64 `json:"share_price"`
	TotalValue float64 `json:"total_value"`
	Fees       float64 `json:"accrued_fees"`
}

// runSimulate evaluates the reward formulas offline against a synthetic
// account and prints the result
func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tierName, _ := cmd.Flags().GetString("tier")
	stakingDays, _ := cmd.Flags().GetInt("staking-days")
	capsuleCount, _ := cmd.Flags().GetInt("capsules")
	views, _ := cmd.Flags().GetInt64("views")
	shares, _ := cmd.Flags().GetInt64("shares")
	verifications, _ := cmd.Flags().GetInt64("verifications")
	quality, _ := cmd.Flags().GetFloat64("quality")
	minted, _ := cmd.Flags().GetBool("minted")
	sealed, _ := cmd.Flags().GetBool("sealed")
	days, _ := cmd.Flags().GetInt("days")
	dailyYield, _ := cmd.Flags().GetFloat64("daily-yield")
	principal, _ := cmd.Flags().GetFloat64("principal")
	format, _ := cmd.Flags().GetString("format")

	ctx := cmd.Context()
	now := time.Now().UTC()

	store := memory.NewStore()
	store.SeedAccount(persistence.Account{ID: "sim", Tier: domain.ParseTier(tierName)})

	capsules := make([]domain.Capsule, 0, capsuleCount)
	for i := 0; i < capsuleCount; i++ {
		capsules = append(capsules, domain.Capsule{
			ID:            fmt.Sprintf("sim-capsule-%d", i+1),
			CreatedAt:     now.AddDate(0, 0, -30),
			Views:         views,
			Shares:        shares,
			Verifications: verifications,
			Minted:        minted,
			VeritasSealed: sealed,
			QualityScore:  quality,
		})
	}
	store.SeedCapsules("sim", capsules)

	if stakingDays > 0 {
		if err := store.Stakes().Upsert(ctx, persistence.StakePosition{
			AccountID:   "sim",
			Principal:   principal,
			Shares:      principal,
			DepositedAt: now.AddDate(0, 0, -stakingDays),
			UpdatedAt:   now.AddDate(0, 0, -stakingDays),
		}); err != nil {
			return err
		}
	}

	eng, err := engine.New(engine.Options{
		Config: cfg,
		Stores: engine.Stores{
			Accounts: store,
			Capsules: store,
			Claims:   store.Claims(),
			Stakes:   store.Stakes(),
			Vault:    store.Vault(),
		},
	})
	if err != nil {
		return err
	}

	summary, err := eng.ClaimableSummary(ctx, "sim")
	if err != nil {
		return err
	}

	resolver := domain.NewResolver(cfg.MultiplierParams())
	report := simulationReport{
		Tier:        tierName,
		StakingDays: stakingDays,
		Multiplier:  resolver.ResolveMultiplier(domain.ParseTier(tierName), stakingDays),
		Summary:     summary,
	}

	// project share price growth by replaying one compound per day
	if days > 0 && principal > 0 {
		vlt := eng.Vault()
		if _, err := vlt.Deposit(ctx, "sim-staker", principal); err != nil {
			return err
		}
		for day := 1; day <= days; day++ {
			yield := vlt.Snapshot().TotalValue * dailyYield
			if _, err := vlt.Compound(ctx, yield, cfg.Vault.PerformanceFeeRate); err != nil {
				return err
			}
			if day == 1 || day%7 == 0 || day == days {
				snap := vlt.Snapshot()
				report.VaultProjection = append(report.VaultProjection, vaultProjectionRow{
					Day:        day,
					SharePrice: snap.SharePrice,
					TotalValue: snap.TotalValue,
					Fees:       snap.AccruedFees,
				})
			}
		}
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(report)
	return nil
}

// printReport renders a simulation report as aligned tables
func printReport(report simulationReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Tier:\t%s\n", report.Tier)
	fmt.Fprintf(w, "Staking period:\t%d days\n", report.StakingDays)
	fmt.Fprintf(w, "Multiplier:\t%.2fx\n", report.Multiplier)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "CAPSULE\tYIELD\tREWARD\tDAILY\tAPY")
	for _, entry := range report.Summary.Breakdown {
		fmt.Fprintf(w, "%s\t%.2f\t%.4f\t%.6f\t%.2f%%\n",
			entry.CapsuleID, entry.CurrentYield, entry.CurrentReward, entry.DailyRate, entry.APY)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total yield:\t%.2f\n", report.Summary.TotalYield)
	fmt.Fprintf(w, "Claimable:\t%.4f\n", report.Summary.Amount)
	fmt.Fprintf(w, "Average APY:\t%.2f%%\n", report.Summary.AverageAPY)

	if len(report.VaultProjection) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "DAY\tSHARE PRICE\tVAULT VALUE\tFEES")
		for _, row := range report.VaultProjection {
			fmt.Fprintf(w, "%d\t%.6f\t%.4f\t%.4f\n", row.Day, row.SharePrice, row.TotalValue, row.Fees)
		}
	}

	w.Flush()
}

// logSettler records settlement intents to the log. Production deployments
// replace it with the token-transfer client; the intent payload carries
// everything the transfer needs.
type logSettler struct{}

func (logSettler) Settle(ctx context.Context, intent claim.SettlementIntent) error {
	log.Info().
		Str("intent_id", intent.ID).
		Str("account", intent.AccountID).
		Str("period", intent.PeriodID).
		Float64("amount", intent.Amount).
		Str("token", intent.Token).
		Msg("settlement intent dispatched")
	return nil
}
