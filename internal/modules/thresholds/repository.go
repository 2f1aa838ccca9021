package thresholds

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository reads and seeds threshold configurations. The core never
// mutates thresholds during evaluation; Upsert exists for operators and
// for seeding a new account with defaults.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new thresholds repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "thresholds").Logger(),
	}
}

const thresholdColumns = `account, disable_min_trades, disable_win_rate, disable_loss_pct,
	disable_drawdown_pct, disable_loss_days, watch_win_rate_low, watch_win_rate_high,
	watch_profit_low, watch_profit_high, shadow_min_trades, shadow_min_win_rate,
	shadow_min_profit_days, opt_min_trades, opt_min_days, opt_min_quality,
	opt_max_param_delta, opt_min_improvement, opt_critical_win_rate`

// Get returns the threshold configuration for an account, falling back to
// defaults when no row exists. Missing configuration is expected for new
// accounts and is not an error.
func (r *Repository) Get(account string) (Config, error) {
	query := "SELECT " + thresholdColumns + " FROM threshold_configs WHERE account = ?"

	var cfg Config
	err := r.db.QueryRow(query, account).Scan(
		&cfg.Account,
		&cfg.DisableMinTrades,
		&cfg.DisableWinRate,
		&cfg.DisableLossPct,
		&cfg.DisableDrawdownPct,
		&cfg.DisableLossDays,
		&cfg.WatchWinRateLow,
		&cfg.WatchWinRateHigh,
		&cfg.WatchProfitLow,
		&cfg.WatchProfitHigh,
		&cfg.ShadowMinTrades,
		&cfg.ShadowMinWinRate,
		&cfg.ShadowMinProfitDays,
		&cfg.OptMinTrades,
		&cfg.OptMinDays,
		&cfg.OptMinQuality,
		&cfg.OptMaxParamDelta,
		&cfg.OptMinImprovement,
		&cfg.OptCriticalWinRate,
	)
	if err == sql.ErrNoRows {
		r.log.Debug().Str("account", account).Msg("No threshold config stored, using defaults")
		return Defaults(account), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to load threshold config for %s: %w", account, err)
	}

	return cfg, nil
}

// Upsert stores the threshold configuration for an account.
func (r *Repository) Upsert(cfg Config) error {
	query := `
		INSERT INTO threshold_configs (` + thresholdColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			disable_min_trades = excluded.disable_min_trades,
			disable_win_rate = excluded.disable_win_rate,
			disable_loss_pct = excluded.disable_loss_pct,
			disable_drawdown_pct = excluded.disable_drawdown_pct,
			disable_loss_days = excluded.disable_loss_days,
			watch_win_rate_low = excluded.watch_win_rate_low,
			watch_win_rate_high = excluded.watch_win_rate_high,
			watch_profit_low = excluded.watch_profit_low,
			watch_profit_high = excluded.watch_profit_high,
			shadow_min_trades = excluded.shadow_min_trades,
			shadow_min_win_rate = excluded.shadow_min_win_rate,
			shadow_min_profit_days = excluded.shadow_min_profit_days,
			opt_min_trades = excluded.opt_min_trades,
			opt_min_days = excluded.opt_min_days,
			opt_min_quality = excluded.opt_min_quality,
			opt_max_param_delta = excluded.opt_max_param_delta,
			opt_min_improvement = excluded.opt_min_improvement,
			opt_critical_win_rate = excluded.opt_critical_win_rate,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query,
		cfg.Account,
		cfg.DisableMinTrades,
		cfg.DisableWinRate,
		cfg.DisableLossPct,
		cfg.DisableDrawdownPct,
		cfg.DisableLossDays,
		cfg.WatchWinRateLow,
		cfg.WatchWinRateHigh,
		cfg.WatchProfitLow,
		cfg.WatchProfitHigh,
		cfg.ShadowMinTrades,
		cfg.ShadowMinWinRate,
		cfg.ShadowMinProfitDays,
		cfg.OptMinTrades,
		cfg.OptMinDays,
		cfg.OptMinQuality,
		cfg.OptMaxParamDelta,
		cfg.OptMinImprovement,
		cfg.OptCriticalWinRate,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert threshold config for %s: %w", cfg.Account, err)
	}

	r.log.Info().Str("account", cfg.Account).Msg("Threshold config updated")
	return nil
}
