package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/quantpilot/governor/internal/modules/thresholds"
	"github.com/quantpilot/governor/internal/modules/versions"
)

// checkSafeguards runs every hard gate and returns the complete failure
// list; all gates are evaluated even after the first failure so the run
// record shows everything that was wrong.
func checkSafeguards(
	qualityScore float64,
	tradeCount int,
	lookbackDays int,
	current, proposed versions.Params,
	cfg thresholds.Config,
) (bool, []string) {
	var failures []string

	if qualityScore < cfg.OptMinQuality {
		failures = append(failures, fmt.Sprintf("data quality score %.0f below minimum %.0f",
			qualityScore, cfg.OptMinQuality))
	}
	if tradeCount < cfg.OptMinTrades {
		failures = append(failures, fmt.Sprintf("trade count %d below minimum %d",
			tradeCount, cfg.OptMinTrades))
	}
	if lookbackDays < cfg.OptMinDays {
		failures = append(failures, fmt.Sprintf("lookback %d days below minimum %d",
			lookbackDays, cfg.OptMinDays))
	}

	failures = append(failures, deltaFailures(current, proposed, cfg.OptMaxParamDelta)...)

	return len(failures) == 0, failures
}

// deltaFailures lists every proposed parameter whose fractional change from
// its current value exceeds the configured maximum. Parameters are checked
// in sorted name order so the failure list is deterministic.
func deltaFailures(current, proposed versions.Params, maxDelta float64) []string {
	if proposed == nil {
		return nil
	}

	names := make([]string, 0, len(proposed))
	for name := range proposed {
		names = append(names, name)
	}
	sort.Strings(names)

	var failures []string
	for _, name := range names {
		base, ok := current[name]
		if ok && proposed[name] == base {
			continue
		}
		if !ok || base == 0 {
			// A parameter with no current value has no meaningful fractional
			// delta; refuse rather than divide by zero.
			failures = append(failures, fmt.Sprintf("parameter %s has no nonzero current value to bound against", name))
			continue
		}
		delta := math.Abs(proposed[name]-base) / math.Abs(base)
		if delta > maxDelta {
			failures = append(failures, fmt.Sprintf("parameter %s change %.1f%% exceeds maximum %.1f%%",
				name, delta*100, maxDelta*100))
		}
	}
	return failures
}
