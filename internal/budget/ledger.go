package budget

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/domain"
	"socialbrain/internal/repo"
)

// Fallback per-1K-token rates for models missing from the rate table.
// Deliberately conservative so unknown models overcount rather than
// undercount.
const (
	fallbackInputPer1K  = 0.001
	fallbackOutputPer1K = 0.004
)

const defaultWindow = 24 * time.Hour

// Rate is the USD price per 1000 tokens for one model.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// RateEntry is one row of the configured rate table.
type RateEntry struct {
	Model       string  `yaml:"model"`
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// BuildRateTable validates configured entries into a lookup table.
// A duplicated model is a configuration error, not an override.
func BuildRateTable(entries []RateEntry) (map[string]Rate, error) {
	table := make(map[string]Rate, len(entries))
	for _, e := range entries {
		if e.Model == "" {
			return nil, fmt.Errorf("rate table entry with empty model")
		}
		if _, dup := table[e.Model]; dup {
			return nil, fmt.Errorf("duplicate rate table entry for model %s", e.Model)
		}
		if e.InputPer1K < 0 || e.OutputPer1K < 0 {
			return nil, fmt.Errorf("negative rate for model %s", e.Model)
		}
		table[e.Model] = Rate{InputPer1K: e.InputPer1K, OutputPer1K: e.OutputPer1K}
	}
	return table, nil
}

// Ledger is the append-only cost tracker. Budget breaches are advisory:
// RecordUsage never blocks a call, it records and flags.
type Ledger struct {
	DB    *sql.DB
	Repo  repo.Repo
	Rates map[string]Rate
	Limit float64
	Log   *zap.Logger
	Now   func() time.Time
}

func New(db *sql.DB, rates map[string]Rate, limit float64, log *zap.Logger) Ledger {
	return Ledger{
		DB:    db,
		Repo:  repo.Repo{DB: db},
		Rates: rates,
		Limit: limit,
		Log:   log,
		Now:   time.Now,
	}
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// CalculateCost prices a call against the rate table, falling back to the
// conservative default for unknown models.
func (l Ledger) CalculateCost(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := l.Rates[model]
	if !ok {
		rate = Rate{InputPer1K: fallbackInputPer1K, OutputPer1K: fallbackOutputPer1K}
	}
	return (float64(inputTokens)*rate.InputPer1K + float64(outputTokens)*rate.OutputPer1K) / 1000
}

// RecordUsage appends one ledger row. When the entry carries no cost it is
// priced from the rate table. Returns whether the mission is now over its
// budget limit; the breach is logged, never enforced.
func (l Ledger) RecordUsage(ctx context.Context, e domain.CostEntry) (bool, error) {
	if e.ClientID == "" {
		return false, fmt.Errorf("client id is required")
	}
	if e.Model == "" {
		return false, fmt.Errorf("model is required")
	}
	if e.CostUSD == 0 {
		e.CostUSD = l.CalculateCost(e.Model, e.InputTokens, e.OutputTokens)
	}
	if e.Timestamp == 0 {
		e.Timestamp = l.now().UnixMilli()
	}
	if err := l.Repo.InsertCost(ctx, e); err != nil {
		return false, fmt.Errorf("insert cost: %w", err)
	}
	if e.MissionID == nil || l.Limit <= 0 {
		return false, nil
	}
	over, err := l.IsOverBudget(ctx, *e.MissionID)
	if err != nil {
		return false, err
	}
	if over && l.Log != nil {
		l.Log.Warn("mission over budget",
			zap.String("mission_id", *e.MissionID),
			zap.String("client_id", e.ClientID),
			zap.Float64("limit_usd", l.Limit))
	}
	return over, nil
}

// MissionCost sums all ledger rows for a mission.
func (l Ledger) MissionCost(ctx context.Context, missionID string) (float64, error) {
	return l.Repo.SumMissionCost(ctx, missionID)
}

// ClientCost sums a client's spend since the given epoch-millis timestamp.
// A non-positive since means the trailing 24 hours.
func (l Ledger) ClientCost(ctx context.Context, clientID string, since int64) (float64, error) {
	return l.Repo.SumClientCost(ctx, clientID, l.sinceOrDefault(since))
}

// IsOverBudget reports whether a mission's spend has reached the limit.
// The boundary is inclusive: spend equal to the limit is over.
func (l Ledger) IsOverBudget(ctx context.Context, missionID string) (bool, error) {
	if l.Limit <= 0 {
		return false, nil
	}
	total, err := l.Repo.SumMissionCost(ctx, missionID)
	if err != nil {
		return false, err
	}
	return total >= l.Limit, nil
}

// GlobalStats aggregates all traffic since the given timestamp (default 24h).
func (l Ledger) GlobalStats(ctx context.Context, since int64) (domain.GlobalCostStats, error) {
	return l.Repo.GlobalCostStats(ctx, l.sinceOrDefault(since))
}

// FallbackStats reports primary-vs-fallback provider traffic since the
// given timestamp (default 24h). FallbackRate is 0 when there was none.
func (l Ledger) FallbackStats(ctx context.Context, since int64) (domain.FallbackStats, error) {
	return l.Repo.FallbackStats(ctx, l.sinceOrDefault(since))
}

func (l Ledger) sinceOrDefault(since int64) int64 {
	if since > 0 {
		return since
	}
	return l.now().Add(-defaultWindow).UnixMilli()
}
