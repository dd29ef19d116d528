package repo

import (
	"context"
	"database/sql"

	"socialbrain/internal/domain"
)

func (r Repo) InsertCost(ctx context.Context, e domain.CostEntry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO llm_costs(client_id,mission_id,model,provider,input_tokens,output_tokens,cost_usd,timestamp) VALUES (?,?,?,?,?,?,?,?)`,
		e.ClientID, nullableStringPtr(e.MissionID), e.Model, e.Provider, e.InputTokens, e.OutputTokens, e.CostUSD, e.Timestamp)
	return err
}

func (r Repo) SumMissionCost(ctx context.Context, missionID string) (float64, error) {
	var total float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_usd),0) FROM llm_costs WHERE mission_id=?`, missionID).Scan(&total)
	return total, err
}

func (r Repo) SumClientCost(ctx context.Context, clientID string, since int64) (float64, error) {
	var total float64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_usd),0) FROM llm_costs WHERE client_id=? AND timestamp>=?`, clientID, since).Scan(&total)
	return total, err
}

func (r Repo) GlobalCostStats(ctx context.Context, since int64) (domain.GlobalCostStats, error) {
	stats := domain.GlobalCostStats{
		CostByModel:  map[string]float64{},
		CostByClient: map[string]float64{},
	}
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost_usd),0), COALESCE(SUM(input_tokens+output_tokens),0), COUNT(*) FROM llm_costs WHERE timestamp>=?`, since).
		Scan(&stats.TotalCost, &stats.TotalTokens, &stats.RequestCount)
	if err != nil {
		return stats, err
	}
	if err := sumGroupBy(ctx, r.DB, `SELECT model, COALESCE(SUM(cost_usd),0) FROM llm_costs WHERE timestamp>=? GROUP BY model`, since, stats.CostByModel); err != nil {
		return stats, err
	}
	if err := sumGroupBy(ctx, r.DB, `SELECT client_id, COALESCE(SUM(cost_usd),0) FROM llm_costs WHERE timestamp>=? GROUP BY client_id`, since, stats.CostByClient); err != nil {
		return stats, err
	}
	return stats, nil
}

func sumGroupBy(ctx context.Context, db *sql.DB, query string, since int64, out map[string]float64) error {
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var sum float64
		if err := rows.Scan(&key, &sum); err != nil {
			return err
		}
		out[key] = sum
	}
	return rows.Err()
}

func (r Repo) FallbackStats(ctx context.Context, since int64) (domain.FallbackStats, error) {
	var stats domain.FallbackStats
	rows, err := r.DB.QueryContext(ctx, `SELECT provider, COUNT(*), COALESCE(SUM(cost_usd),0) FROM llm_costs WHERE timestamp>=? GROUP BY provider`, since)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var provider domain.Provider
		var calls int64
		var cost float64
		if err := rows.Scan(&provider, &calls, &cost); err != nil {
			return stats, err
		}
		switch provider {
		case domain.ProviderGemini:
			stats.GeminiCalls, stats.GeminiCost = calls, cost
		case domain.ProviderAnthropic:
			stats.AnthropicCalls, stats.AnthropicCost = calls, cost
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if total := stats.GeminiCalls + stats.AnthropicCalls; total > 0 {
		stats.FallbackRate = float64(stats.AnthropicCalls) / float64(total)
	}
	return stats, nil
}
