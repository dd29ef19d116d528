package server

import (
	"socialbrain/internal/browser"
	"socialbrain/internal/domain"
)

// CreateMissionRequest is the payload for POST /missions.
type CreateMissionRequest struct {
	Type     string `json:"type" example:"POST_SCHEDULE" enum:"POST_SCHEDULE,RALPH_LOOP,AGENT_CHAT,SESSION_WARMUP,ONBOARDING,CORTEX_PLAN,CONTENT_PREVIEW,ANALYTICS_EXPORT"`
	ClientID string `json:"client_id" example:"acme"`
	Context  string `json:"context,omitempty" example:"{\"platform\":\"linkedin\"}"`
}

// UpdateStatusRequest is the payload for PATCH /missions/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status" example:"EXECUTING" enum:"QUEUED,APPROVED,EXECUTING,CHECKPOINT,COMPLETED,FAILED,CANCELLED"`
	Error  string `json:"error,omitempty"`
}

// UpdateResultRequest is the payload for PATCH /missions/{id}/result.
type UpdateResultRequest struct {
	Result string `json:"result"`
}

// MissionListResponse wraps mission list endpoints.
type MissionListResponse struct {
	Missions []domain.Mission `json:"missions"`
}

// RecordCostRequest is the payload for POST /costs. CostUSD of zero means
// "price it from the rate table".
type RecordCostRequest struct {
	ClientID     string  `json:"client_id" example:"acme"`
	MissionID    string  `json:"mission_id,omitempty"`
	Model        string  `json:"model" example:"gemini-2.0-flash"`
	Provider     string  `json:"provider" example:"gemini" enum:"gemini,anthropic"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// RecordCostResponse reports the advisory budget check.
type RecordCostResponse struct {
	OverBudget bool `json:"over_budget"`
}

// CostTotalResponse carries a spend total in USD.
type CostTotalResponse struct {
	TotalUSD   float64 `json:"total_usd"`
	OverBudget bool    `json:"over_budget,omitempty"`
}

// GenerateProofRequest is the payload for POST /proof/{mission_id}.
type GenerateProofRequest struct {
	Summary string `json:"summary,omitempty"`
	Status  string `json:"status,omitempty" enum:"success,partial,failed"`
}

// ClassifyRequest previews routing for one inbound message.
type ClassifyRequest struct {
	Message      string `json:"message" example:"click the publish button"`
	LastToolName string `json:"last_tool_name,omitempty"`
}

// ClassifyResponse reports the chosen tier and model.
type ClassifyResponse struct {
	Tier          string `json:"tier"`
	Model         string `json:"model"`
	CompactPrompt bool   `json:"compact_prompt"`
}

// DiagnosticsResponse snapshots brain and companion health.
type DiagnosticsResponse struct {
	Timestamp   string                    `json:"timestamp"`
	DatabaseOK  bool                      `json:"database_ok"`
	CompanionOK bool                      `json:"companion_ok"`
	Missions    domain.MissionStats       `json:"missions"`
	Sessions    []browser.PlatformSession `json:"sessions,omitempty"`
}
