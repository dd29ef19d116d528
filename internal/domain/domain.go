package domain

// MissionType identifies the kind of long-running work a mission tracks.
type MissionType string

const (
	MissionPostSchedule    MissionType = "POST_SCHEDULE"
	MissionRalphLoop       MissionType = "RALPH_LOOP"
	MissionAgentChat       MissionType = "AGENT_CHAT"
	MissionSessionWarmup   MissionType = "SESSION_WARMUP"
	MissionOnboarding      MissionType = "ONBOARDING"
	MissionCortexPlan      MissionType = "CORTEX_PLAN"
	MissionContentPreview  MissionType = "CONTENT_PREVIEW"
	MissionAnalyticsExport MissionType = "ANALYTICS_EXPORT"
)

// MissionStatus is the lifecycle state of a mission.
// QUEUED -> APPROVED -> EXECUTING -> CHECKPOINT -> {COMPLETED|FAILED|CANCELLED}.
// CHECKPOINT may return to EXECUTING.
type MissionStatus string

const (
	StatusQueued     MissionStatus = "QUEUED"
	StatusApproved   MissionStatus = "APPROVED"
	StatusExecuting  MissionStatus = "EXECUTING"
	StatusCheckpoint MissionStatus = "CHECKPOINT"
	StatusCompleted  MissionStatus = "COMPLETED"
	StatusFailed     MissionStatus = "FAILED"
	StatusCancelled  MissionStatus = "CANCELLED"
)

// Terminal reports whether the status ends the mission lifecycle.
func (s MissionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the status counts toward a client's active missions.
func (s MissionStatus) Active() bool {
	switch s {
	case StatusQueued, StatusApproved, StatusExecuting, StatusCheckpoint:
		return true
	}
	return false
}

// Mission is a durable unit of agent-driven work. Context and Result are
// serialized JSON blobs opaque to the registry; callers type them.
type Mission struct {
	ID          string        `json:"id"`
	Type        MissionType   `json:"type"`
	Status      MissionStatus `json:"status"`
	ClientID    string        `json:"client_id"`
	Context     string        `json:"context"`
	Result      *string       `json:"result,omitempty"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
	CompletedAt *int64        `json:"completed_at,omitempty"`
}

// MissionStats bucket counts by status group.
type MissionStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Provider identifies which LLM backend served a call.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
)

// CostEntry is one append-only ledger row for a single model call.
type CostEntry struct {
	ClientID     string   `json:"client_id"`
	MissionID    *string  `json:"mission_id,omitempty"`
	Model        string   `json:"model"`
	Provider     Provider `json:"provider"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	CostUSD      float64  `json:"cost_usd"`
	Timestamp    int64    `json:"timestamp"`
}

// GlobalCostStats aggregates ledger rows over a time window.
type GlobalCostStats struct {
	TotalCost    float64            `json:"total_cost"`
	TotalTokens  int64              `json:"total_tokens"`
	RequestCount int64              `json:"request_count"`
	CostByModel  map[string]float64 `json:"cost_by_model"`
	CostByClient map[string]float64 `json:"cost_by_client"`
}

// FallbackStats breaks down primary vs fallback provider traffic.
type FallbackStats struct {
	GeminiCalls    int64   `json:"gemini_calls"`
	GeminiCost     float64 `json:"gemini_cost"`
	AnthropicCalls int64   `json:"anthropic_calls"`
	AnthropicCost  float64 `json:"anthropic_cost"`
	FallbackRate   float64 `json:"fallback_rate"`
}

// ProofStatus grades the outcome recorded in a proof package.
type ProofStatus string

const (
	ProofSuccess ProofStatus = "success"
	ProofPartial ProofStatus = "partial"
	ProofFailed  ProofStatus = "failed"
)

// ActivityEntry is one line of the append-only activity journal. The proof
// subsystem reads these; it never writes them.
type ActivityEntry struct {
	Timestamp string `json:"timestamp"`
	MissionID string `json:"mission_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Action    string `json:"action"`
	Platform  string `json:"platform,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// ProofPackage is the evidence bundle written once per proof generation.
type ProofPackage struct {
	MissionID   string          `json:"mission_id"`
	GeneratedAt string          `json:"generated_at" format:"date-time"`
	Summary     string          `json:"summary"`
	Activities  []ActivityEntry `json:"activities"`
	Screenshots []string        `json:"screenshots"`
	DurationMs  *int64          `json:"duration_ms,omitempty"`
	Platforms   []string        `json:"platforms"`
	Status      ProofStatus     `json:"status"`
}

// TabInfo describes one companion browser tab.
type TabInfo struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	IsActive bool   `json:"isActive"`
}
