package socialbrainsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Social Brain HTTP API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Mission represents the API mission model.
type Mission struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	Status      string  `json:"status"`
	ClientID    string  `json:"client_id"`
	Context     string  `json:"context"`
	Result      *string `json:"result,omitempty"`
	Error       *string `json:"error,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	UpdatedAt   int64   `json:"updated_at"`
	CompletedAt *int64  `json:"completed_at,omitempty"`
}

// MissionStats aggregates mission counts.
type MissionStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// CostTotal is a spend figure plus the advisory budget flag.
type CostTotal struct {
	TotalUSD   float64 `json:"total_usd"`
	OverBudget bool    `json:"over_budget,omitempty"`
}

// CostStats aggregates spend over a time window.
type CostStats struct {
	TotalCost    float64            `json:"total_cost"`
	TotalTokens  int64              `json:"total_tokens"`
	RequestCount int64              `json:"request_count"`
	CostByModel  map[string]float64 `json:"cost_by_model"`
	CostByClient map[string]float64 `json:"cost_by_client"`
}

// Proof is a mission's evidence bundle.
type Proof struct {
	MissionID   string   `json:"mission_id"`
	GeneratedAt string   `json:"generated_at"`
	Summary     string   `json:"summary"`
	Screenshots []string `json:"screenshots"`
	Platforms   []string `json:"platforms"`
	DurationMs  *int64   `json:"duration_ms,omitempty"`
	Status      string   `json:"status"`
}

// Classification is the routing preview for one message.
type Classification struct {
	Tier          string `json:"tier"`
	Model         string `json:"model"`
	CompactPrompt bool   `json:"compact_prompt"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateMission queues a new mission.
func (c *Client) CreateMission(ctx context.Context, missionType, clientID, missionContext string) (Mission, error) {
	body := map[string]any{
		"type":      missionType,
		"client_id": clientID,
		"context":   missionContext,
	}
	var resp Mission
	err := c.do(ctx, http.MethodPost, "missions", body, &resp)
	return resp, err
}

// GetMission fetches one mission.
func (c *Client) GetMission(ctx context.Context, id string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodGet, "missions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateStatus moves a mission through its lifecycle.
func (c *Client) UpdateStatus(ctx context.Context, id, status, errMsg string) (Mission, error) {
	body := map[string]any{"status": status}
	if errMsg != "" {
		body["error"] = errMsg
	}
	var resp Mission
	err := c.do(ctx, http.MethodPatch, "missions/"+url.PathEscape(id)+"/status", body, &resp)
	return resp, err
}

// UpdateResult attaches a serialized result to a mission.
func (c *Client) UpdateResult(ctx context.Context, id, result string) (Mission, error) {
	var resp Mission
	err := c.do(ctx, http.MethodPatch, "missions/"+url.PathEscape(id)+"/result", map[string]any{"result": result}, &resp)
	return resp, err
}

// ActiveMissions lists a client's non-terminal missions.
func (c *Client) ActiveMissions(ctx context.Context, clientID string) ([]Mission, error) {
	var resp struct {
		Missions []Mission `json:"missions"`
	}
	err := c.do(ctx, http.MethodGet, "missions/active/"+url.PathEscape(clientID), nil, &resp)
	return resp.Missions, err
}

// Stats returns mission counts across all clients.
func (c *Client) Stats(ctx context.Context) (MissionStats, error) {
	var resp MissionStats
	err := c.do(ctx, http.MethodGet, "stats", nil, &resp)
	return resp, err
}

// RecordCost appends one model-call ledger row. A zero costUSD is priced
// server-side from the rate table. Returns the advisory over-budget flag.
func (c *Client) RecordCost(ctx context.Context, clientID, missionID, model, provider string, inputTokens, outputTokens int64, costUSD float64) (bool, error) {
	body := map[string]any{
		"client_id":     clientID,
		"mission_id":    missionID,
		"model":         model,
		"provider":      provider,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
		"cost_usd":      costUSD,
	}
	var resp struct {
		OverBudget bool `json:"over_budget"`
	}
	err := c.do(ctx, http.MethodPost, "costs", body, &resp)
	return resp.OverBudget, err
}

// MissionCost returns total spend for a mission.
func (c *Client) MissionCost(ctx context.Context, missionID string) (CostTotal, error) {
	var resp CostTotal
	err := c.do(ctx, http.MethodGet, "costs/mission/"+url.PathEscape(missionID), nil, &resp)
	return resp, err
}

// CostStats returns aggregate spend since the given epoch-millis timestamp;
// zero means the trailing 24 hours.
func (c *Client) CostStats(ctx context.Context, since int64) (CostStats, error) {
	endpoint := "costs/stats"
	if since > 0 {
		endpoint = fmt.Sprintf("%s?since=%d", endpoint, since)
	}
	var resp CostStats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetProof fetches a mission's proof package.
func (c *Client) GetProof(ctx context.Context, missionID string) (Proof, error) {
	var resp Proof
	err := c.do(ctx, http.MethodGet, "proof/"+url.PathEscape(missionID), nil, &resp)
	return resp, err
}

// Classify previews which model tier a message routes to.
func (c *Client) Classify(ctx context.Context, message, lastToolName string) (Classification, error) {
	body := map[string]any{"message": message}
	if lastToolName != "" {
		body["last_tool_name"] = lastToolName
	}
	var resp Classification
	err := c.do(ctx, http.MethodPost, "classify", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("X-Brain-Token", c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
