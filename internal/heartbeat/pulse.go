// Package heartbeat runs the brain's background loops: the telemetry pulse
// and the platform session warmup.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/domain"
)

const (
	pulseInitialDelay = 5 * time.Second
	pulseInterval     = 5 * time.Minute
	pulseSendTimeout  = 10 * time.Second

	// after this many consecutive failures the beacon goes quiet until a
	// send succeeds again
	maxLoggedFailures = 3
)

// MissionStatser supplies mission counts for the pulse payload.
type MissionStatser interface {
	Stats(ctx context.Context) (domain.MissionStats, error)
}

// CostStatser supplies trailing-24h spend for the pulse payload.
type CostStatser interface {
	GlobalStats(ctx context.Context, since int64) (domain.GlobalCostStats, error)
}

// Snapshot is one pulse payload.
type Snapshot struct {
	Timestamp  string              `json:"timestamp"`
	UptimeMs   int64               `json:"uptime_ms"`
	HeapMB     float64             `json:"heap_mb"`
	SysMB      float64             `json:"sys_mb"`
	Missions   domain.MissionStats `json:"missions"`
	Cost24h    float64             `json:"cost_24h"`
	ErrorCount int64               `json:"error_count"`
}

// Pulse periodically reports brain health to a remote endpoint. With no
// endpoint configured it stays in local mode and never sends.
type Pulse struct {
	Registry MissionStatser
	Ledger   CostStatser
	Endpoint string
	Interval time.Duration
	Initial  time.Duration
	HTTP     *http.Client
	Log      *zap.Logger
	Now      func() time.Time

	startTime           time.Time
	errorCount          atomic.Int64
	consecutiveFailures int
}

func NewPulse(reg MissionStatser, ledger CostStatser, endpoint string, log *zap.Logger) *Pulse {
	return &Pulse{
		Registry: reg,
		Ledger:   ledger,
		Endpoint: endpoint,
		Interval: pulseInterval,
		Initial:  pulseInitialDelay,
		HTTP:     &http.Client{},
		Log:      log,
		Now:      time.Now,
	}
}

func (p *Pulse) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// RecordError bumps the error counter carried in the next payload.
func (p *Pulse) RecordError() {
	p.errorCount.Add(1)
}

// Run sends pulses until the context is cancelled.
func (p *Pulse) Run(ctx context.Context) error {
	p.startTime = p.now()
	if p.Endpoint == "" && p.Log != nil {
		p.Log.Info("pulse in local mode, no endpoint configured")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.Initial):
	}
	p.Send(ctx)
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Send(ctx)
		}
	}
}

// BuildSnapshot assembles the current health payload.
func (p *Pulse) BuildSnapshot(ctx context.Context) Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap := Snapshot{
		Timestamp:  p.now().UTC().Format(time.RFC3339),
		UptimeMs:   p.now().Sub(p.startTime).Milliseconds(),
		HeapMB:     float64(mem.HeapAlloc) / (1 << 20),
		SysMB:      float64(mem.Sys) / (1 << 20),
		ErrorCount: p.errorCount.Load(),
	}
	if p.Registry != nil {
		if stats, err := p.Registry.Stats(ctx); err == nil {
			snap.Missions = stats
		}
	}
	if p.Ledger != nil {
		if stats, err := p.Ledger.GlobalStats(ctx, 0); err == nil {
			snap.Cost24h = stats.TotalCost
		}
	}
	return snap
}

// Send posts one snapshot. Local mode is a no-op. Failures are logged up
// to a cap, then swallowed silently until the next success resets it.
func (p *Pulse) Send(ctx context.Context) {
	snap := p.BuildSnapshot(ctx)
	if p.Endpoint == "" {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, pulseSendTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, p.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.HTTP.Do(req)
	if err != nil {
		p.consecutiveFailures++
		if p.consecutiveFailures <= maxLoggedFailures && p.Log != nil {
			p.Log.Warn("pulse send failed",
				zap.Int("attempt", p.consecutiveFailures),
				zap.Error(err))
		}
		return
	}
	resp.Body.Close()
	p.consecutiveFailures = 0
}

// Failures exposes the consecutive-failure count for diagnostics.
func (p *Pulse) Failures() int {
	return p.consecutiveFailures
}
