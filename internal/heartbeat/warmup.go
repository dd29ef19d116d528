package heartbeat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/browser"
	"socialbrain/internal/domain"
)

const (
	warmupInitialDelay = 30 * time.Second
	warmupInterval     = 6 * time.Hour
)

// DefaultPlatforms are checked when the config names none.
var DefaultPlatforms = []string{"linkedin", "twitter", "instagram", "facebook", "youtube"}

// MissionRecorder is the slice of the registry the warmup needs to track
// its preflight runs.
type MissionRecorder interface {
	Create(ctx context.Context, t domain.MissionType, clientID, missionContext string) (domain.Mission, error)
	UpdateResult(ctx context.Context, id, result string) (domain.Mission, error)
	UpdateStatus(ctx context.Context, id string, status domain.MissionStatus, errMsg string) (domain.Mission, error)
}

// SessionSource reports the companion's authenticated platform sessions.
type SessionSource interface {
	PlatformSessions(ctx context.Context) []browser.PlatformSession
}

// PlatformStatus is the latest preflight outcome for one platform.
type PlatformStatus struct {
	Platform    string `json:"platform"`
	Alive       bool   `json:"alive"`
	LastChecked int64  `json:"last_checked"`
	Error       string `json:"error,omitempty"`
}

// Warmup periodically verifies platform sessions are still authenticated,
// recording each preflight as a SESSION_WARMUP mission under the system
// client.
type Warmup struct {
	Registry  MissionRecorder
	Sessions  SessionSource
	Platforms []string
	Interval  time.Duration
	Initial   time.Duration
	Log       *zap.Logger
	Now       func() time.Time

	mu       sync.Mutex
	statuses map[string]PlatformStatus
}

func NewWarmup(reg MissionRecorder, sessions SessionSource, platforms []string, log *zap.Logger) *Warmup {
	if len(platforms) == 0 {
		platforms = DefaultPlatforms
	}
	return &Warmup{
		Registry:  reg,
		Sessions:  sessions,
		Platforms: platforms,
		Interval:  warmupInterval,
		Initial:   warmupInitialDelay,
		Log:       log,
		Now:       time.Now,
		statuses:  map[string]PlatformStatus{},
	}
}

func (w *Warmup) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Run checks all platforms on a fixed cadence until cancelled.
func (w *Warmup) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.Initial):
	}
	w.CheckAll(ctx)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.CheckAll(ctx)
		}
	}
}

// CheckAll runs one preflight per configured platform. A failing platform
// never aborts the rest of the sweep.
func (w *Warmup) CheckAll(ctx context.Context) {
	authenticated := map[string]bool{}
	if w.Sessions != nil {
		for _, s := range w.Sessions.PlatformSessions(ctx) {
			authenticated[s.Platform] = s.Status == "authenticated"
		}
	}
	for _, platform := range w.Platforms {
		if err := w.preflight(ctx, platform, authenticated[platform]); err != nil {
			w.setStatus(PlatformStatus{
				Platform:    platform,
				Alive:       false,
				LastChecked: w.now().UnixMilli(),
				Error:       err.Error(),
			})
			if w.Log != nil {
				w.Log.Warn("session preflight failed",
					zap.String("platform", platform), zap.Error(err))
			}
		}
	}
}

func (w *Warmup) preflight(ctx context.Context, platform string, alive bool) error {
	contextJSON, _ := json.Marshal(map[string]string{"target_platform": platform})
	m, err := w.Registry.Create(ctx, domain.MissionSessionWarmup, "system", string(contextJSON))
	if err != nil {
		return err
	}
	resultJSON, _ := json.Marshal(map[string]any{
		"platform": platform,
		"alive":    alive,
	})
	if _, err := w.Registry.UpdateResult(ctx, m.ID, string(resultJSON)); err != nil {
		return err
	}
	if _, err := w.Registry.UpdateStatus(ctx, m.ID, domain.StatusCompleted, ""); err != nil {
		return err
	}
	w.setStatus(PlatformStatus{
		Platform:    platform,
		Alive:       alive,
		LastChecked: w.now().UnixMilli(),
	})
	return nil
}

func (w *Warmup) setStatus(s PlatformStatus) {
	w.mu.Lock()
	w.statuses[s.Platform] = s
	w.mu.Unlock()
}

// Statuses returns a copy of the latest preflight outcomes.
func (w *Warmup) Statuses() map[string]PlatformStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]PlatformStatus, len(w.statuses))
	for k, v := range w.statuses {
		out[k] = v
	}
	return out
}
