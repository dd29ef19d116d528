package heartbeat_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"socialbrain/internal/browser"
	"socialbrain/internal/domain"
	"socialbrain/internal/heartbeat"
)

type fakeStats struct{}

func (fakeStats) Stats(context.Context) (domain.MissionStats, error) {
	return domain.MissionStats{Total: 7, Active: 2, Completed: 4, Failed: 1}, nil
}

type fakeCosts struct{}

func (fakeCosts) GlobalStats(context.Context, int64) (domain.GlobalCostStats, error) {
	return domain.GlobalCostStats{TotalCost: 1.23}, nil
}

func TestPulseLocalModeNeverSends(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	// endpoint deliberately empty: local mode
	p := heartbeat.NewPulse(fakeStats{}, fakeCosts{}, "", zap.NewNop())
	p.Send(context.Background())
	assert.Zero(t, calls)
}

func TestPulseSendsSnapshot(t *testing.T) {
	var mu sync.Mutex
	var got heartbeat.Snapshot
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	p := heartbeat.NewPulse(fakeStats{}, fakeCosts{}, srv.URL, zap.NewNop())
	p.RecordError()
	p.RecordError()
	p.Send(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 7, got.Missions.Total)
	assert.Equal(t, 2, got.Missions.Active)
	assert.InDelta(t, 1.23, got.Cost24h, 1e-9)
	assert.EqualValues(t, 2, got.ErrorCount)
	assert.NotEmpty(t, got.Timestamp)
}

func TestPulseFailureCounterResets(t *testing.T) {
	p := heartbeat.NewPulse(fakeStats{}, fakeCosts{}, "http://127.0.0.1:1", zap.NewNop())
	p.HTTP = &http.Client{Timeout: 100 * time.Millisecond}

	for i := 0; i < 5; i++ {
		p.Send(context.Background())
	}
	assert.Equal(t, 5, p.Failures())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	p.Endpoint = srv.URL
	p.Send(context.Background())
	assert.Zero(t, p.Failures())
}

type recordingRegistry struct {
	mu       sync.Mutex
	missions map[string]*domain.Mission
	nextID   int
}

func (r *recordingRegistry) Create(_ context.Context, t domain.MissionType, clientID, ctxJSON string) (domain.Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missions == nil {
		r.missions = map[string]*domain.Mission{}
	}
	r.nextID++
	m := domain.Mission{ID: string(rune('a' + r.nextID)), Type: t, Status: domain.StatusQueued, ClientID: clientID, Context: ctxJSON}
	r.missions[m.ID] = &m
	return m, nil
}

func (r *recordingRegistry) UpdateResult(_ context.Context, id, result string) (domain.Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.missions[id]
	m.Result = &result
	return *m, nil
}

func (r *recordingRegistry) UpdateStatus(_ context.Context, id string, status domain.MissionStatus, _ string) (domain.Mission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.missions[id]
	m.Status = status
	return *m, nil
}

type fakeSessions struct {
	sessions []browser.PlatformSession
}

func (f fakeSessions) PlatformSessions(context.Context) []browser.PlatformSession {
	return f.sessions
}

func TestWarmupRecordsMissionPerPlatform(t *testing.T) {
	reg := &recordingRegistry{}
	sessions := fakeSessions{sessions: []browser.PlatformSession{
		{Platform: "linkedin", Status: "authenticated"},
		{Platform: "twitter", Status: "expired"},
	}}
	w := heartbeat.NewWarmup(reg, sessions, []string{"linkedin", "twitter", "youtube"}, zap.NewNop())
	w.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	w.CheckAll(context.Background())

	reg.mu.Lock()
	require.Len(t, reg.missions, 3)
	for _, m := range reg.missions {
		assert.Equal(t, domain.MissionSessionWarmup, m.Type)
		assert.Equal(t, "system", m.ClientID)
		assert.Equal(t, domain.StatusCompleted, m.Status)
		require.NotNil(t, m.Result)
	}
	reg.mu.Unlock()

	statuses := w.Statuses()
	require.Len(t, statuses, 3)
	assert.True(t, statuses["linkedin"].Alive)
	assert.False(t, statuses["twitter"].Alive, "expired session is not alive")
	assert.False(t, statuses["youtube"].Alive, "no session means not alive")
}

func TestWarmupDefaultPlatforms(t *testing.T) {
	w := heartbeat.NewWarmup(&recordingRegistry{}, fakeSessions{}, nil, zap.NewNop())
	assert.Equal(t, heartbeat.DefaultPlatforms, w.Platforms)
}
