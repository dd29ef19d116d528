package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/db"
	"socialbrain/internal/domain"
	"socialbrain/internal/migrate"
	"socialbrain/internal/registry"
)

type testEnv struct {
	Registry registry.Registry
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg := registry.New(conn, nil, zap.NewNop())
	reg.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Registry: reg, Ctx: context.Background()}
}

func TestCreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Registry.Create(env.Ctx, domain.MissionPostSchedule, "client-1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want QUEUED", m.Status)
	}
	if m.Context != "{}" {
		t.Fatalf("empty context should default to {}, got %q", m.Context)
	}
	if m.CreatedAt != m.UpdatedAt || m.CreatedAt == 0 {
		t.Fatalf("created/updated = %d/%d", m.CreatedAt, m.UpdatedAt)
	}
	if m.CompletedAt != nil {
		t.Fatalf("completed_at set on create")
	}
	got, err := env.Registry.Get(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != m.ID || got.Type != domain.MissionPostSchedule {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Registry.Create(env.Ctx, "", "client-1", ""); err == nil {
		t.Fatal("expected error for missing type")
	}
	if _, err := env.Registry.Create(env.Ctx, domain.MissionAgentChat, "", ""); err == nil {
		t.Fatal("expected error for missing client")
	}
}

func TestStatusLifecycle(t *testing.T) {
	env := newTestEnv(t)
	m, err := env.Registry.Create(env.Ctx, domain.MissionRalphLoop, "client-1", `{"goal":"post"}`)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, s := range []domain.MissionStatus{domain.StatusApproved, domain.StatusExecuting, domain.StatusCheckpoint, domain.StatusExecuting} {
		if m, err = env.Registry.UpdateStatus(env.Ctx, m.ID, s, ""); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
		if m.CompletedAt != nil {
			t.Fatalf("completed_at set on non-terminal status %s", s)
		}
	}
	m, err = env.Registry.UpdateStatus(env.Ctx, m.ID, domain.StatusCompleted, "")
	if err != nil {
		t.Fatalf("to COMPLETED: %v", err)
	}
	if m.CompletedAt == nil || *m.CompletedAt != m.UpdatedAt {
		t.Fatalf("completed_at should equal updated_at on terminal write: %+v", m)
	}
}

func TestTerminalWritesRejected(t *testing.T) {
	env := newTestEnv(t)
	m, _ := env.Registry.Create(env.Ctx, domain.MissionAgentChat, "client-1", "")
	if _, err := env.Registry.UpdateStatus(env.Ctx, m.ID, domain.StatusCancelled, "operator cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	before, _ := env.Registry.Get(env.Ctx, m.ID)

	_, err := env.Registry.UpdateStatus(env.Ctx, m.ID, domain.StatusExecuting, "")
	if !errors.Is(err, registry.ErrMissionTerminal) {
		t.Fatalf("expected ErrMissionTerminal, got %v", err)
	}
	_, err = env.Registry.UpdateResult(env.Ctx, m.ID, `{"late":true}`)
	if !errors.Is(err, registry.ErrMissionTerminal) {
		t.Fatalf("expected ErrMissionTerminal on result, got %v", err)
	}

	after, _ := env.Registry.Get(env.Ctx, m.ID)
	if after.Status != before.Status || *after.CompletedAt != *before.CompletedAt {
		t.Fatalf("terminal mission mutated: before=%+v after=%+v", before, after)
	}
}

func TestFailedMissionKeepsError(t *testing.T) {
	env := newTestEnv(t)
	m, _ := env.Registry.Create(env.Ctx, domain.MissionOnboarding, "client-1", "")
	m, err := env.Registry.UpdateStatus(env.Ctx, m.ID, domain.StatusFailed, "companion unreachable")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	got, _ := env.Registry.Get(env.Ctx, m.ID)
	if got.Error == nil || *got.Error != "companion unreachable" {
		t.Fatalf("error not persisted: %+v", got)
	}
}

func TestUpdateResult(t *testing.T) {
	env := newTestEnv(t)
	m, _ := env.Registry.Create(env.Ctx, domain.MissionCortexPlan, "client-1", "")
	if _, err := env.Registry.UpdateResult(env.Ctx, m.ID, `{"plan":["a","b"]}`); err != nil {
		t.Fatalf("result: %v", err)
	}
	got, _ := env.Registry.Get(env.Ctx, m.ID)
	if got.Result == nil || *got.Result != `{"plan":["a","b"]}` {
		t.Fatalf("result not persisted: %+v", got)
	}
	if got.Status != domain.StatusQueued {
		t.Fatalf("result write must not touch status, got %s", got.Status)
	}
}

func TestFailZombies(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Registry.Create(env.Ctx, domain.MissionPostSchedule, "client-1", "")
	b, _ := env.Registry.Create(env.Ctx, domain.MissionAgentChat, "client-2", "")
	c, _ := env.Registry.Create(env.Ctx, domain.MissionRalphLoop, "client-1", "")
	_, _ = env.Registry.UpdateStatus(env.Ctx, a.ID, domain.StatusExecuting, "")
	_, _ = env.Registry.UpdateStatus(env.Ctx, b.ID, domain.StatusCheckpoint, "")
	// c stays QUEUED and must survive the sweep

	n, err := env.Registry.FailZombies(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	for _, id := range []string{a.ID, b.ID} {
		got, _ := env.Registry.Get(env.Ctx, id)
		if got.Status != domain.StatusFailed || got.Error == nil || got.CompletedAt == nil {
			t.Fatalf("zombie not failed properly: %+v", got)
		}
	}
	queued, _ := env.Registry.Get(env.Ctx, c.ID)
	if queued.Status != domain.StatusQueued {
		t.Fatalf("queued mission swept: %+v", queued)
	}

	// idempotent
	n, err = env.Registry.FailZombies(env.Ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
}

func TestListActiveAndStats(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.Registry.Create(env.Ctx, domain.MissionPostSchedule, "client-1", "")
	b, _ := env.Registry.Create(env.Ctx, domain.MissionAgentChat, "client-1", "")
	_, _ = env.Registry.Create(env.Ctx, domain.MissionAgentChat, "client-2", "")
	_, _ = env.Registry.UpdateStatus(env.Ctx, a.ID, domain.StatusExecuting, "")
	_, _ = env.Registry.UpdateStatus(env.Ctx, b.ID, domain.StatusCompleted, "")

	active, err := env.Registry.ListActive(env.Ctx, "client-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("active = %+v, want only %s", active, a.ID)
	}

	stats, err := env.Registry.Stats(env.Ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 2 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	clientStats, err := env.Registry.ClientStats(env.Ctx, "client-1")
	if err != nil {
		t.Fatalf("client stats: %v", err)
	}
	if clientStats.Total != 2 || clientStats.Active != 1 || clientStats.Completed != 1 {
		t.Fatalf("client stats = %+v", clientStats)
	}
}

func TestListByTypeAndStatus(t *testing.T) {
	env := newTestEnv(t)
	_, _ = env.Registry.Create(env.Ctx, domain.MissionSessionWarmup, "system", "")
	_, _ = env.Registry.Create(env.Ctx, domain.MissionSessionWarmup, "system", "")
	m, _ := env.Registry.Create(env.Ctx, domain.MissionPostSchedule, "client-1", "")
	_, _ = env.Registry.UpdateStatus(env.Ctx, m.ID, domain.StatusExecuting, "")

	byType, err := env.Registry.ListByType(env.Ctx, domain.MissionSessionWarmup, 0)
	if err != nil || len(byType) != 2 {
		t.Fatalf("by type: %d %v", len(byType), err)
	}
	byStatus, err := env.Registry.ListByStatus(env.Ctx, domain.StatusExecuting, 0)
	if err != nil || len(byStatus) != 1 {
		t.Fatalf("by status: %d %v", len(byStatus), err)
	}
}
