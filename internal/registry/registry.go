package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"socialbrain/internal/domain"
	"socialbrain/internal/repo"
)

// ErrMissionTerminal is returned when a status or result write targets a
// mission already in COMPLETED, FAILED, or CANCELLED.
var ErrMissionTerminal = errors.New("mission is terminal")

// zombieDiagnostic is the error recorded on missions abandoned by a crash.
const zombieDiagnostic = "orphaned by restart: process exited while mission was in flight"

// Journal receives a best-effort audit line for each lifecycle change.
type Journal interface {
	Append(entry domain.ActivityEntry) error
}

// Registry is the durable mission store. All writes are synchronous: when a
// method returns without error the row is committed.
type Registry struct {
	DB      *sql.DB
	Repo    repo.Repo
	Journal Journal
	Log     *zap.Logger
	Now     func() time.Time
}

func New(db *sql.DB, journal Journal, log *zap.Logger) Registry {
	return Registry{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal,
		Log:     log,
		Now:     time.Now,
	}
}

func (r Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Registry) nowMillis() int64 {
	return r.now().UnixMilli()
}

func (r Registry) journal(entry domain.ActivityEntry) {
	if r.Journal == nil {
		return
	}
	if err := r.Journal.Append(entry); err != nil && r.Log != nil {
		r.Log.Warn("activity append failed", zap.Error(err))
	}
}

// Create inserts a new QUEUED mission. Context is an opaque JSON blob;
// empty context is stored as "{}".
func (r Registry) Create(ctx context.Context, missionType domain.MissionType, clientID, missionContext string) (domain.Mission, error) {
	if missionType == "" {
		return domain.Mission{}, errors.New("mission type is required")
	}
	if clientID == "" {
		return domain.Mission{}, errors.New("client id is required")
	}
	if missionContext == "" {
		missionContext = "{}"
	}
	now := r.nowMillis()
	m := domain.Mission{
		ID:        uuid.NewString(),
		Type:      missionType,
		Status:    domain.StatusQueued,
		ClientID:  clientID,
		Context:   missionContext,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()
	if err := r.Repo.InsertMission(ctx, tx, m); err != nil {
		return domain.Mission{}, fmt.Errorf("insert mission: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	r.journal(domain.ActivityEntry{
		Timestamp: r.now().UTC().Format(time.RFC3339),
		MissionID: m.ID,
		ClientID:  clientID,
		Action:    "mission_created",
		Detail:    string(missionType),
	})
	return m, nil
}

// UpdateStatus moves a mission to the given status. Writes against a
// terminal mission are rejected with ErrMissionTerminal. completed_at is set
// exactly when the new status is terminal.
func (r Registry) UpdateStatus(ctx context.Context, id string, status domain.MissionStatus, errMsg string) (domain.Mission, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := r.Repo.GetMissionTx(ctx, tx, id)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.Status.Terminal() {
		return domain.Mission{}, fmt.Errorf("mission %s in status %s: %w", id, m.Status, ErrMissionTerminal)
	}

	now := r.nowMillis()
	m.Status = status
	m.UpdatedAt = now
	if errMsg != "" {
		m.Error = &errMsg
	}
	if status.Terminal() {
		m.CompletedAt = &now
	}
	if err := r.Repo.UpdateMissionStatus(ctx, tx, id, m.Status, m.Error, m.UpdatedAt, m.CompletedAt); err != nil {
		return domain.Mission{}, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Mission{}, err
	}
	r.journal(domain.ActivityEntry{
		Timestamp: r.now().UTC().Format(time.RFC3339),
		MissionID: id,
		ClientID:  m.ClientID,
		Action:    "mission_status",
		Detail:    string(status),
	})
	return m, nil
}

// UpdateResult attaches a serialized result without touching status.
// Rejected on terminal missions like UpdateStatus.
func (r Registry) UpdateResult(ctx context.Context, id, result string) (domain.Mission, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Mission{}, err
	}
	defer tx.Rollback()

	m, err := r.Repo.GetMissionTx(ctx, tx, id)
	if err != nil {
		return domain.Mission{}, err
	}
	if m.Status.Terminal() {
		return domain.Mission{}, fmt.Errorf("mission %s in status %s: %w", id, m.Status, ErrMissionTerminal)
	}
	now := r.nowMillis()
	if err := r.Repo.UpdateMissionResult(ctx, tx, id, result, now); err != nil {
		return domain.Mission{}, fmt.Errorf("update result: %w", err)
	}
	m.Result = &result
	m.UpdatedAt = now
	return m, tx.Commit()
}

func (r Registry) Get(ctx context.Context, id string) (domain.Mission, error) {
	return r.Repo.GetMission(ctx, id)
}

// ListActive returns the client's non-terminal missions, newest first.
func (r Registry) ListActive(ctx context.Context, clientID string) ([]domain.Mission, error) {
	return r.Repo.ListMissions(ctx, repo.MissionFilters{
		ClientID: clientID,
		Statuses: []domain.MissionStatus{domain.StatusQueued, domain.StatusApproved, domain.StatusExecuting, domain.StatusCheckpoint},
	})
}

func (r Registry) ListByClient(ctx context.Context, clientID string, limit int) ([]domain.Mission, error) {
	return r.Repo.ListMissions(ctx, repo.MissionFilters{ClientID: clientID, Limit: limit})
}

func (r Registry) ListByStatus(ctx context.Context, status domain.MissionStatus, limit int) ([]domain.Mission, error) {
	return r.Repo.ListMissions(ctx, repo.MissionFilters{Status: status, Limit: limit})
}

func (r Registry) ListByType(ctx context.Context, missionType domain.MissionType, limit int) ([]domain.Mission, error) {
	return r.Repo.ListMissions(ctx, repo.MissionFilters{Type: missionType, Limit: limit})
}

// FailZombies marks every EXECUTING or CHECKPOINT mission FAILED with a
// fixed diagnostic. Run once at startup before any new work is accepted.
// Idempotent: a second call finds nothing to sweep.
func (r Registry) FailZombies(ctx context.Context) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := r.Repo.SweepStatuses(ctx, tx,
		[]domain.MissionStatus{domain.StatusExecuting, domain.StatusCheckpoint},
		domain.StatusFailed, zombieDiagnostic, r.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("sweep zombies: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 && r.Log != nil {
		r.Log.Warn("failed zombie missions from previous run", zap.Int("count", n))
	}
	return n, nil
}

// Stats aggregates mission counts across all clients.
func (r Registry) Stats(ctx context.Context) (domain.MissionStats, error) {
	return r.stats(ctx, "")
}

// ClientStats aggregates mission counts for one client.
func (r Registry) ClientStats(ctx context.Context, clientID string) (domain.MissionStats, error) {
	return r.stats(ctx, clientID)
}

func (r Registry) stats(ctx context.Context, clientID string) (domain.MissionStats, error) {
	counts, err := r.Repo.CountMissionsByStatus(ctx, clientID)
	if err != nil {
		return domain.MissionStats{}, err
	}
	var s domain.MissionStats
	for status, n := range counts {
		s.Total += n
		switch {
		case status.Active():
			s.Active += n
		case status == domain.StatusCompleted:
			s.Completed += n
		case status == domain.StatusFailed:
			s.Failed += n
		case status == domain.StatusCancelled:
			s.Cancelled += n
		}
	}
	return s, nil
}
