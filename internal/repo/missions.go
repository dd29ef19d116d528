package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"socialbrain/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const missionCols = `id,type,status,client_id,context,result,error,created_at,updated_at,completed_at`

func scanMission(scan func(dest ...any) error) (domain.Mission, error) {
	var m domain.Mission
	var result, errMsg sql.NullString
	var completedAt sql.NullInt64
	err := scan(&m.ID, &m.Type, &m.Status, &m.ClientID, &m.Context, &result, &errMsg, &m.CreatedAt, &m.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if result.Valid {
		m.Result = &result.String
	}
	if errMsg.Valid {
		m.Error = &errMsg.String
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.Int64
	}
	return m, nil
}

func (r Repo) InsertMission(ctx context.Context, tx *sql.Tx, m domain.Mission) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO missions(id,type,status,client_id,context,result,error,created_at,updated_at,completed_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Type, m.Status, m.ClientID, m.Context, nullableStringPtr(m.Result), nullableStringPtr(m.Error), m.CreatedAt, m.UpdatedAt, nullableInt64Ptr(m.CompletedAt))
	return err
}

func (r Repo) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions WHERE id=?`, id)
	return scanMission(row.Scan)
}

func (r Repo) GetMissionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+missionCols+` FROM missions WHERE id=?`, id)
	return scanMission(row.Scan)
}

func (r Repo) UpdateMissionStatus(ctx context.Context, tx *sql.Tx, id string, status domain.MissionStatus, errMsg *string, updatedAt int64, completedAt *int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE missions SET status=?, error=?, updated_at=?, completed_at=? WHERE id=?`,
		status, nullableStringPtr(errMsg), updatedAt, nullableInt64Ptr(completedAt), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateMissionResult(ctx context.Context, tx *sql.Tx, id, result string, updatedAt int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE missions SET result=?, updated_at=? WHERE id=?`, result, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type MissionFilters struct {
	ClientID string
	Status   domain.MissionStatus
	Type     domain.MissionType
	Statuses []domain.MissionStatus
	Limit    int
}

func (r Repo) ListMissions(ctx context.Context, f MissionFilters) ([]domain.Mission, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ph[i] = "?"
			args = append(args, s)
		}
		clauses = append(clauses, "status IN ("+strings.Join(ph, ",")+")")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + missionCols + ` FROM missions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// SweepStatuses moves every mission in the given statuses to the target
// status in one statement and returns the affected count.
func (r Repo) SweepStatuses(ctx context.Context, tx *sql.Tx, from []domain.MissionStatus, to domain.MissionStatus, errMsg string, now int64) (int, error) {
	ph := make([]string, len(from))
	args := []any{to, errMsg, now, now}
	for i, s := range from {
		ph[i] = "?"
		args = append(args, s)
	}
	res, err := tx.ExecContext(ctx, `UPDATE missions SET status=?, error=?, updated_at=?, completed_at=? WHERE status IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r Repo) CountMissionsByStatus(ctx context.Context, clientID string) (map[domain.MissionStatus]int, error) {
	query := `SELECT status, count(*) FROM missions GROUP BY status`
	var args []any
	if clientID != "" {
		query = `SELECT status, count(*) FROM missions WHERE client_id=? GROUP BY status`
		args = append(args, clientID)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.MissionStatus]int{}
	for rows.Next() {
		var status domain.MissionStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
