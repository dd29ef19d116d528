package activity

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/domain"
)

const (
	filePrefix    = "activity-"
	fileSuffix    = ".jsonl"
	retentionDays = 30
)

// Journal is an append-only JSONL activity trail, one file per UTC day.
// Appends are serialized and each entry is a single write, so a crash can
// lose at most the entry being written.
type Journal struct {
	Dir string
	Log *zap.Logger
	Now func() time.Time

	mu sync.Mutex
}

func New(dir string, log *zap.Logger) *Journal {
	return &Journal{Dir: dir, Log: log, Now: time.Now}
}

func (j *Journal) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

func dayFile(day time.Time) string {
	return filePrefix + day.UTC().Format("2006-01-02") + fileSuffix
}

// Append writes one entry to today's file, stamping the timestamp when the
// caller left it empty.
func (j *Journal) Append(entry domain.ActivityEntry) error {
	now := j.now().UTC()
	if entry.Timestamp == "" {
		entry.Timestamp = now.Format(time.RFC3339)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(j.Dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(j.Dir, dayFile(now)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// GetByMissionID scans all day files for entries tagged with the mission.
func (j *Journal) GetByMissionID(missionID string) ([]domain.ActivityEntry, error) {
	return j.scan(func(e domain.ActivityEntry) bool { return e.MissionID == missionID })
}

// GetRange returns entries with RFC 3339 timestamps inside [from, to].
func (j *Journal) GetRange(from, to time.Time) ([]domain.ActivityEntry, error) {
	return j.scan(func(e domain.ActivityEntry) bool {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			return false
		}
		return !ts.Before(from) && !ts.After(to)
	})
}

func (j *Journal) scan(keep func(domain.ActivityEntry) bool) ([]domain.ActivityEntry, error) {
	files, err := j.listFiles()
	if err != nil {
		return nil, err
	}
	var res []domain.ActivityEntry
	for _, name := range files {
		f, err := os.Open(filepath.Join(j.Dir, name))
		if err != nil {
			return nil, err
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			var e domain.ActivityEntry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				// torn tail line from a crash, skip it
				continue
			}
			if keep(e) {
				res = append(res, e)
			}
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (j *Journal) listFiles() ([]string, error) {
	entries, err := os.ReadDir(j.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// Prune deletes day files older than the retention window and returns the
// number removed.
func (j *Journal) Prune() (int, error) {
	files, err := j.listFiles()
	if err != nil {
		return 0, err
	}
	cutoff := j.now().UTC().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, name := range files {
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(j.Dir, name)); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if removed > 0 && j.Log != nil {
		j.Log.Info("pruned activity files", zap.Int("count", removed))
	}
	return removed, nil
}
