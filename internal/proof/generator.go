// Package proof builds evidence packages for finished missions: the
// mission's activity trail, a final screenshot, and a proof.json manifest
// under a per-mission directory.
package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"socialbrain/internal/domain"
)

var ErrNotFound = errors.New("proof not found")

const (
	maxAgeDays    = 30
	maxTotalBytes = 1 << 30

	proofFileName = "proof.json"
)

// Trail is the read side of the activity journal.
type Trail interface {
	GetByMissionID(missionID string) ([]domain.ActivityEntry, error)
}

// Generator writes and prunes proof packages.
type Generator struct {
	Dir          string
	CompanionURL string
	HTTP         *http.Client
	Log          *zap.Logger
	Now          func() time.Time
	MaxBytes     int64
}

func New(dir, companionURL string, log *zap.Logger) *Generator {
	return &Generator{
		Dir:          dir,
		CompanionURL: companionURL,
		HTTP:         &http.Client{Timeout: 10 * time.Second},
		Log:          log,
		Now:          time.Now,
		MaxBytes:     maxTotalBytes,
	}
}

func (g *Generator) maxBytes() int64 {
	if g.MaxBytes > 0 {
		return g.MaxBytes
	}
	return maxTotalBytes
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Generate builds the proof package for a mission. The screenshot is
// best-effort: an unreachable companion still yields a complete package.
// Regenerating overwrites the previous proof.json.
func (g *Generator) Generate(ctx context.Context, missionID string, trail Trail, summary string, status domain.ProofStatus) (domain.ProofPackage, error) {
	missionDir := filepath.Join(g.Dir, missionID)
	if err := os.MkdirAll(missionDir, 0o755); err != nil {
		return domain.ProofPackage{}, err
	}

	activities, err := trail.GetByMissionID(missionID)
	if err != nil {
		return domain.ProofPackage{}, fmt.Errorf("read activity trail: %w", err)
	}

	var screenshots []string
	if shot := g.captureScreenshot(ctx, missionDir); shot != "" {
		screenshots = append(screenshots, shot)
	}

	seen := map[string]struct{}{}
	var platforms []string
	for _, a := range activities {
		if a.Platform == "" {
			continue
		}
		if _, dup := seen[a.Platform]; dup {
			continue
		}
		seen[a.Platform] = struct{}{}
		platforms = append(platforms, a.Platform)
	}

	var durationMs *int64
	if len(activities) >= 2 {
		first, err1 := time.Parse(time.RFC3339, activities[0].Timestamp)
		last, err2 := time.Parse(time.RFC3339, activities[len(activities)-1].Timestamp)
		if err1 == nil && err2 == nil {
			d := last.Sub(first).Milliseconds()
			durationMs = &d
		}
	}

	pkg := domain.ProofPackage{
		MissionID:   missionID,
		GeneratedAt: g.now().UTC().Format(time.RFC3339),
		Summary:     summary,
		Activities:  activities,
		Screenshots: screenshots,
		DurationMs:  durationMs,
		Platforms:   platforms,
		Status:      status,
	}
	payload, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return domain.ProofPackage{}, err
	}
	if err := os.WriteFile(filepath.Join(missionDir, proofFileName), payload, 0o644); err != nil {
		return domain.ProofPackage{}, err
	}
	return pkg, nil
}

func (g *Generator) captureScreenshot(ctx context.Context, missionDir string) string {
	if g.CompanionURL == "" {
		return ""
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.CompanionURL+"/screenshot", nil)
	if err != nil {
		return ""
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		if g.Log != nil {
			g.Log.Debug("proof screenshot unavailable", zap.Error(err))
		}
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ""
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ""
	}
	path := filepath.Join(missionDir, fmt.Sprintf("proof-%d.png", g.now().UnixMilli()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ""
	}
	return path
}

// Get loads a previously generated proof package.
func (g *Generator) Get(missionID string) (domain.ProofPackage, error) {
	data, err := os.ReadFile(filepath.Join(g.Dir, missionID, proofFileName))
	if os.IsNotExist(err) {
		return domain.ProofPackage{}, ErrNotFound
	}
	if err != nil {
		return domain.ProofPackage{}, err
	}
	var pkg domain.ProofPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return domain.ProofPackage{}, err
	}
	return pkg, nil
}

// PruneOldProofs enforces retention in two phases: first drop mission dirs
// older than 30 days, then evict oldest-first until total size fits under
// the byte cap (1 GiB unless overridden). Called once at startup; a second
// call finds nothing.
func (g *Generator) PruneOldProofs() (byAge, bySize int, err error) {
	entries, err := os.ReadDir(g.Dir)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	type dirInfo struct {
		name  string
		mtime time.Time
		size  int64
	}
	cutoff := g.now().Add(-maxAgeDays * 24 * time.Hour)
	var remaining []dirInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirPath := filepath.Join(g.Dir, e.Name())
		info, statErr := e.Info()
		if statErr != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if rmErr := os.RemoveAll(dirPath); rmErr == nil {
				byAge++
			}
			continue
		}
		remaining = append(remaining, dirInfo{name: e.Name(), mtime: info.ModTime(), size: dirSize(dirPath)})
	}

	sort.Slice(remaining, func(i, j int) bool { return remaining[i].mtime.Before(remaining[j].mtime) })
	var total int64
	for _, d := range remaining {
		total += d.size
	}
	for total > g.maxBytes() && len(remaining) > 0 {
		oldest := remaining[0]
		remaining = remaining[1:]
		if rmErr := os.RemoveAll(filepath.Join(g.Dir, oldest.name)); rmErr != nil {
			continue
		}
		total -= oldest.size
		bySize++
	}

	if (byAge > 0 || bySize > 0) && g.Log != nil {
		g.Log.Info("pruned proof dirs",
			zap.Int("by_age", byAge),
			zap.Int("by_size", bySize),
			zap.Int("remaining", len(remaining)))
	}
	return byAge, bySize, nil
}

func dirSize(path string) int64 {
	var total int64
	filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
