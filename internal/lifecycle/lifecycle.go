// Package lifecycle applies retention tiers to deleted entries. Entries
// archive into an importance-based tier: P0 keeps forever, P1 and P2
// expire after their configured retention windows and are removed by
// cleanup runs.
package lifecycle

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/storage"
)

// Tier names, in descending retention order.
const (
	TierP0 = "P0"
	TierP1 = "P1"
	TierP2 = "P2"
)

// ArchivedRecord is one archived entry on disk.
type ArchivedRecord struct {
	Tier       string          `json:"tier"`
	Importance float64         `json:"importance"`
	ArchivedAt time.Time       `json:"archived_at"`
	ExpiresAt  time.Time       `json:"expires_at,omitzero"`
	Record     model.RawRecord `json:"record"`
}

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	Scanned  int           `json:"scanned"`
	Removed  int           `json:"removed"`
	Retained int           `json:"retained"`
	Duration time.Duration `json:"duration_ms"`
}

// Status is the archiver's contribution to aggregate status.
type Status struct {
	AutoArchive bool           `json:"auto_archive"`
	Tiers       map[string]int `json:"tiers"`
	Archived    int            `json:"archived_total"`
	Removed     int            `json:"removed_total"`
	LastCleanup time.Time      `json:"last_cleanup,omitzero"`
}

type lifecycleState struct {
	Archived    int       `json:"archived"`
	Removed     int       `json:"removed"`
	LastCleanup time.Time `json:"last_cleanup,omitzero"`
	LastUpdated time.Time `json:"last_updated"`
}

// Archiver files deleted entries under archive tiers and expires them.
type Archiver struct {
	cfg        config.LifecycleConfig
	archiveDir string
	file       *storage.File
	log        *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	state lifecycleState
}

// New loads lifecycle counters under root. The archive lives at
// root/archive/<tier>/.
func New(cfg config.LifecycleConfig, root string) (*Archiver, error) {
	a := &Archiver{
		cfg:        cfg,
		archiveDir: filepath.Join(root, "archive"),
		file:       storage.NewFile(filepath.Join(root, "core", ".lifecycle.json")),
		log:        slog.With("component", "lifecycle"),
		now:        time.Now,
	}
	if _, err := a.file.Load(&a.state); err != nil {
		return nil, fmt.Errorf("lifecycle: load state: %w", err)
	}
	return a, nil
}

// TierFor maps importance to a retention tier: 0.7 and up is P0, 0.3 and
// up is P1, everything else P2.
func TierFor(importance float64) string {
	switch {
	case importance >= 0.7:
		return TierP0
	case importance >= 0.3:
		return TierP1
	default:
		return TierP2
	}
}

// Archive files the record under its importance tier. P1 and P2 records
// get an expiry stamp from the configured retention windows; P0 never
// expires.
func (a *Archiver) Archive(record model.RawRecord, importance float64) (string, error) {
	if !a.cfg.AutoArchive {
		return "", nil
	}

	tier := TierFor(importance)
	arch := ArchivedRecord{
		Tier:       tier,
		Importance: importance,
		ArchivedAt: a.now().UTC(),
		Record:     record,
	}
	switch tier {
	case TierP1:
		arch.ExpiresAt = arch.ArchivedAt.AddDate(0, 0, a.cfg.P1RetentionDays)
	case TierP2:
		arch.ExpiresAt = arch.ArchivedAt.AddDate(0, 0, a.cfg.P2RetentionDays)
	}

	dest := storage.NewFile(filepath.Join(a.archiveDir, tier, record.ID+".json"))
	if err := dest.Save(arch); err != nil {
		return "", fmt.Errorf("lifecycle: archive %s: %w", record.ID, err)
	}

	a.mu.Lock()
	a.state.Archived++
	a.saveStateLocked()
	a.mu.Unlock()
	return tier, nil
}

// RunCleanup removes expired archived records. Unreadable archive files
// are retained and logged rather than deleted.
func (a *Archiver) RunCleanup() (CleanupReport, error) {
	start := a.now()
	report := CleanupReport{}

	for _, tier := range []string{TierP1, TierP2} {
		dir := filepath.Join(a.archiveDir, tier)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return report, fmt.Errorf("lifecycle: read %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			report.Scanned++
			path := filepath.Join(dir, e.Name())

			var arch ArchivedRecord
			if _, err := storage.NewFile(path).Load(&arch); err != nil {
				a.log.Warn("unreadable archive record retained", "path", path, "err", err)
				report.Retained++
				continue
			}
			if !arch.ExpiresAt.IsZero() && a.now().After(arch.ExpiresAt) {
				if err := os.Remove(path); err != nil {
					return report, fmt.Errorf("lifecycle: remove %s: %w", path, err)
				}
				report.Removed++
			} else {
				report.Retained++
			}
		}
	}

	report.Duration = a.now().Sub(start)
	a.mu.Lock()
	a.state.Removed += report.Removed
	a.state.LastCleanup = a.now().UTC()
	a.saveStateLocked()
	a.mu.Unlock()
	return report, nil
}

// Status reports per-tier archive counts and cumulative totals.
func (a *Archiver) Status() Status {
	tiers := make(map[string]int)
	for _, tier := range []string{TierP0, TierP1, TierP2} {
		entries, err := os.ReadDir(filepath.Join(a.archiveDir, tier))
		if err != nil {
			continue
		}
		count := 0
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				count++
			}
		}
		tiers[tier] = count
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		AutoArchive: a.cfg.AutoArchive,
		Tiers:       tiers,
		Archived:    a.state.Archived,
		Removed:     a.state.Removed,
		LastCleanup: a.state.LastCleanup,
	}
}

// saveStateLocked persists counters; callers hold a.mu. Counter loss is
// tolerable, so failures only log.
func (a *Archiver) saveStateLocked() {
	a.state.LastUpdated = a.now().UTC()
	if err := a.file.Save(a.state); err != nil {
		a.log.Debug("lifecycle state save failed", "err", err)
	}
}
