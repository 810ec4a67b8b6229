// Package manager wires the memory pipeline together: the security gate,
// quality evaluator, enricher, three-tier index, cache, ranker, archiver,
// and integration bridge, behind one orchestrating facade.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw/memcore/internal/automation"
	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/embedding"
	"github.com/openclaw/memcore/internal/indexer"
	"github.com/openclaw/memcore/internal/integration"
	"github.com/openclaw/memcore/internal/lifecycle"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/perf"
	"github.com/openclaw/memcore/internal/quality"
	"github.com/openclaw/memcore/internal/retrieval"
	"github.com/openclaw/memcore/internal/security"
)

// ErrRateLimited is returned when the security gate denies an operation.
var ErrRateLimited = errors.New("manager: rate limited")

// Write outcome status values.
const (
	StatusOK        = "ok"
	StatusFiltered  = "filtered"
	StatusDuplicate = "duplicate"
)

// WriteResult is the typed outcome of a write. Filtered and duplicate
// writes are normal outcomes, not errors.
type WriteResult struct {
	Status      string            `json:"status"`
	Entry       model.MemoryEntry `json:"entry,omitzero"`
	Reason      string            `json:"reason,omitempty"`
	DuplicateOf string            `json:"duplicate_of,omitempty"`
}

// SystemStatus aggregates every component's status report.
type SystemStatus struct {
	Security    security.Status    `json:"security"`
	Performance perf.Status        `json:"performance"`
	Quality     quality.Status     `json:"quality"`
	Indexer     indexer.Status     `json:"indexer"`
	Retrieval   map[string]any     `json:"retrieval"`
	Lifecycle   lifecycle.Status   `json:"lifecycle"`
	Automation  automation.Status  `json:"automation"`
	Integration integration.Status `json:"integration"`
}

// Manager is the unified entry point over the memory pipeline.
type Manager struct {
	cfg  *config.Config
	root string
	log  *slog.Logger

	gate      *security.Gate
	cache     *perf.Cache
	evaluator *quality.Evaluator
	indexer   *indexer.Indexer
	ranker    *retrieval.Ranker
	archiver  *lifecycle.Archiver
	enricher  *automation.Enricher
	bridge    *integration.Bridge
}

// New builds the full pipeline rooted at root. embedder may be nil, which
// leaves retrieval text-only.
func New(cfg *config.Config, root string, embedder embedding.Embedder) (*Manager, error) {
	gate, err := security.New(cfg.Security, root)
	if err != nil {
		return nil, err
	}
	evaluator, err := quality.New(cfg.Quality, root)
	if err != nil {
		return nil, err
	}
	ix, err := indexer.New(cfg.Indexer, root)
	if err != nil {
		return nil, err
	}
	archiver, err := lifecycle.New(cfg.Lifecycle, root)
	if err != nil {
		return nil, err
	}
	enricher, err := automation.New(cfg.Automation, root)
	if err != nil {
		return nil, err
	}
	bridge, err := integration.New(cfg.Integration, root, nil)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		root:      root,
		log:       slog.With("component", "manager"),
		gate:      gate,
		cache:     perf.New(cfg.Performance, root),
		evaluator: evaluator,
		indexer:   ix,
		ranker:    retrieval.New(cfg.Retrieval, ix, embedder),
		archiver:  archiver,
		enricher:  enricher,
		bridge:    bridge,
	}
	m.registerRoutines()
	return m, nil
}

// registerRoutines binds the built-in enrichment routines to the live
// components.
func (m *Manager) registerRoutines() {
	m.enricher.Register("importance-filter", func(_ context.Context, args ...string) (any, error) {
		if len(args) == 0 {
			return nil, errors.New("content argument required")
		}
		importance := m.evaluator.EvaluateImportance(args[0])
		return map[string]any{
			"importance": importance,
			"passes":     importance >= m.cfg.Quality.ImportanceThreshold,
		}, nil
	})
	m.enricher.Register("contradiction-detector", func(_ context.Context, args ...string) (any, error) {
		if len(args) < 2 {
			return nil, errors.New("two entry ids required")
		}
		id, contradictsID := args[0], args[1]
		if _, ok := m.indexer.Get(id); !ok {
			return nil, fmt.Errorf("unknown entry %s", id)
		}
		m.evaluator.ReportContradiction(id, contradictsID)
		return map[string]any{"id": id, "contradicts": contradictsID}, nil
	})
}

// Write runs the ingestion pipeline: access check, sanitize, quality
// evaluation, enrichment, indexing, ledger binding, and caching.
func (m *Manager) Write(entry model.MemoryEntry) (WriteResult, error) {
	if !m.gate.CheckAccess("local", "memory", "write") {
		return WriteResult{}, ErrRateLimited
	}

	entry = m.gate.Sanitize(entry)

	res, err := m.evaluator.Evaluate(entry)
	if err != nil {
		return WriteResult{}, err
	}
	if res.Filtered {
		return WriteResult{Status: StatusFiltered, Entry: res.Entry, Reason: res.FilterReason}, nil
	}
	if res.Duplicate {
		return WriteResult{Status: StatusDuplicate, Entry: res.Entry, DuplicateOf: res.DuplicateOf}, nil
	}
	entry = res.Entry

	if m.cfg.Automation.AutoWrite {
		entry = m.enricher.ProcessEntry(entry)
	}

	indexed, err := m.indexer.Index(entry)
	if err != nil {
		return WriteResult{}, err
	}
	m.evaluator.BindOwner(indexed.ContentHash, indexed.ID)
	m.cache.CacheEntry(indexed)

	return WriteResult{Status: StatusOK, Entry: indexed}, nil
}

// Search serves a query from the cache when possible, otherwise runs the
// retrieval pipeline and records latency metrics. Misses are not written
// back to the cache; entry-level caching happens on write and access.
func (m *Manager) Search(ctx context.Context, query string, opts retrieval.Options) (retrieval.Result, error) {
	if !m.gate.CheckAccess("local", "memory", "search") {
		return retrieval.Result{}, ErrRateLimited
	}

	if data, ok := m.cache.CheckCache(query); ok {
		var cached retrieval.Result
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Cached = true
			return cached, nil
		}
		m.cache.Invalidate(perf.HashQuery(query))
	}

	start := time.Now()
	result, err := m.ranker.Search(ctx, query, opts)
	if err != nil {
		return retrieval.Result{}, err
	}
	m.cache.RecordMetrics(time.Since(start), len(result.Hits))
	for _, hit := range result.Hits {
		m.cache.RecordAccess(hit.ID)
	}
	return result, nil
}

// Get fetches the full record for an id and counts the access toward hot
// promotion.
func (m *Manager) Get(id string) (model.RawRecord, bool) {
	rec, ok := m.indexer.Get(id)
	if ok {
		m.cache.RecordAccess(id)
	}
	return rec, ok
}

// Update sanitizes any new content, merges the updates into the index, and
// invalidates the cached entry.
func (m *Manager) Update(id string, updates indexer.Updates) (model.SummaryRecord, error) {
	if !m.gate.CheckAccess("local", id, "update") {
		return model.SummaryRecord{}, ErrRateLimited
	}

	if updates.Content != nil {
		sanitized := m.gate.Sanitize(model.MemoryEntry{Content: *updates.Content})
		updates.Content = &sanitized.Content
	}
	rec, err := m.indexer.Update(id, updates)
	if err != nil {
		return model.SummaryRecord{}, err
	}
	m.cache.Invalidate(id)
	return rec, nil
}

// Delete archives the entry under its retention tier, removes it from all
// index tiers, and invalidates the cache. Deleting an unknown id is a
// no-op.
func (m *Manager) Delete(id string) error {
	if !m.gate.CheckAccess("local", id, "delete") {
		return ErrRateLimited
	}

	if rec, ok := m.indexer.Get(id); ok {
		if _, err := m.archiver.Archive(rec, rec.Entry.Importance); err != nil {
			return err
		}
	}
	if err := m.indexer.Delete(id); err != nil {
		return err
	}
	m.cache.Invalidate(id)
	return nil
}

// Verify records a verification outcome for an entry.
func (m *Manager) Verify(id string, verified bool) (model.VerificationStatus, error) {
	if _, ok := m.indexer.Get(id); !ok {
		return "", fmt.Errorf("%w: %s", indexer.ErrNotFound, id)
	}
	return m.evaluator.Verify(id, verified), nil
}

// Sync runs the enabled external-store syncs.
func (m *Manager) Sync() ([]integration.SyncResult, error) {
	return m.bridge.SyncAll()
}

// Cleanup expires archived records past their retention windows.
func (m *Manager) Cleanup() (lifecycle.CleanupReport, error) {
	return m.archiver.RunCleanup()
}

// Reindex walks the memory root and indexes documents whose content is not
// already registered in the quality ledger, so repeated runs stay
// idempotent.
func (m *Manager) Reindex() (int, error) {
	return m.indexer.RebuildIndex(func(content string) bool {
		return !m.evaluator.Seen(quality.HashContent(content))
	})
}

// ClearCache empties the performance cache.
func (m *Manager) ClearCache() {
	m.cache.Clear()
}

// RunRoutine executes a registered automation routine.
func (m *Manager) RunRoutine(ctx context.Context, name string, args ...string) (any, error) {
	return m.enricher.RunRoutine(ctx, name, args...)
}

// Health reports the index health check.
func (m *Manager) Health() indexer.Health {
	return m.indexer.HealthCheck()
}

// Status fans out to every component.
func (m *Manager) Status() SystemStatus {
	return SystemStatus{
		Security:    m.gate.Status(),
		Performance: m.cache.Status(),
		Quality:     m.evaluator.Status(),
		Indexer:     m.indexer.Status(),
		Retrieval:   m.ranker.Status(),
		Lifecycle:   m.archiver.Status(),
		Automation:  m.enricher.Status(),
		Integration: m.bridge.Status(),
	}
}

// CacheSearchResult stores a search result for later CheckCache hits. The
// caller decides which queries are worth pinning.
func (m *Manager) CacheSearchResult(query string, result retrieval.Result) {
	m.cache.CacheQueryResult(query, result)
}
