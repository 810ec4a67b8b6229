// Package indexer maintains the three-tier memory index: summary metadata
// (tier 0), structured previews (tier 1), and raw content (tier 2). The
// tiers are written and removed as a set and persisted whole to one JSON
// file.
package indexer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/chunker"
	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/storage"
)

// ErrNotFound is returned by Update for ids that were never indexed.
var ErrNotFound = errors.New("indexer: entry not found")

const (
	previewLen    = 200
	maxKeywords   = 10
	titleLen      = 50
	summaryLen    = 100
	staleAfter    = 24 * time.Hour
	sentenceChars = "。！？\n"
)

var (
	tagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(discord|whatsapp|telegram|slack)\b`),
		regexp.MustCompile(`(?i)\b(config|token|api)\b|(配置)`),
		regexp.MustCompile(`(?i)\b(cron)\b|(定时|自动化)`),
		regexp.MustCompile(`(亮仔|辉仔|康仔)`),
	}
	datePathPattern = regexp.MustCompile(`202\d-\d{2}-\d{2}`)
	wordPattern     = regexp.MustCompile(`[\p{Han}]+|[a-zA-Z]+`)
)

// metadata tracks index-wide counters.
type metadata struct {
	LastUpdated time.Time `json:"last_updated,omitzero"`
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
}

// index is the persisted three-tier structure.
type index struct {
	Tier0    map[string]model.SummaryRecord `json:"tier0"`
	Tier1    map[string]model.PreviewRecord `json:"tier1"`
	Tier2    map[string]model.RawRecord     `json:"tier2"`
	Metadata metadata                       `json:"metadata"`
}

// Updates is the merge payload for Update. Nil fields are left untouched;
// a non-nil Content regenerates tier 1 and overwrites tier 2.
type Updates struct {
	Title      *string
	Summary    *string
	Tags       []string
	Importance *float64
	Content    *string
}

// Issue is one health-check finding.
type Issue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
}

// Health is the health-check outcome. Tier divergence is a warning and a
// stale index is informational; neither is fatal.
type Health struct {
	Healthy    bool      `json:"healthy"`
	Issues     []Issue   `json:"issues,omitempty"`
	Tier0Count int       `json:"tier0_count"`
	Tier1Count int       `json:"tier1_count"`
	Tier2Count int       `json:"tier2_count"`
	LastUpdate time.Time `json:"last_updated,omitzero"`
}

// Status is the indexer's contribution to aggregate status.
type Status struct {
	MultiLevel  bool      `json:"multi_level"`
	AutoUpdate  bool      `json:"auto_update"`
	TotalFiles  int       `json:"total_files"`
	TotalChunks int       `json:"total_chunks"`
	Entries     int       `json:"entries"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
	Health      Health    `json:"health"`
}

// Indexer owns the three-tier index for a memory root.
type Indexer struct {
	cfg  config.IndexerConfig
	root string
	file *storage.File
	log  *slog.Logger

	mu  sync.Mutex
	idx index
}

// New loads the index under root. An absent index file reinitializes an
// empty index; a corrupt one is a hard error so data is never silently
// overwritten.
func New(cfg config.IndexerConfig, root string) (*Indexer, error) {
	ix := &Indexer{
		cfg:  cfg,
		root: root,
		file: storage.NewFile(filepath.Join(root, "core", ".index.json")),
		log:  slog.With("component", "indexer"),
	}
	if _, err := ix.file.Load(&ix.idx); err != nil {
		return nil, fmt.Errorf("indexer: load index: %w", err)
	}
	if ix.idx.Tier0 == nil {
		ix.idx.Tier0 = make(map[string]model.SummaryRecord)
		ix.idx.Tier1 = make(map[string]model.PreviewRecord)
		ix.idx.Tier2 = make(map[string]model.RawRecord)
	}
	return ix, nil
}

// Index writes an entry into all three tiers, assigning an id when the
// entry has none. The id is immutable from here on.
func (ix *Indexer) Index(entry model.MemoryEntry) (model.MemoryEntry, error) {
	if entry.ID == "" {
		entry.ID = model.NewEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	blocks := chunker.Split(entry.Content, chunker.DefaultOptions())

	ix.mu.Lock()
	ix.idx.Tier0[entry.ID] = model.SummaryRecord{
		ID:         entry.ID,
		Type:       ix.Classify(entry),
		Title:      extractTitle(entry.Content),
		Summary:    generateSummary(entry.Content),
		Tags:       extractTags(entry),
		Importance: importanceOrDefault(entry.Importance),
		IndexedAt:  time.Now().UTC(),
	}
	ix.idx.Tier1[entry.ID] = model.PreviewRecord{
		ID:        entry.ID,
		Preview:   truncateRunes(entry.Content, previewLen),
		Keywords:  extractKeywords(blocks),
		Relations: entry.Relations,
	}
	ix.idx.Tier2[entry.ID] = model.RawRecord{
		ID:      entry.ID,
		Content: entry.Content,
		Entry:   entry,
	}
	ix.idx.Metadata.TotalFiles++
	ix.idx.Metadata.TotalChunks += len(blocks)
	ix.mu.Unlock()

	if err := ix.save(); err != nil {
		return entry, err
	}
	return entry, nil
}

// Update merges updates into tier 0 and, when content changes, regenerates
// tier 1 and overwrites tier 2. Updating an unindexed id is ErrNotFound.
func (ix *Indexer) Update(id string, updates Updates) (model.SummaryRecord, error) {
	ix.mu.Lock()
	rec, ok := ix.idx.Tier0[id]
	if !ok {
		ix.mu.Unlock()
		return model.SummaryRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if updates.Title != nil {
		rec.Title = *updates.Title
	}
	if updates.Summary != nil {
		rec.Summary = *updates.Summary
	}
	if updates.Tags != nil {
		rec.Tags = updates.Tags
	}
	if updates.Importance != nil {
		rec.Importance = *updates.Importance
	}
	rec.UpdatedAt = time.Now().UTC()

	if updates.Content != nil {
		content := *updates.Content
		blocks := chunker.Split(content, chunker.DefaultOptions())
		t1 := ix.idx.Tier1[id]
		t1.Preview = truncateRunes(content, previewLen)
		t1.Keywords = extractKeywords(blocks)
		ix.idx.Tier1[id] = t1

		t2 := ix.idx.Tier2[id]
		t2.Content = content
		t2.Entry.Content = content
		ix.idx.Tier2[id] = t2

		rec.Summary = generateSummary(content)
		rec.Title = extractTitle(content)
	}
	ix.idx.Tier0[id] = rec
	ix.mu.Unlock()

	if err := ix.save(); err != nil {
		return rec, err
	}
	return rec, nil
}

// Delete removes an id from all three tiers. Deleting an absent id is a
// silent no-op.
func (ix *Indexer) Delete(id string) error {
	ix.mu.Lock()
	_, existed := ix.idx.Tier0[id]
	delete(ix.idx.Tier0, id)
	delete(ix.idx.Tier1, id)
	delete(ix.idx.Tier2, id)
	if existed {
		ix.idx.Metadata.TotalFiles--
	}
	ix.mu.Unlock()

	if !existed {
		return nil
	}
	return ix.save()
}

// Get returns the raw (tier 2) record for an id.
func (ix *Indexer) Get(id string) (model.RawRecord, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rec, ok := ix.idx.Tier2[id]
	return rec, ok
}

// Search ranks entries by case-insensitive keyword scoring: title +3,
// summary +2, each matching tag +1, each matching tier-1 keyword +0.5.
// Zero scores are excluded. Ties break by ascending id, which keeps the
// order stable across runs.
func (ix *Indexer) Search(query string, limit int) []model.SearchHit {
	if limit <= 0 {
		limit = 20
	}
	lower := strings.ToLower(query)

	ix.mu.Lock()
	var hits []model.SearchHit
	for id, rec := range ix.idx.Tier0 {
		t1 := ix.idx.Tier1[id]
		score := scoreRecord(rec, t1, lower)
		if score <= 0 {
			continue
		}
		hits = append(hits, model.SearchHit{
			SummaryRecord: rec,
			Preview:       t1.Preview,
			Keywords:      t1.Keywords,
			Score:         score,
		})
	}
	ix.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func scoreRecord(rec model.SummaryRecord, t1 model.PreviewRecord, lowerQuery string) float64 {
	var score float64
	if strings.Contains(strings.ToLower(rec.Title), lowerQuery) {
		score += 3
	}
	if strings.Contains(strings.ToLower(rec.Summary), lowerQuery) {
		score += 2
	}
	for _, tag := range rec.Tags {
		if strings.Contains(tag, lowerQuery) {
			score++
		}
	}
	for _, kw := range t1.Keywords {
		if strings.Contains(strings.ToLower(kw), lowerQuery) {
			score += 0.5
		}
	}
	return score
}

// HealthCheck reports tier divergence (warning) and a stale index (info).
func (ix *Indexer) HealthCheck() Health {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	h := Health{
		Tier0Count: len(ix.idx.Tier0),
		Tier1Count: len(ix.idx.Tier1),
		Tier2Count: len(ix.idx.Tier2),
		LastUpdate: ix.idx.Metadata.LastUpdated,
	}
	if h.Tier0Count != h.Tier1Count || h.Tier0Count != h.Tier2Count {
		h.Issues = append(h.Issues, Issue{
			Severity: "warning",
			Message:  "index tiers diverge",
			Details:  fmt.Sprintf("tier0=%d tier1=%d tier2=%d", h.Tier0Count, h.Tier1Count, h.Tier2Count),
		})
	}
	// LastUpdated refreshes on every save, so this notices the absence of
	// any mutation, not just missed rebuilds.
	if !ix.idx.Metadata.LastUpdated.IsZero() && time.Since(ix.idx.Metadata.LastUpdated) > staleAfter {
		h.Issues = append(h.Issues, Issue{
			Severity: "info",
			Message:  "index not updated in over 24 hours",
		})
	}

	h.Healthy = true
	for _, issue := range h.Issues {
		if issue.Severity == "error" {
			h.Healthy = false
		}
	}
	return h
}

// RebuildIndex walks the memory root and indexes every markdown and text
// document as a fresh entry. It is additive: each run mints new ids, so
// callers wanting dedup must consult the quality ledger first.
func (ix *Indexer) RebuildIndex(filter func(content string) bool) (int, error) {
	start := time.Now()
	processed := 0

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && path != ix.root {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(name)
		if ext != ".md" && ext != ".txt" {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		content := string(b)
		if filter != nil && !filter(content) {
			return nil
		}
		if _, err := ix.Index(model.MemoryEntry{Content: content, Path: path}); err != nil {
			ix.log.Warn("reindex entry failed", "path", path, "err", err)
			return nil
		}
		processed++
		return nil
	})
	if err != nil {
		return processed, fmt.Errorf("indexer: rebuild walk: %w", err)
	}

	ix.log.Info("index rebuilt", "files", processed, "duration", time.Since(start))
	return processed, nil
}

// Count returns the number of indexed entries.
func (ix *Indexer) Count() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.idx.Tier0)
}

// Status reports counters and health.
func (ix *Indexer) Status() Status {
	h := ix.HealthCheck()
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return Status{
		MultiLevel:  ix.cfg.MultiLevel,
		AutoUpdate:  ix.cfg.AutoUpdate,
		TotalFiles:  ix.idx.Metadata.TotalFiles,
		TotalChunks: ix.idx.Metadata.TotalChunks,
		Entries:     len(ix.idx.Tier0),
		LastUpdated: ix.idx.Metadata.LastUpdated,
		Health:      h,
	}
}

func (ix *Indexer) save() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.idx.Metadata.LastUpdated = time.Now().UTC()
	if err := ix.file.Save(ix.idx); err != nil {
		return fmt.Errorf("indexer: persist index: %w", err)
	}
	return nil
}
