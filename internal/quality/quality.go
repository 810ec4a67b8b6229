// Package quality scores entries for importance and confidence, filters
// low-value content, and detects duplicates through a persisted
// content-hash ledger.
package quality

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/storage"
)

// Keyword tiers for importance scoring. Within a tier only the first match
// counts; the tier order is part of the scoring contract.
var (
	highKeywords   = []string{"token", "密码", "配置", "key", "api", "决策", "重要", "紧急", "remember", "记住", "记住这个"}
	mediumKeywords = []string{"任务", "计划", "学习", "技能", "cron", "待办", "project", "项目"}
	lowPhrases     = []string{"你好", "收到", "ok", "好的", "嗯", "hello", "hi", "bye"}

	decisionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`决定|选择|方案|采用|确认|确定`),
		regexp.MustCompile(`(?i)decided|chosen|selected`),
	}
	questionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)如何|怎么|为什么|what|how|why|\?`),
	}
)

// ledgerEntry records the owner of a content hash for dedup lookups.
type ledgerEntry struct {
	OwnerID    string    `json:"owner_id"`
	Importance float64   `json:"importance"`
	Timestamp  time.Time `json:"timestamp"`
}

// feedback accumulates verification signals consumed by future
// confidence evaluations. Already-indexed entries are not rescored.
type feedback struct {
	Verifications  int `json:"verifications"`
	Contradictions int `json:"contradictions"`
}

// Stats are the aggregate quality counters persisted with the ledger.
type Stats struct {
	Evaluated    int `json:"evaluated"`
	Filtered     int `json:"filtered"`
	Deduplicated int `json:"deduplicated"`
	Verified     int `json:"verified"`
}

// Distribution buckets ledger entries by importance.
type Distribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Status is the evaluator's contribution to aggregate status.
type Status struct {
	ImportanceThreshold float64      `json:"importance_threshold"`
	ConfidenceTracking  bool         `json:"confidence_tracking"`
	Deduplication       bool         `json:"deduplication"`
	DedupThreshold      float64      `json:"dedup_threshold"`
	Stats               Stats        `json:"stats"`
	LedgerSize          int          `json:"ledger_size"`
	Distribution        Distribution `json:"distribution"`
}

// Result is the typed outcome of an evaluation. Filtered and Duplicate are
// normal control flow, not failures.
type Result struct {
	Entry        model.MemoryEntry
	Filtered     bool
	FilterReason string
	Duplicate    bool
	DuplicateOf  string
}

type ledgerState struct {
	ContentHashes map[string]ledgerEntry `json:"content_hashes"`
	Feedback      map[string]*feedback   `json:"feedback,omitempty"`
	Stats         Stats                  `json:"stats"`
	LastUpdated   time.Time              `json:"last_updated"`
}

// Evaluator applies the importance/confidence heuristics and keeps the
// dedup ledger.
type Evaluator struct {
	cfg  config.QualityConfig
	file *storage.File
	log  *slog.Logger

	mu    sync.Mutex
	state ledgerState
}

// New loads (or lazily creates) the quality ledger under root. An absent
// ledger file starts empty; a corrupt one is a hard error.
func New(cfg config.QualityConfig, root string) (*Evaluator, error) {
	e := &Evaluator{
		cfg:  cfg,
		file: storage.NewFile(filepath.Join(root, "core", ".quality.json")),
		log:  slog.With("component", "quality"),
		state: ledgerState{
			ContentHashes: make(map[string]ledgerEntry),
			Feedback:      make(map[string]*feedback),
		},
	}
	if _, err := e.file.Load(&e.state); err != nil {
		return nil, fmt.Errorf("quality: load ledger: %w", err)
	}
	if e.state.ContentHashes == nil {
		e.state.ContentHashes = make(map[string]ledgerEntry)
	}
	if e.state.Feedback == nil {
		e.state.Feedback = make(map[string]*feedback)
	}
	return e, nil
}

// EvaluateImportance scores content on the internal 1..10 scale and
// normalizes to [0,1]. The step order and first-match-per-tier rule are
// load-bearing: changing them moves outcomes at keyword boundaries.
func (e *Evaluator) EvaluateImportance(content string) float64 {
	if content == "" {
		return 0
	}

	lower := strings.ToLower(content)
	score := 5

	for _, kw := range highKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += 2
			break
		}
	}
	for _, kw := range mediumKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score++
			break
		}
	}
	runeLen := len([]rune(content))
	for _, kw := range lowPhrases {
		if lower == strings.ToLower(kw) || runeLen < 10 {
			score -= 3
			break
		}
	}

	if runeLen > 500 {
		score++
	}
	if runeLen > 1000 {
		score++
	}

	for _, re := range decisionPatterns {
		if re.MatchString(content) {
			score += 2
			break
		}
	}
	for _, re := range questionPatterns {
		if re.MatchString(content) {
			score++
			break
		}
	}

	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return float64(score) / 10
}

// EvaluateConfidence derives a [0.1,1] trust estimate from provenance plus
// recorded verification and contradiction counters.
func (e *Evaluator) EvaluateConfidence(entry model.MemoryEntry) float64 {
	if !e.cfg.ConfidenceTracking {
		return 1
	}

	confidence := 1.0
	switch entry.Source {
	case model.SourceUserDirect:
		confidence = 1
	case model.SourceInferred:
		confidence = 0.7
	case model.SourceExternal:
		confidence = 0.8
	}

	e.mu.Lock()
	fb := e.state.Feedback[entry.ID]
	e.mu.Unlock()
	if fb != nil {
		if fb.Verifications > 0 {
			confidence = min(1, confidence+0.1*float64(fb.Verifications))
		}
		if fb.Contradictions > 0 {
			confidence = max(0.1, confidence-0.2*float64(fb.Contradictions))
		}
	}
	return confidence
}

// Evaluate runs the full quality pipeline: importance threshold filter,
// then hash dedup, then stamping. Filtered and duplicate entries are never
// registered in the ledger.
func (e *Evaluator) Evaluate(entry model.MemoryEntry) (Result, error) {
	e.mu.Lock()
	e.state.Stats.Evaluated++
	e.mu.Unlock()

	importance := e.EvaluateImportance(entry.Content)
	entry.Importance = importance

	if importance < e.cfg.ImportanceThreshold {
		e.mu.Lock()
		e.state.Stats.Filtered++
		e.mu.Unlock()
		e.save()
		return Result{Entry: entry, Filtered: true, FilterReason: "low_importance"}, nil
	}

	hash := HashContent(entry.Content)
	if e.cfg.Deduplication {
		if ownerID, ok := e.checkDuplicate(hash, entry.Content); ok {
			e.mu.Lock()
			e.state.Stats.Deduplicated++
			e.mu.Unlock()
			e.save()
			entry.Confidence = e.EvaluateConfidence(entry)
			return Result{Entry: entry, Duplicate: true, DuplicateOf: ownerID}, nil
		}
	}

	entry.Confidence = e.EvaluateConfidence(entry)
	entry.ContentHash = hash
	entry.EvaluatedAt = time.Now().UTC()
	if e.cfg.VerificationEnabled {
		entry.VerificationStatus = model.VerificationPending
	}

	e.mu.Lock()
	e.state.ContentHashes[hash] = ledgerEntry{
		OwnerID:    entry.ID,
		Importance: importance,
		Timestamp:  time.Now().UTC(),
	}
	e.mu.Unlock()
	e.save()

	return Result{Entry: entry}, nil
}

// BindOwner records the id the indexer assigned for a hash registered
// before the entry had one.
func (e *Evaluator) BindOwner(hash, id string) {
	e.mu.Lock()
	if le, ok := e.state.ContentHashes[hash]; ok && le.OwnerID == "" {
		le.OwnerID = id
		e.state.ContentHashes[hash] = le
	}
	e.mu.Unlock()
	e.save()
}

// Seen reports whether a content hash is already registered.
func (e *Evaluator) Seen(hash string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.state.ContentHashes[hash]
	return ok
}

// checkDuplicate looks for an exact hash match, then falls back to semantic
// similarity, which is a declared extension point and currently never
// matches.
func (e *Evaluator) checkDuplicate(hash, content string) (string, bool) {
	e.mu.Lock()
	existing, ok := e.state.ContentHashes[hash]
	e.mu.Unlock()
	if ok {
		return existing.OwnerID, true
	}
	return e.findSimilar(content, e.cfg.DedupThreshold)
}

// findSimilar is the semantic near-duplicate extension point. Until a
// similarity backend is wired in it reports no match.
func (e *Evaluator) findSimilar(string, float64) (string, bool) {
	return "", false
}

// Verify records a verification outcome for an entry. The counters feed
// future confidence evaluations.
func (e *Evaluator) Verify(id string, verified bool) model.VerificationStatus {
	e.mu.Lock()
	fb := e.state.Feedback[id]
	if fb == nil {
		fb = &feedback{}
		e.state.Feedback[id] = fb
	}
	if verified {
		fb.Verifications++
	}
	e.state.Stats.Verified++
	e.mu.Unlock()
	e.save()

	if verified {
		return model.VerificationVerified
	}
	return model.VerificationRejected
}

// ReportContradiction records a contradiction against an entry.
func (e *Evaluator) ReportContradiction(id, contradictionID string) {
	e.mu.Lock()
	fb := e.state.Feedback[id]
	if fb == nil {
		fb = &feedback{}
		e.state.Feedback[id] = fb
	}
	fb.Contradictions++
	e.mu.Unlock()
	e.save()
	e.log.Info("contradiction reported", "id", id, "contradicts", contradictionID)
}

// Distribution buckets the ledger by importance.
func (e *Evaluator) Distribution() Distribution {
	e.mu.Lock()
	defer e.mu.Unlock()
	var d Distribution
	for _, le := range e.state.ContentHashes {
		switch {
		case le.Importance > 0.7:
			d.High++
		case le.Importance >= 0.3:
			d.Medium++
		default:
			d.Low++
		}
	}
	return d
}

// Status reports configuration, counters, and ledger size.
func (e *Evaluator) Status() Status {
	dist := e.Distribution()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		ImportanceThreshold: e.cfg.ImportanceThreshold,
		ConfidenceTracking:  e.cfg.ConfidenceTracking,
		Deduplication:       e.cfg.Deduplication,
		DedupThreshold:      e.cfg.DedupThreshold,
		Stats:               e.state.Stats,
		LedgerSize:          len(e.state.ContentHashes),
		Distribution:        dist,
	}
}

func (e *Evaluator) save() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.LastUpdated = time.Now().UTC()
	if err := e.file.Save(e.state); err != nil {
		e.log.Warn("ledger save failed", "err", err)
	}
}

// HashContent digests content lower-cased with whitespace collapsed, so
// near-identical whitespace variants collide intentionally.
func HashContent(content string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(content)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
