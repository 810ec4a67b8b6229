// Package automation enriches entries on the way in: keyword-rule
// classification, relation linking, and summarization, plus a registry of
// named enrichment routines resolved at startup.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
	"github.com/openclaw/memcore/internal/storage"
)

var (
	// ErrRoutineNotFound marks a routine name absent from the registry.
	ErrRoutineNotFound = errors.New("automation: routine not found")
	// ErrRoutineFailed wraps a routine that returned an error.
	ErrRoutineFailed = errors.New("automation: execution failed")
)

const (
	journalCap    = 100
	summaryMaxLen = 200
)

// relationPatterns mirror the indexer's tag families on purpose: both
// layers extract independently and neither owns the result.
var relationPatterns = []struct {
	re  *regexp.Regexp
	typ string
}{
	{regexp.MustCompile(`(亮仔|辉仔|康仔)`), "agent"},
	{regexp.MustCompile(`(?i)(discord|whatsapp|telegram)`), "channel"},
	{regexp.MustCompile(`(?i)(token)|(密码)|(?i)(key)`), "credential"},
	{regexp.MustCompile(`(?i)(cron)|(定时|自动化)`), "automation"},
	{regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`), "date"},
}

// categoryRules drive keyword classification: highest keyword-hit count
// wins, earlier rules win ties.
var categoryRules = []struct {
	keywords []string
	category string
}{
	{[]string{"token", "config", "配置"}, "config"},
	{[]string{"待办", "task", "todo"}, "todo"},
	{[]string{"学习", "learn", "skill"}, "learning"},
	{[]string{"错误", "error", "fix"}, "debug"},
	{[]string{"进化", "evolution", "foundry"}, "evolution"},
}

// Routine is a named enrichment capability. Routines are registered at
// startup; there is no runtime loading of code from disk.
type Routine func(ctx context.Context, args ...string) (any, error)

// logRecord is one journal line in the bounded automation log.
type logRecord struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type journalState struct {
	Log         []logRecord `json:"log"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Status is the enricher's contribution to aggregate status.
type Status struct {
	AutoWrite     bool     `json:"auto_write"`
	AutoLink      bool     `json:"auto_link"`
	AutoClassify  bool     `json:"auto_classify"`
	AutoSummarize bool     `json:"auto_summarize"`
	Routines      []string `json:"routines"`
	RecentActions int      `json:"recent_actions"`
}

// Enricher applies automated processing to entries and runs registered
// routines.
type Enricher struct {
	cfg  config.AutomationConfig
	file *storage.File
	log  *slog.Logger

	mu       sync.Mutex
	routines map[string]Routine
	journal  []logRecord
}

// New loads the automation journal under root and registers the built-in
// auto-summary routine. Further routines are registered by the caller
// before use.
func New(cfg config.AutomationConfig, root string) (*Enricher, error) {
	e := &Enricher{
		cfg:      cfg,
		file:     storage.NewFile(filepath.Join(root, "core", ".automation.json")),
		log:      slog.With("component", "automation"),
		routines: make(map[string]Routine),
	}
	var state journalState
	if _, err := e.file.Load(&state); err != nil {
		return nil, fmt.Errorf("automation: load journal: %w", err)
	}
	e.journal = state.Log

	e.Register("auto-summary", func(_ context.Context, args ...string) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		return Summarize(args[0]), nil
	})
	return e, nil
}

// Register adds a named routine to the registry, replacing any previous
// binding.
func (e *Enricher) Register(name string, fn Routine) {
	e.mu.Lock()
	e.routines[name] = fn
	e.mu.Unlock()
}

// ProcessEntry applies the enabled enrichment passes: classification,
// relation linking, and summarization of long content.
func (e *Enricher) ProcessEntry(entry model.MemoryEntry) model.MemoryEntry {
	if e.cfg.AutoClassify {
		entry.Category = Classify(entry.Content)
	}
	if e.cfg.AutoLink {
		if relations := Link(entry.Content); len(relations) > 0 {
			entry.Relations = relations
		}
	}
	if e.cfg.AutoSummarize && len([]rune(entry.Content)) > e.cfg.SummaryThreshold {
		entry.Summary = Summarize(entry.Content)
	}
	entry.EnrichedAt = time.Now().UTC()

	e.record("process_entry", map[string]any{"id": entry.ID, "category": entry.Category})
	return entry
}

// Classify scores the fixed category keyword tables against the content.
// The highest hit count wins; ties keep the earlier rule; no hits means
// general. This may disagree with the indexer's path classifier, which
// stays authoritative for the indexed type.
func Classify(content string) string {
	lower := strings.ToLower(content)
	best := "general"
	bestScore := 0
	for _, rule := range categoryRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = rule.category
		}
	}
	return best
}

// Link extracts typed relations from content using the fixed regex
// families.
func Link(content string) []model.Relation {
	var relations []model.Relation
	for _, rp := range relationPatterns {
		matches := rp.re.FindAllString(content, -1)
		if len(matches) == 0 {
			continue
		}
		seen := make(map[string]bool)
		var values []string
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				values = append(values, m)
			}
		}
		relations = append(relations, model.Relation{Type: rp.typ, Values: values, Count: len(matches)})
	}
	return relations
}

// Summarize keeps the first three substantial sentences, capped at 200
// chars.
func Summarize(content string) string {
	var sentences []string
	for _, s := range strings.FieldsFunc(content, func(r rune) bool {
		return r == '。' || r == '！' || r == '？' || r == '\n'
	}) {
		if len([]rune(strings.TrimSpace(s))) > 10 {
			sentences = append(sentences, s)
			if len(sentences) == 3 {
				break
			}
		}
	}
	joined := strings.Join(sentences, " ")
	runes := []rune(joined)
	if len(runes) > summaryMaxLen {
		return string(runes[:summaryMaxLen])
	}
	return joined
}

// RunRoutine executes a registered routine by name. Missing names and
// routine errors come back as typed errors, never panics.
func (e *Enricher) RunRoutine(ctx context.Context, name string, args ...string) (any, error) {
	e.mu.Lock()
	fn, ok := e.routines[name]
	e.mu.Unlock()
	if !ok {
		e.record("run_routine", map[string]any{"routine": name, "success": false, "error": "not_found"})
		return nil, fmt.Errorf("%w: %s", ErrRoutineNotFound, name)
	}

	result, err := fn(ctx, args...)
	if err != nil {
		e.record("run_routine", map[string]any{"routine": name, "success": false, "error": err.Error()})
		return nil, fmt.Errorf("%w: %s: %v", ErrRoutineFailed, name, err)
	}
	e.record("run_routine", map[string]any{"routine": name, "success": true})
	return result, nil
}

// Routines lists the registered routine names, sorted.
func (e *Enricher) Routines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.routines))
	for name := range e.routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Recent returns the last n journal records, newest last.
func (e *Enricher) Recent(n int) []logRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n <= 0 || n > len(e.journal) {
		n = len(e.journal)
	}
	out := make([]logRecord, n)
	copy(out, e.journal[len(e.journal)-n:])
	return out
}

// Status reports flags, routines, and recent activity volume.
func (e *Enricher) Status() Status {
	routines := e.Routines()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		AutoWrite:     e.cfg.AutoWrite,
		AutoLink:      e.cfg.AutoLink,
		AutoClassify:  e.cfg.AutoClassify,
		AutoSummarize: e.cfg.AutoSummarize,
		Routines:      routines,
		RecentActions: len(e.journal),
	}
}

// record appends to the bounded journal; journal write failures are
// telemetry and never surface.
func (e *Enricher) record(action string, details map[string]any) {
	e.mu.Lock()
	e.journal = append(e.journal, logRecord{
		ID:        ulid.Make().String(),
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	if len(e.journal) > journalCap {
		e.journal = e.journal[len(e.journal)-journalCap:]
	}
	state := journalState{Log: e.journal, LastUpdated: time.Now().UTC()}
	e.mu.Unlock()

	if err := e.file.Save(state); err != nil {
		e.log.Debug("automation journal save failed", "err", err)
	}
}
