// Package integration bridges external stores into the memory tree: tool
// learning data from the foundry directory and conversation session logs.
// Each sync distills the external data into a markdown document written
// into the knowledge base, where the indexer picks it up like any other
// document.
package integration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/storage"
)

const (
	syncLogCap   = 100
	sessionLimit = 10
)

// Learning is one record from the foundry learnings file.
type Learning struct {
	Type       string `json:"type"`
	Tool       string `json:"tool"`
	Error      string `json:"error"`
	Resolution string `json:"resolution"`
	UseCount   int    `json:"useCount"`
}

// ToolMetric is one tool's fitness record from the foundry metrics file.
type ToolMetric struct {
	Fitness      float64 `json:"fitness"`
	SuccessCount int     `json:"successCount"`
	FailureCount int     `json:"failureCount"`
}

// Insight is a distilled observation worth keeping in memory.
type Insight struct {
	Type       string  `json:"type"`
	Tool       string  `json:"tool,omitempty"`
	Error      string  `json:"error,omitempty"`
	Resolution string  `json:"resolution,omitempty"`
	UseCount   int     `json:"use_count,omitempty"`
	Fitness    float64 `json:"fitness,omitempty"`
	Successes  int     `json:"successes,omitempty"`
	Failures   int     `json:"failures,omitempty"`
	Source     string  `json:"source"`
}

// SessionInfo describes one scanned session transcript.
type SessionInfo struct {
	File         string    `json:"file"`
	MessageCount int       `json:"message_count"`
	LastModified time.Time `json:"last_modified,omitzero"`
}

// SessionSummary is the rollup written to the knowledge base after a
// session sync.
type SessionSummary struct {
	TotalSessions int    `json:"total_sessions"`
	TotalMessages int    `json:"total_messages"`
	LatestSession string `json:"latest_session,omitempty"`
}

// SyncResult reports what a sync run produced.
type SyncResult struct {
	Source   string `json:"source"`
	Insights int    `json:"insights,omitempty"`
	Sessions int    `json:"sessions,omitempty"`
	Messages int    `json:"messages,omitempty"`
}

// FoundryStats counts the records found in each foundry store on the last
// sync.
type FoundryStats struct {
	Learnings    int `json:"learnings_count"`
	Metrics      int `json:"metrics_count"`
	Outcomes     int `json:"outcomes_count"`
	TaskInsights int `json:"task_insights_count"`
}

// Status is the bridge's contribution to aggregate status.
type Status struct {
	FoundrySync  bool         `json:"foundry_sync"`
	SessionSync  bool         `json:"session_sync"`
	FoundryStats FoundryStats `json:"foundry_stats"`
	RecentSyncs  []syncEntry  `json:"recent_syncs,omitempty"`
}

// DocWriter lands a synced markdown document in the memory tree.
// The default implementation writes files under the knowledge base
// directory; the manager can substitute one that routes through the
// full write pipeline.
type DocWriter interface {
	WriteDoc(name, content string) error
}

type fileDocWriter struct {
	dir string
}

func (w fileDocWriter) WriteDoc(name, content string) error {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, name+".md"), []byte(content), 0o600)
}

type syncEntry struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type syncState struct {
	SyncLog     []syncEntry `json:"sync_log"`
	LastUpdated time.Time   `json:"last_updated"`
}

// Bridge syncs external stores into the memory tree.
type Bridge struct {
	cfg    config.IntegrationConfig
	file   *storage.File
	writer DocWriter

	mu           sync.Mutex
	syncLog      []syncEntry
	foundryStats FoundryStats
}

// New loads the sync log under root. FoundryDir and SessionsDir default to
// conventional locations beside the memory root when unset.
func New(cfg config.IntegrationConfig, root string, writer DocWriter) (*Bridge, error) {
	if cfg.FoundryDir == "" {
		cfg.FoundryDir = filepath.Join(root, "foundry")
	}
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = filepath.Join(root, "sessions")
	}
	if writer == nil {
		writer = fileDocWriter{dir: filepath.Join(root, "知识库")}
	}

	b := &Bridge{
		cfg:    cfg,
		file:   storage.NewFile(filepath.Join(root, "core", ".integration.json")),
		writer: writer,
	}
	var state syncState
	if _, err := b.file.Load(&state); err != nil {
		return nil, fmt.Errorf("integration: load sync log: %w", err)
	}
	b.syncLog = state.SyncLog
	return b, nil
}

// SyncFoundry reads the foundry's four stores (learnings, metrics,
// outcomes, task insights), distills insights from the first two, and
// writes them to the knowledge base. Absent files count as empty; a file
// that exists but does not parse fails the sync.
func (b *Bridge) SyncFoundry() (SyncResult, error) {
	var learnings []Learning
	if err := readJSONFile(filepath.Join(b.cfg.FoundryDir, "learnings.json"), &learnings); err != nil {
		b.logSync("foundry", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: foundry learnings: %w", err)
	}
	metrics := make(map[string]ToolMetric)
	if err := readJSONFile(filepath.Join(b.cfg.FoundryDir, "metrics.json"), &metrics); err != nil {
		b.logSync("foundry", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: foundry metrics: %w", err)
	}
	var outcomes []json.RawMessage
	if err := readJSONFile(filepath.Join(b.cfg.FoundryDir, "outcomes.json"), &outcomes); err != nil {
		b.logSync("foundry", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: foundry outcomes: %w", err)
	}
	taskInsights := make(map[string]json.RawMessage)
	if err := readJSONFile(filepath.Join(b.cfg.FoundryDir, "task-insights.json"), &taskInsights); err != nil {
		b.logSync("foundry", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: foundry task insights: %w", err)
	}

	stats := FoundryStats{
		Learnings:    len(learnings),
		Metrics:      len(metrics),
		Outcomes:     len(outcomes),
		TaskInsights: len(taskInsights),
	}
	b.mu.Lock()
	b.foundryStats = stats
	b.mu.Unlock()

	insights := extractInsights(learnings, metrics)
	if err := b.writer.WriteDoc("foundry-insights", formatInsights(insights)); err != nil {
		b.logSync("foundry", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: write insights: %w", err)
	}

	b.logSync("foundry", "sync", map[string]any{
		"learnings":     stats.Learnings,
		"metrics":       stats.Metrics,
		"outcomes":      stats.Outcomes,
		"task_insights": stats.TaskInsights,
		"insights":      len(insights),
	})
	return SyncResult{Source: "foundry", Insights: len(insights)}, nil
}

// extractInsights keeps patterns used more than 5 times and tools whose
// fitness has dropped below 0.8.
func extractInsights(learnings []Learning, metrics map[string]ToolMetric) []Insight {
	var insights []Insight
	for _, l := range learnings {
		if l.Type == "pattern" && l.UseCount > 5 {
			insights = append(insights, Insight{
				Type:       "frequent_pattern",
				Tool:       l.Tool,
				Error:      l.Error,
				Resolution: l.Resolution,
				UseCount:   l.UseCount,
				Source:     "foundry",
			})
		}
	}

	tools := make([]string, 0, len(metrics))
	for tool := range metrics {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	for _, tool := range tools {
		m := metrics[tool]
		if m.Fitness < 0.8 {
			insights = append(insights, Insight{
				Type:      "low_performing_tool",
				Tool:      tool,
				Fitness:   m.Fitness,
				Successes: m.SuccessCount,
				Failures:  m.FailureCount,
				Source:    "foundry",
			})
		}
	}
	return insights
}

// SyncSessions scans the most recent session transcripts, counts their
// messages, and writes a rollup to the knowledge base. A missing sessions
// directory syncs as empty.
func (b *Bridge) SyncSessions() (SyncResult, error) {
	sessions, err := b.scanSessions()
	if err != nil {
		b.logSync("sessions", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: scan sessions: %w", err)
	}

	summary := summarizeSessions(sessions)
	if err := b.writer.WriteDoc("sessions-summary", formatSessionSummary(summary, sessions)); err != nil {
		b.logSync("sessions", "error", map[string]any{"error": err.Error()})
		return SyncResult{}, fmt.Errorf("integration: write summary: %w", err)
	}

	b.logSync("sessions", "sync", map[string]any{
		"sessions": summary.TotalSessions,
		"messages": summary.TotalMessages,
	})
	return SyncResult{Source: "sessions", Sessions: summary.TotalSessions, Messages: summary.TotalMessages}, nil
}

// scanSessions reads the last 10 .jsonl transcripts by name order, newest
// names last. Message count is the number of non-blank lines.
func (b *Bridge) scanSessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(b.cfg.SessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) > sessionLimit {
		names = names[len(names)-sessionLimit:]
	}

	var sessions []SessionInfo
	for _, name := range names {
		path := filepath.Join(b.cfg.SessionsDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		count := 0
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				count++
			}
		}
		info := SessionInfo{File: name, MessageCount: count}
		if fi, err := os.Stat(path); err == nil {
			info.LastModified = fi.ModTime().UTC()
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}

func summarizeSessions(sessions []SessionInfo) SessionSummary {
	s := SessionSummary{TotalSessions: len(sessions)}
	for _, info := range sessions {
		s.TotalMessages += info.MessageCount
	}
	if len(sessions) > 0 {
		s.LatestSession = sessions[len(sessions)-1].File
	}
	return s
}

func formatInsights(insights []Insight) string {
	var sb strings.Builder
	sb.WriteString("# foundry-insights\n\n")
	fmt.Fprintf(&sb, "更新时间: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	for _, in := range insights {
		fmt.Fprintf(&sb, "## %s\n", in.Type)
		if in.Tool != "" {
			fmt.Fprintf(&sb, "- **tool**: %s\n", in.Tool)
		}
		switch in.Type {
		case "frequent_pattern":
			if in.Error != "" {
				fmt.Fprintf(&sb, "- **error**: %s\n", in.Error)
			}
			if in.Resolution != "" {
				fmt.Fprintf(&sb, "- **resolution**: %s\n", in.Resolution)
			}
			fmt.Fprintf(&sb, "- **use_count**: %d\n", in.UseCount)
		case "low_performing_tool":
			fmt.Fprintf(&sb, "- **fitness**: %.2f\n", in.Fitness)
			fmt.Fprintf(&sb, "- **successes**: %d\n", in.Successes)
			fmt.Fprintf(&sb, "- **failures**: %d\n", in.Failures)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatSessionSummary(summary SessionSummary, sessions []SessionInfo) string {
	var sb strings.Builder
	sb.WriteString("# sessions-summary\n\n")
	fmt.Fprintf(&sb, "更新时间: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "共 %d 个会话，%d 条消息\n\n", summary.TotalSessions, summary.TotalMessages)
	for _, s := range sessions {
		fmt.Fprintf(&sb, "- **%s**: %d 条消息\n", s.File, s.MessageCount)
	}
	return sb.String()
}

// SyncAll runs every enabled sync, returning the per-source results. A
// failed source does not stop the others.
func (b *Bridge) SyncAll() ([]SyncResult, error) {
	var results []SyncResult
	var errs []error
	if b.cfg.FoundrySync {
		if r, err := b.SyncFoundry(); err != nil {
			errs = append(errs, err)
		} else {
			results = append(results, r)
		}
	}
	if b.cfg.SessionSync {
		if r, err := b.SyncSessions(); err != nil {
			errs = append(errs, err)
		} else {
			results = append(results, r)
		}
	}
	if len(errs) > 0 {
		return results, errs[0]
	}
	return results, nil
}

// Status reports the enabled syncs and recent activity.
func (b *Bridge) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	recent := b.syncLog
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	out := make([]syncEntry, len(recent))
	copy(out, recent)
	return Status{
		FoundrySync:  b.cfg.FoundrySync,
		SessionSync:  b.cfg.SessionSync,
		FoundryStats: b.foundryStats,
		RecentSyncs:  out,
	}
}

// logSync appends to the bounded sync log. Log persistence failures never
// surface.
func (b *Bridge) logSync(source, action string, details map[string]any) {
	b.mu.Lock()
	b.syncLog = append(b.syncLog, syncEntry{
		ID:        ulid.Make().String(),
		Source:    source,
		Action:    action,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	if len(b.syncLog) > syncLogCap {
		b.syncLog = b.syncLog[len(b.syncLog)-syncLogCap:]
	}
	state := syncState{SyncLog: b.syncLog, LastUpdated: time.Now().UTC()}
	b.mu.Unlock()

	_ = b.file.Save(state)
}

// readJSONFile decodes path into v, treating a missing file as empty.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
