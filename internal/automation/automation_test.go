package automation

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
)

func testConfig() config.AutomationConfig {
	return config.AutomationConfig{
		AutoWrite:        true,
		AutoLink:         true,
		AutoClassify:     true,
		AutoSummarize:    true,
		SummaryThreshold: 500,
	}
}

func newTestEnricher(t *testing.T) *Enricher {
	t.Helper()
	e, err := New(testConfig(), t.TempDir())
	require.NoError(t, err)
	return e
}

func TestClassifyCategories(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"Discord token 配置 updated", "config"},
		{"今天的待办 task list", "todo"},
		{"学习 a new skill", "learning"},
		{"fix the error in parsing", "debug"},
		{"foundry evolution cycle done", "evolution"},
		{"random chatter", "general"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.content), "content %q", tt.content)
	}
}

func TestClassifyHighestScoreWins(t *testing.T) {
	// Two learning keywords outweigh one config keyword.
	assert.Equal(t, "learning", Classify("学习 the skill needed for token handling"))
}

func TestLinkExtractsTypedRelations(t *testing.T) {
	relations := Link("亮仔 sent the Discord token on 2026-03-14, 康仔 confirmed")

	byType := make(map[string]model.Relation)
	for _, r := range relations {
		byType[r.Type] = r
	}

	require.Contains(t, byType, "agent")
	assert.ElementsMatch(t, []string{"亮仔", "康仔"}, byType["agent"].Values)
	assert.Equal(t, 2, byType["agent"].Count)

	require.Contains(t, byType, "channel")
	assert.Equal(t, []string{"Discord"}, byType["channel"].Values)

	require.Contains(t, byType, "credential")
	require.Contains(t, byType, "date")
	assert.Equal(t, []string{"2026-03-14"}, byType["date"].Values)
}

func TestLinkNoMatches(t *testing.T) {
	assert.Empty(t, Link("plain text with nothing special"))
}

func TestSummarizeKeepsLeadingSentences(t *testing.T) {
	content := "第一句话足够长可以保留。第二句话也足够长可以保留。第三句话同样足够长可以保留。第四句话不应该出现在摘要里。"
	summary := Summarize(content)
	assert.Contains(t, summary, "第一句话")
	assert.Contains(t, summary, "第三句话")
	assert.NotContains(t, summary, "第四句话")
	assert.LessOrEqual(t, len([]rune(summary)), 200)
}

func TestProcessEntryEnriches(t *testing.T) {
	e := newTestEnricher(t)

	long := strings.Repeat("这是一段关于 Discord token 配置的长内容。", 40)
	entry := e.ProcessEntry(model.MemoryEntry{ID: "mem_1_aaaaaa", Content: long})

	assert.Equal(t, "config", entry.Category)
	assert.NotEmpty(t, entry.Relations)
	assert.NotEmpty(t, entry.Summary)
	assert.False(t, entry.EnrichedAt.IsZero())
}

func TestProcessEntryShortContentSkipsSummary(t *testing.T) {
	e := newTestEnricher(t)

	entry := e.ProcessEntry(model.MemoryEntry{Content: "short note"})
	assert.Empty(t, entry.Summary)
}

func TestProcessEntryRespectsFlags(t *testing.T) {
	cfg := testConfig()
	cfg.AutoClassify = false
	cfg.AutoLink = false
	e, err := New(cfg, t.TempDir())
	require.NoError(t, err)

	entry := e.ProcessEntry(model.MemoryEntry{Content: "Discord token 配置"})
	assert.Empty(t, entry.Category)
	assert.Empty(t, entry.Relations)
}

func TestRunRoutineNotFound(t *testing.T) {
	e := newTestEnricher(t)

	_, err := e.RunRoutine(context.Background(), "no-such-routine")
	assert.ErrorIs(t, err, ErrRoutineNotFound)
}

func TestRunRoutineWrapsFailures(t *testing.T) {
	e := newTestEnricher(t)
	e.Register("broken", func(context.Context, ...string) (any, error) {
		return nil, assert.AnError
	})

	_, err := e.RunRoutine(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrRoutineFailed)
}

func TestBuiltinAutoSummaryRoutine(t *testing.T) {
	e := newTestEnricher(t)

	out, err := e.RunRoutine(context.Background(), "auto-summary", "这是一段足够长的句子可以被保留下来。")
	require.NoError(t, err)
	assert.Contains(t, out.(string), "这是一段足够长")
}

func TestRoutinesListedSorted(t *testing.T) {
	e := newTestEnricher(t)
	e.Register("zz-last", func(context.Context, ...string) (any, error) { return nil, nil })
	e.Register("aa-first", func(context.Context, ...string) (any, error) { return nil, nil })

	names := e.Routines()
	assert.Equal(t, []string{"aa-first", "auto-summary", "zz-last"}, names)
}

func TestJournalBounded(t *testing.T) {
	e := newTestEnricher(t)

	for i := 0; i < journalCap+10; i++ {
		e.record("process_entry", nil)
	}
	assert.Len(t, e.Recent(0), journalCap)
}
