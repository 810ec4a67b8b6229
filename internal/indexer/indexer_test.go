package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/model"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	ix, err := New(config.IndexerConfig{MultiLevel: true, AutoUpdate: true}, t.TempDir())
	require.NoError(t, err)
	return ix
}

func TestHealthCheckNoticesStaleIndex(t *testing.T) {
	ix := newTestIndexer(t)

	_, err := ix.Index(model.MemoryEntry{Content: "a note that will go stale eventually"})
	require.NoError(t, err)
	ix.idx.Metadata.LastUpdated = time.Now().UTC().Add(-48 * time.Hour)

	h := ix.HealthCheck()
	assert.True(t, h.Healthy, "staleness is informational")
	require.Len(t, h.Issues, 1)
	assert.Equal(t, "info", h.Issues[0].Severity)
	assert.Equal(t, "index not updated in over 24 hours", h.Issues[0].Message)
}

func TestIndexAssignsIDAndFillsAllTiers(t *testing.T) {
	ix := newTestIndexer(t)

	entry, err := ix.Index(model.MemoryEntry{Content: "# Discord 配置\n\nDiscord Token configured for the bot", Importance: 0.7})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	h := ix.HealthCheck()
	assert.True(t, h.Healthy)
	assert.Equal(t, 1, h.Tier0Count)
	assert.Equal(t, 1, h.Tier1Count)
	assert.Equal(t, 1, h.Tier2Count)

	rec, ok := ix.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, entry.Content, rec.Content)
}

func TestIndexKeepsProvidedID(t *testing.T) {
	ix := newTestIndexer(t)

	entry, err := ix.Index(model.MemoryEntry{ID: "mem_42_zzzzzz", Content: "some content worth keeping"})
	require.NoError(t, err)
	assert.Equal(t, "mem_42_zzzzzz", entry.ID)
}

func TestDeleteRemovesAllTiers(t *testing.T) {
	ix := newTestIndexer(t)

	entry, err := ix.Index(model.MemoryEntry{Content: "disposable note with enough words"})
	require.NoError(t, err)
	require.NoError(t, ix.Delete(entry.ID))

	h := ix.HealthCheck()
	assert.Equal(t, 0, h.Tier0Count)
	assert.Equal(t, 0, h.Tier1Count)
	assert.Equal(t, 0, h.Tier2Count)
	_, ok := ix.Get(entry.ID)
	assert.False(t, ok)

	// Deleting an absent id is a silent no-op.
	assert.NoError(t, ix.Delete("mem_0_nothere"))
}

func TestUpdateMergesAndRegenerates(t *testing.T) {
	ix := newTestIndexer(t)

	entry, err := ix.Index(model.MemoryEntry{Content: "# Old Title\n\noriginal body text for the entry"})
	require.NoError(t, err)

	importance := 0.9
	content := "# New Title\n\ncompletely replaced body with fresh keywords inside"
	rec, err := ix.Update(entry.ID, Updates{Importance: &importance, Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "New Title", rec.Title)
	assert.Equal(t, 0.9, rec.Importance)
	assert.False(t, rec.UpdatedAt.IsZero())

	raw, _ := ix.Get(entry.ID)
	assert.Equal(t, content, raw.Content)

	_, err = ix.Update("mem_0_nothere", Updates{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchRanksAndBreaksTies(t *testing.T) {
	ix := newTestIndexer(t)

	_, err := ix.Index(model.MemoryEntry{ID: "mem_1_aaaaaa", Content: "# Discord setup\n\nhow the discord bot was configured"})
	require.NoError(t, err)
	_, err = ix.Index(model.MemoryEntry{ID: "mem_2_bbbbbb", Content: "# Telegram setup\n\nnotes that mention discord once in passing"})
	require.NoError(t, err)

	hits := ix.Search("discord", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "mem_1_aaaaaa", hits[0].ID, "title match outranks body mention")
	for i := 1; i < len(hits); i++ {
		if hits[i-1].Score == hits[i].Score {
			assert.Less(t, hits[i-1].ID, hits[i].ID)
		}
	}
}

func TestSearchNoMatches(t *testing.T) {
	ix := newTestIndexer(t)
	_, err := ix.Index(model.MemoryEntry{Content: "unrelated note about cooking"})
	require.NoError(t, err)

	assert.Empty(t, ix.Search("kubernetes", 10))
}

func TestClassifyPriorityOrder(t *testing.T) {
	ix := newTestIndexer(t)

	tests := []struct {
		entry model.MemoryEntry
		want  string
	}{
		{model.MemoryEntry{Path: "todo/待办.md", Content: "学习计划"}, "todo"}, // path beats content rules below it
		{model.MemoryEntry{Content: "我的偏好是简洁"}, "preference"},
		{model.MemoryEntry{Content: "今天学习了新技能"}, "learning"},
		{model.MemoryEntry{Path: "evolution/gen3.md"}, "evolution"},
		{model.MemoryEntry{Content: "公司架构说明"}, "company"},
		{model.MemoryEntry{Path: "daily/2026-03-14.md"}, "daily"},
		{model.MemoryEntry{Content: "server config notes"}, "config"},
		{model.MemoryEntry{Content: "nothing special"}, "general"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ix.Classify(tt.entry), "entry %+v", tt.entry)
	}
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.IndexerConfig{MultiLevel: true}

	ix, err := New(cfg, dir)
	require.NoError(t, err)
	entry, err := ix.Index(model.MemoryEntry{Content: "persistent entry body text"})
	require.NoError(t, err)

	reopened, err := New(cfg, dir)
	require.NoError(t, err)
	rec, ok := reopened.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, "persistent entry body text", rec.Content)
}

func TestRebuildIndexWalksDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "知识库"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "知识库", "note.md"), []byte("# Note\n\nbody"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("plain text doc"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.json"), []byte("{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden", "ignored.md"), []byte("hidden"), 0o600))

	ix, err := New(config.IndexerConfig{}, dir)
	require.NoError(t, err)

	n, err := ix.RebuildIndex(nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, ix.Count())
}

func TestRebuildIndexFilter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.md"), []byte("keep this document"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drop.md"), []byte("drop this document"), 0o600))

	ix, err := New(config.IndexerConfig{}, dir)
	require.NoError(t, err)

	n, err := ix.RebuildIndex(func(content string) bool {
		return content == "keep this document"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
