package integration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/config"
)

type memDocWriter struct {
	docs map[string]string
}

func (w *memDocWriter) WriteDoc(name, content string) error {
	w.docs[name] = content
	return nil
}

func newTestBridge(t *testing.T, cfg config.IntegrationConfig) (*Bridge, *memDocWriter) {
	t.Helper()
	w := &memDocWriter{docs: make(map[string]string)}
	b, err := New(cfg, t.TempDir(), w)
	require.NoError(t, err)
	return b, w
}

func TestSyncFoundryExtractsInsights(t *testing.T) {
	foundry := t.TempDir()
	learnings := `[
		{"type": "pattern", "tool": "exec", "error": "timeout", "resolution": "retry", "useCount": 9},
		{"type": "pattern", "tool": "read", "useCount": 2},
		{"type": "note", "tool": "exec", "useCount": 100}
	]`
	metrics := `{
		"browser": {"fitness": 0.5, "successCount": 3, "failureCount": 7},
		"exec": {"fitness": 0.95, "successCount": 90, "failureCount": 2}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "learnings.json"), []byte(learnings), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "metrics.json"), []byte(metrics), 0o600))

	b, w := newTestBridge(t, config.IntegrationConfig{FoundrySync: true, FoundryDir: foundry})

	result, err := b.SyncFoundry()
	require.NoError(t, err)
	// One frequent pattern (useCount > 5) plus one low-fitness tool.
	assert.Equal(t, 2, result.Insights)

	doc := w.docs["foundry-insights"]
	require.NotEmpty(t, doc)
	assert.Contains(t, doc, "frequent_pattern")
	assert.Contains(t, doc, "low_performing_tool")
	assert.Contains(t, doc, "browser")
	assert.NotContains(t, doc, "read")
}

func TestSyncFoundryAbsentFilesAreEmpty(t *testing.T) {
	b, w := newTestBridge(t, config.IntegrationConfig{FoundrySync: true, FoundryDir: t.TempDir()})

	result, err := b.SyncFoundry()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Insights)
	assert.Contains(t, w.docs, "foundry-insights")
}

func TestSyncFoundryCountsAllStores(t *testing.T) {
	foundry := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "learnings.json"),
		[]byte(`[{"type": "pattern", "tool": "exec", "useCount": 9}]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "metrics.json"),
		[]byte(`{"exec": {"fitness": 0.95}}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "outcomes.json"),
		[]byte(`[{"task": "a"}, {"task": "b"}, {"task": "c"}]`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "task-insights.json"),
		[]byte(`{"deploy": {"count": 4}, "review": {"count": 1}}`), 0o600))

	b, _ := newTestBridge(t, config.IntegrationConfig{FoundrySync: true, FoundryDir: foundry})
	_, err := b.SyncFoundry()
	require.NoError(t, err)

	stats := b.Status().FoundryStats
	assert.Equal(t, 1, stats.Learnings)
	assert.Equal(t, 1, stats.Metrics)
	assert.Equal(t, 3, stats.Outcomes)
	assert.Equal(t, 2, stats.TaskInsights)
}

func TestSyncFoundryMalformedOutcomesFails(t *testing.T) {
	foundry := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "outcomes.json"), []byte("[broken"), 0o600))

	b, _ := newTestBridge(t, config.IntegrationConfig{FoundrySync: true, FoundryDir: foundry})
	_, err := b.SyncFoundry()
	assert.ErrorContains(t, err, "outcomes")
}

func TestSyncFoundryMalformedFileFails(t *testing.T) {
	foundry := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(foundry, "learnings.json"), []byte("{broken"), 0o600))

	b, _ := newTestBridge(t, config.IntegrationConfig{FoundrySync: true, FoundryDir: foundry})
	_, err := b.SyncFoundry()
	assert.Error(t, err)
}

func TestSyncSessionsCountsMessages(t *testing.T) {
	sessions := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(sessions, "a.jsonl"), []byte("{}\n{}\n{}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sessions, "b.jsonl"), []byte("{}\n\n{}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sessions, "notes.txt"), []byte("ignored"), 0o600))

	b, w := newTestBridge(t, config.IntegrationConfig{SessionSync: true, SessionsDir: sessions})

	result, err := b.SyncSessions()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sessions)
	assert.Equal(t, 5, result.Messages)
	assert.Contains(t, w.docs["sessions-summary"], "共 2 个会话，5 条消息")
}

func TestSyncSessionsLimitsToMostRecent(t *testing.T) {
	sessions := t.TempDir()
	for i := 0; i < 15; i++ {
		name := filepath.Join(sessions, string(rune('a'+i))+".jsonl")
		require.NoError(t, os.WriteFile(name, []byte("{}\n"), 0o600))
	}

	b, _ := newTestBridge(t, config.IntegrationConfig{SessionSync: true, SessionsDir: sessions})
	result, err := b.SyncSessions()
	require.NoError(t, err)
	assert.Equal(t, 10, result.Sessions)
}

func TestSyncSessionsAbsentDir(t *testing.T) {
	b, _ := newTestBridge(t, config.IntegrationConfig{
		SessionSync: true,
		SessionsDir: filepath.Join(t.TempDir(), "nope"),
	})

	result, err := b.SyncSessions()
	require.NoError(t, err)
	assert.Equal(t, 0, result.Sessions)
}

func TestSyncAllRunsEnabledSources(t *testing.T) {
	b, w := newTestBridge(t, config.IntegrationConfig{
		FoundrySync: true,
		SessionSync: true,
		FoundryDir:  t.TempDir(),
		SessionsDir: t.TempDir(),
	})

	results, err := b.SyncAll()
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Contains(t, w.docs, "foundry-insights")
	assert.Contains(t, w.docs, "sessions-summary")

	st := b.Status()
	assert.True(t, st.FoundrySync)
	assert.NotEmpty(t, st.RecentSyncs)
}

func TestSyncAllSkipsDisabledSources(t *testing.T) {
	b, w := newTestBridge(t, config.IntegrationConfig{FoundrySync: false, SessionSync: false})

	results, err := b.SyncAll()
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, w.docs)
}
