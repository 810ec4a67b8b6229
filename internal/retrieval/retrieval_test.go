package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/embedding"
	"github.com/openclaw/memcore/internal/model"
)

type fakeEmbedder struct {
	vecs map[string]embedding.Vector
	err  error
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) (embedding.Vector, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	return embedding.Vector{0, 0, 1}, nil
}

func (e *fakeEmbedder) Dims() int { return 3 }

type fakeSource struct {
	hits    []model.SearchHit
	queries []string
}

func (s *fakeSource) Search(query string, limit int) []model.SearchHit {
	s.queries = append(s.queries, query)
	if len(s.hits) > limit {
		return s.hits[:limit]
	}
	return s.hits
}

func testConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		HybridSearch:          false,
		MMRLambda:             0.7,
		TemporalDecayHalfLife: 60,
		QueryExpansion:        true,
		IntentRecognition:     true,
		MaxResults:            10,
	}
}

func hit(id, title, preview string, score float64, indexedAt time.Time) model.SearchHit {
	return model.SearchHit{
		SummaryRecord: model.SummaryRecord{ID: id, Title: title, IndexedAt: indexedAt},
		Preview:       preview,
		Score:         score,
	}
}

func TestRecognizeIntent(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"搜索 discord 配置", "search"},
		{"记得上次说了什么", "recall"},
		{"config for the bot", "config"},
		{"what is the status", "status"},
		{"学习 go generics", "learn"},
		{"something else entirely", "general"},
	}
	for _, tt := range tests {
		got := RecognizeIntent(tt.query)
		assert.Equal(t, tt.want, got.Type, "query %q", tt.query)
	}
}

func TestExpandQueryAppendsSynonyms(t *testing.T) {
	expanded := ExpandQuery("discord token 设置")
	assert.Contains(t, expanded, "密钥")
	assert.Contains(t, expanded, "credential")

	assert.Equal(t, "plain words", ExpandQuery("plain words"))
}

func TestSearchNormalizesAndRanks(t *testing.T) {
	now := time.Now()
	src := &fakeSource{hits: []model.SearchHit{
		hit("mem_1_aaaaaa", "Discord setup", "discord bot setup guide", 6, now),
		hit("mem_2_bbbbbb", "Telegram setup", "telegram bot setup guide", 3, now),
	}}
	r := New(testConfig(), src, nil)

	result, err := r.Search(context.Background(), "discord", Options{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "mem_1_aaaaaa", result.Hits[0].ID)
	assert.InDelta(t, 1.0, result.Hits[0].TextScore, 1e-9, "top text score normalizes to 1")
	assert.Equal(t, "text", result.Meta.SearchMode)
	require.NotNil(t, result.Intent)
	assert.Equal(t, "general", result.Intent.Type)
}

func TestSearchExpandsQueryForSource(t *testing.T) {
	src := &fakeSource{}
	r := New(testConfig(), src, nil)

	_, err := r.Search(context.Background(), "token 任务", Options{})
	require.NoError(t, err)
	require.Len(t, src.queries, 1)
	assert.Contains(t, src.queries[0], "密钥")
	assert.Contains(t, src.queries[0], "todo")
}

func TestSearchHonorsMaxResults(t *testing.T) {
	now := time.Now()
	src := &fakeSource{}
	for i := 0; i < 30; i++ {
		src.hits = append(src.hits, hit(
			model.NewEntryID(), "title", "unique preview text", float64(30-i), now))
	}
	r := New(testConfig(), src, nil)

	result, err := r.Search(context.Background(), "query", Options{MaxResults: 5})
	require.NoError(t, err)
	assert.Len(t, result.Hits, 5)
}

func TestHybridSearchBlendsVectorScores(t *testing.T) {
	now := time.Now()
	src := &fakeSource{hits: []model.SearchHit{
		hit("mem_1_aaaaaa", "alpha", "alpha guide", 2, now),
		hit("mem_2_bbbbbb", "beta", "beta guide", 1, now),
	}}
	emb := &fakeEmbedder{vecs: map[string]embedding.Vector{
		"find beta":   {1, 0, 0},
		"alpha guide": {0, 1, 0},
		"beta guide":  {1, 0, 0},
	}}
	cfg := config.RetrievalConfig{
		HybridSearch: true,
		VectorWeight: 0.6,
		TextWeight:   0.4,
		MMRLambda:    1,
		MaxResults:   10,
	}
	r := New(cfg, src, emb)

	result, err := r.Search(context.Background(), "find beta", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hybrid", result.Meta.SearchMode)
	require.Len(t, result.Hits, 2)

	// 0.6*1.0 + 0.4*0.5 beats 0.6*0.0 + 0.4*1.0.
	assert.Equal(t, "mem_2_bbbbbb", result.Hits[0].ID)
	assert.InDelta(t, 0.8, result.Hits[0].Score, 1e-9)
	assert.InDelta(t, 1.0, result.Hits[0].VectorScore, 1e-9)
	assert.Equal(t, "mem_1_aaaaaa", result.Hits[1].ID)
	assert.InDelta(t, 0.4, result.Hits[1].Score, 1e-9)
}

func TestHybridSearchDegradesOnEmbedFailure(t *testing.T) {
	now := time.Now()
	src := &fakeSource{hits: []model.SearchHit{
		hit("mem_1_aaaaaa", "alpha", "alpha guide", 2, now),
		hit("mem_2_bbbbbb", "beta", "beta guide", 1, now),
	}}
	cfg := config.RetrievalConfig{
		HybridSearch: true,
		VectorWeight: 0.6,
		TextWeight:   0.4,
		MMRLambda:    1,
		MaxResults:   10,
	}
	r := New(cfg, src, &fakeEmbedder{err: assert.AnError})

	result, err := r.Search(context.Background(), "find beta", Options{})
	require.NoError(t, err)
	assert.Equal(t, "text", result.Meta.SearchMode)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "mem_1_aaaaaa", result.Hits[0].ID, "text order preserved")
	assert.Equal(t, result.Hits[0].TextScore, result.Hits[0].Score)
	assert.Zero(t, result.Hits[0].VectorScore)
}

func TestMMRDemotesNearDuplicates(t *testing.T) {
	hits := []Hit{
		{SearchHit: hit("mem_1_aaaaaa", "", "discord bot token setup", 1.0, time.Time{})},
		{SearchHit: hit("mem_2_bbbbbb", "", "discord bot token setup", 0.9, time.Time{})},
		{SearchHit: hit("mem_3_cccccc", "", "grocery list apples pears", 0.8, time.Time{})},
	}
	for i := range hits {
		hits[i].Score = hits[i].SearchHit.Score
	}

	out := applyMMR(hits, 0.5)
	require.Len(t, out, 3)
	assert.Equal(t, "mem_1_aaaaaa", out[0].ID)
	// The diverse hit jumps the near-duplicate.
	assert.Equal(t, "mem_3_cccccc", out[1].ID)
	assert.Equal(t, "mem_2_bbbbbb", out[2].ID)
}

func TestTemporalDecayPrefersFresh(t *testing.T) {
	now := time.Now()
	src := &fakeSource{hits: []model.SearchHit{
		hit("mem_1_aaaaaa", "old note", "aged content about alpha", 1.0, now.AddDate(0, 0, -120)),
		hit("mem_2_bbbbbb", "new note", "fresh content about beta", 0.9, now),
	}}
	cfg := testConfig()
	cfg.MMRLambda = 1 // isolate decay
	r := New(cfg, src, nil)
	r.now = func() time.Time { return now }

	result, err := r.Search(context.Background(), "note", Options{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 2)
	assert.Equal(t, "mem_2_bbbbbb", result.Hits[0].ID, "fresh hit outranks decayed higher score")
	assert.Less(t, result.Hits[1].DecayFactor, 0.3, "120 days at 60-day half-life decays past two halvings")
}

func TestJaccardTokenize(t *testing.T) {
	a := tokenize("discord-bot/token.setup")
	assert.True(t, a["discord"])
	assert.True(t, a["setup"])

	assert.Equal(t, 1.0, jaccard(a, tokenize("discord bot token setup")))
	assert.Equal(t, 0.0, jaccard(a, tokenize("unrelated words")))
}

func TestStatsTracksHistory(t *testing.T) {
	src := &fakeSource{}
	r := New(testConfig(), src, nil)

	_, err := r.Search(context.Background(), "搜索 anything", Options{})
	require.NoError(t, err)
	_, err = r.Search(context.Background(), "plain", Options{})
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Intents["search"])
	assert.Equal(t, 1, stats.Intents["general"])
}
