// Package retrieval ranks index hits for a query: intent recognition,
// query expansion, hybrid text and vector scoring, MMR diversification,
// and temporal decay.
package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/embedding"
	"github.com/openclaw/memcore/internal/model"
)

const historyCap = 100

// intentPatterns are checked in order; first match wins.
var intentPatterns = []struct {
	typ string
	re  *regexp.Regexp
}{
	{"search", regexp.MustCompile(`(?i)查找|搜索|find|search|查一下`)},
	{"recall", regexp.MustCompile(`(?i)记得|记住|上次|之前|recall|remember`)},
	{"config", regexp.MustCompile(`(?i)配置|设置|config|setting`)},
	{"status", regexp.MustCompile(`(?i)状态|情况|status|how`)},
	{"learn", regexp.MustCompile(`(?i)学习|了解|learn|study`)},
}

// queryExpansions append synonyms when the trigger term appears anywhere
// in the query.
var queryExpansions = []struct {
	trigger  string
	synonyms []string
}{
	{"配置", []string{"config", "setting", "configuration"}},
	{"token", []string{"密钥", "key", "secret", "credential"}},
	{"用户", []string{"user", "偏好", "preference"}},
	{"任务", []string{"task", "待办", "todo", "cron"}},
	{"错误", []string{"error", "失败", "failure", "bug"}},
	{"学习", []string{"learn", "study", "知识", "knowledge"}},
}

var tokenSplit = regexp.MustCompile(`[\s\-_:\/\.]+`)

// TextSource is the keyword side of hybrid search, served by the index.
type TextSource interface {
	Search(query string, limit int) []model.SearchHit
}

// Intent is the recognized query intent.
type Intent struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Hit is one ranked result with its score decomposition.
type Hit struct {
	model.SearchHit
	TextScore     float64 `json:"text_score"`
	VectorScore   float64 `json:"vector_score,omitempty"`
	OriginalScore float64 `json:"original_score,omitempty"`
	DecayFactor   float64 `json:"decay_factor,omitempty"`
}

// Meta describes how a result set was produced.
type Meta struct {
	Duration   time.Duration `json:"duration_ms"`
	TotalFound int           `json:"total_found"`
	SearchMode string        `json:"search_mode"`
	Expanded   string        `json:"expanded_query,omitempty"`
}

// Result is a ranked response for one query.
type Result struct {
	Query  string  `json:"query"`
	Intent *Intent `json:"intent,omitempty"`
	Hits   []Hit   `json:"hits"`
	Meta   Meta    `json:"meta"`
	Cached bool    `json:"from_cache,omitempty"`
}

// Options override per-query settings.
type Options struct {
	MaxResults int
}

// QueryStats summarizes recent query activity.
type QueryStats struct {
	Total         int            `json:"total"`
	AvgDurationMS float64        `json:"avg_duration_ms,omitempty"`
	Intents       map[string]int `json:"intents,omitempty"`
}

type queryRecord struct {
	Query       string
	Intent      string
	ResultCount int
	Duration    time.Duration
	Timestamp   time.Time
}

// Ranker runs the retrieval pipeline over a text source, optionally
// blending in vector similarity when an embedder is configured.
type Ranker struct {
	cfg      config.RetrievalConfig
	source   TextSource
	embedder embedding.Embedder
	now      func() time.Time

	mu      sync.Mutex
	history []queryRecord
}

// New builds a ranker. embedder may be nil, which disables the vector
// side of hybrid search.
func New(cfg config.RetrievalConfig, source TextSource, embedder embedding.Embedder) *Ranker {
	return &Ranker{
		cfg:      cfg,
		source:   source,
		embedder: embedder,
		now:      time.Now,
	}
}

// Search runs the full pipeline: intent, expansion, hybrid scoring, MMR,
// temporal decay, then truncation to max results.
func (r *Ranker) Search(ctx context.Context, query string, opts Options) (Result, error) {
	start := r.now()

	var intent *Intent
	if r.cfg.IntentRecognition {
		intent = RecognizeIntent(query)
	}
	expanded := query
	if r.cfg.QueryExpansion {
		expanded = ExpandQuery(query)
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = r.cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = 10
	}

	// Over-fetch so MMR and decay have candidates to reorder.
	raw := r.source.Search(expanded, maxResults*3)

	hits := normalizeText(raw)
	mode := "text"
	if r.cfg.HybridSearch && r.embedder != nil {
		var blended bool
		hits, blended = r.blendVector(ctx, query, hits)
		if blended {
			mode = "hybrid"
		}
	}
	sortByScore(hits)

	if r.cfg.MMRLambda < 1 {
		hits = applyMMR(hits, r.cfg.MMRLambda)
	}
	if r.cfg.TemporalDecayHalfLife > 0 {
		hits = r.applyTemporalDecay(hits)
	}
	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	duration := r.now().Sub(start)
	r.recordQuery(query, intent, len(hits), duration)

	res := Result{
		Query:  query,
		Intent: intent,
		Hits:   hits,
		Meta: Meta{
			Duration:   duration,
			TotalFound: len(hits),
			SearchMode: mode,
		},
	}
	if expanded != query {
		res.Meta.Expanded = expanded
	}
	return res, nil
}

// RecognizeIntent matches the query against the fixed intent patterns.
func RecognizeIntent(query string) *Intent {
	for _, p := range intentPatterns {
		if p.re.MatchString(query) {
			return &Intent{Type: p.typ, Confidence: 0.8}
		}
	}
	return &Intent{Type: "general", Confidence: 0.5}
}

// ExpandQuery appends synonym terms for any trigger present in the query.
func ExpandQuery(query string) string {
	expanded := query
	for _, e := range queryExpansions {
		if strings.Contains(query, e.trigger) {
			expanded += " " + strings.Join(e.synonyms, " ")
		}
	}
	return expanded
}

// normalizeText maps raw index scores into [0,1] by dividing by the top
// score, so they blend on the same scale as cosine similarity.
func normalizeText(raw []model.SearchHit) []Hit {
	var top float64
	for _, h := range raw {
		if h.Score > top {
			top = h.Score
		}
	}
	hits := make([]Hit, len(raw))
	for i, h := range raw {
		norm := h.Score
		if top > 0 {
			norm = h.Score / top
		}
		hits[i] = Hit{SearchHit: h, TextScore: norm}
		hits[i].Score = norm
	}
	return hits
}

// blendVector scores each hit's preview against the query embedding and
// combines the weighted sides. A failed query embedding degrades the whole
// search to text-only scoring; a failed hit embedding leaves just that hit
// on its text score.
func (r *Ranker) blendVector(ctx context.Context, query string, hits []Hit) ([]Hit, bool) {
	qv, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return hits, false
	}
	for i := range hits {
		text := hits[i].Preview
		if text == "" {
			text = hits[i].Summary
		}
		hv, err := r.embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		hits[i].VectorScore = embedding.CosineSimilarity(qv, hv)
		hits[i].Score = hits[i].VectorScore*r.cfg.VectorWeight + hits[i].TextScore*r.cfg.TextWeight
	}
	return hits, true
}

// applyMMR greedily reorders by relevance minus redundancy against the
// already-selected set.
func applyMMR(hits []Hit, lambda float64) []Hit {
	if len(hits) <= 1 {
		return hits
	}

	selected := []Hit{hits[0]}
	remaining := append([]Hit(nil), hits[1:]...)

	for len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, h := range remaining {
			diversity := maxSimilarity(h, selected)
			mmr := lambda*h.Score - (1-lambda)*diversity
			if mmr > bestScore {
				bestScore = mmr
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func maxSimilarity(candidate Hit, selected []Hit) float64 {
	ct := tokenize(hitText(candidate))
	var max float64
	for _, s := range selected {
		if sim := jaccard(ct, tokenize(hitText(s))); sim > max {
			max = sim
		}
	}
	return max
}

func hitText(h Hit) string {
	if h.Preview != "" {
		return h.Preview
	}
	return h.Title + " " + h.Summary
}

func tokenize(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenSplit.Split(strings.ToLower(text), -1) {
		if len([]rune(t)) > 1 {
			set[t] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if b[t] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// applyTemporalDecay multiplies each score by exp(-ln2 * age / halfLife)
// keyed on the hit's index time, then re-sorts.
func (r *Ranker) applyTemporalDecay(hits []Hit) []Hit {
	halfLife := time.Duration(r.cfg.TemporalDecayHalfLife) * 24 * time.Hour
	decayConstant := math.Ln2 / float64(halfLife)
	now := r.now()

	for i := range hits {
		ts := hits[i].UpdatedAt
		if ts.IsZero() {
			ts = hits[i].IndexedAt
		}
		if ts.IsZero() {
			continue
		}
		age := float64(now.Sub(ts))
		decay := math.Exp(-decayConstant * age)
		hits[i].OriginalScore = hits[i].Score
		hits[i].DecayFactor = decay
		hits[i].Score *= decay
	}
	sortByScore(hits)
	return hits
}

func sortByScore(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

func (r *Ranker) recordQuery(query string, intent *Intent, count int, duration time.Duration) {
	rec := queryRecord{
		Query:       query,
		ResultCount: count,
		Duration:    duration,
		Timestamp:   r.now(),
	}
	if intent != nil {
		rec.Intent = intent.Type
	}
	r.mu.Lock()
	r.history = append(r.history, rec)
	if len(r.history) > historyCap {
		r.history = r.history[len(r.history)-historyCap:]
	}
	r.mu.Unlock()
}

// Stats summarizes the bounded query history.
func (r *Ranker) Stats() QueryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := QueryStats{Total: len(r.history)}
	if len(r.history) == 0 {
		return stats
	}
	stats.Intents = make(map[string]int)
	var total time.Duration
	for _, q := range r.history {
		intent := q.Intent
		if intent == "" {
			intent = "unknown"
		}
		stats.Intents[intent]++
		total += q.Duration
	}
	stats.AvgDurationMS = float64(total.Milliseconds()) / float64(len(r.history))
	return stats
}

// Status reports the active ranking parameters and query stats.
func (r *Ranker) Status() map[string]any {
	return map[string]any{
		"hybrid_search":            r.cfg.HybridSearch,
		"vector_weight":            r.cfg.VectorWeight,
		"text_weight":              r.cfg.TextWeight,
		"mmr_lambda":               r.cfg.MMRLambda,
		"temporal_decay_half_life": r.cfg.TemporalDecayHalfLife,
		"query_expansion":          r.cfg.QueryExpansion,
		"intent_recognition":       r.cfg.IntentRecognition,
		"vector_backend":           r.embedder != nil,
		"query_stats":              r.Stats(),
	}
}
