package indexer

import (
	"sort"
	"strings"

	"github.com/openclaw/memcore/internal/model"
)

// Classify derives the tier 0 type from the entry's origin path and
// content, checked in fixed priority order. This classifier is
// authoritative for the indexed type; the automation enricher's
// keyword-rule category is recorded separately on the entry and the two
// may disagree.
func (ix *Indexer) Classify(entry model.MemoryEntry) string {
	content := strings.ToLower(entry.Content)
	path := entry.Path

	switch {
	case strings.Contains(path, "待办") || strings.Contains(content, "待办"):
		return "todo"
	case strings.Contains(path, "偏好") || strings.Contains(content, "偏好"):
		return "preference"
	case strings.Contains(path, "知识库") || strings.Contains(content, "学习"):
		return "learning"
	case strings.Contains(path, "evolution") || strings.Contains(content, "进化"):
		return "evolution"
	case strings.Contains(path, "company") || strings.Contains(content, "公司"):
		return "company"
	case datePathPattern.MatchString(path):
		return "daily"
	case strings.Contains(content, "配置") || strings.Contains(content, "config"):
		return "config"
	}
	return "general"
}

// extractTitle takes the first markdown heading, else the first 50 chars
// with an ellipsis.
func extractTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return truncateRunes(content, titleLen) + "..."
}

// generateSummary joins the first two substantial sentences, capped at 100
// chars.
func generateSummary(content string) string {
	var sentences []string
	for _, s := range strings.FieldsFunc(content, func(r rune) bool {
		return strings.ContainsRune(sentenceChars, r)
	}) {
		if len([]rune(strings.TrimSpace(s))) > 10 {
			sentences = append(sentences, s)
			if len(sentences) == 2 {
				break
			}
		}
	}
	if len(sentences) > 0 {
		return truncateRunes(strings.Join(sentences, " "), summaryLen)
	}
	return truncateRunes(content, summaryLen)
}

// extractTags unions the entry's explicit tags with pattern-derived tags
// (channels, credential markers, automation markers, agent aliases),
// lower-cased and de-duplicated in first-seen order.
func extractTags(entry model.MemoryEntry) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(tag)
		if tag != "" && !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	for _, t := range entry.Tags {
		add(t)
	}
	for _, re := range tagPatterns {
		for _, m := range re.FindAllString(entry.Content, -1) {
			add(m)
		}
	}
	return tags
}

// extractKeywords counts CJK and ASCII word runs of length >= 2 across the
// content blocks and keeps the top 10 by frequency, first-seen order
// breaking ties.
func extractKeywords(blocks []string) []string {
	counts := make(map[string]int)
	var order []string
	for _, block := range blocks {
		for _, word := range wordPattern.FindAllString(block, -1) {
			if len([]rune(word)) < 2 {
				continue
			}
			if counts[word] == 0 {
				order = append(order, word)
			}
			counts[word]++
		}
	}

	rank := make(map[string]int, len(order))
	for i, w := range order {
		rank[w] = i
	}
	sort.Slice(order, func(i, j int) bool {
		if counts[order[i]] != counts[order[j]] {
			return counts[order[i]] > counts[order[j]]
		}
		return rank[order[i]] < rank[order[j]]
	})
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}

func importanceOrDefault(v float64) float64 {
	if v == 0 {
		return 0.5
	}
	return v
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
