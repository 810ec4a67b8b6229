// Package model defines the core memory data types.
package model

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// VerificationStatus tracks post-hoc verification of an entry.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Source values identify the provenance of an entry, used for confidence scoring.
const (
	SourceUserDirect = "user_direct"
	SourceInferred   = "inferred"
	SourceExternal   = "external"
)

// Relation is a typed group of values extracted from entry content
// (agent names, channels, credentials, automation markers, dates).
type Relation struct {
	Type   string   `json:"type"`
	Values []string `json:"values"`
	Count  int      `json:"count"`
}

// MemoryEntry is the unit of storage. ID is assigned at first index and
// immutable afterwards.
type MemoryEntry struct {
	ID                 string             `json:"id,omitempty"`
	Content            string             `json:"content"`
	Path               string             `json:"path,omitempty"`
	Source             string             `json:"source,omitempty"`
	Importance         float64            `json:"importance,omitempty"`
	Confidence         float64            `json:"confidence,omitempty"`
	Category           string             `json:"category,omitempty"`
	Tags               []string           `json:"tags,omitempty"`
	Relations          []Relation         `json:"relations,omitempty"`
	ContentHash        string             `json:"content_hash,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	Summary            string             `json:"summary,omitempty"`
	Redacted           bool               `json:"redacted,omitempty"`
	Sensitive          bool               `json:"sensitive,omitempty"`
	CreatedAt          time.Time          `json:"created_at,omitzero"`
	EvaluatedAt        time.Time          `json:"evaluated_at,omitzero"`
	EnrichedAt         time.Time          `json:"enriched_at,omitzero"`
}

// SummaryRecord is the Tier 0 projection: lightweight metadata for scanning.
type SummaryRecord struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	Tags       []string  `json:"tags,omitempty"`
	Importance float64   `json:"importance"`
	IndexedAt  time.Time `json:"indexed_at"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// PreviewRecord is the Tier 1 projection: structured preview for ranking.
type PreviewRecord struct {
	ID        string     `json:"id"`
	Preview   string     `json:"preview"`
	Keywords  []string   `json:"keywords,omitempty"`
	Relations []Relation `json:"relations,omitempty"`
}

// RawRecord is the Tier 2 projection: full content plus the original entry.
type RawRecord struct {
	ID      string      `json:"id"`
	Content string      `json:"content"`
	Entry   MemoryEntry `json:"entry"`
}

// SearchHit is one ranked result from the keyword index.
type SearchHit struct {
	SummaryRecord
	Preview  string   `json:"preview,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Score    float64  `json:"score"`
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewEntryID generates a memory entry id of the form mem_<unix-ms>_<random>.
func NewEntryID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			panic(fmt.Errorf("crypto/rand failed: %w", err))
		}
		suffix[i] = idAlphabet[n.Int64()]
	}
	return fmt.Sprintf("mem_%d_%s", time.Now().UnixMilli(), suffix)
}
