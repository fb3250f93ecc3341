// Package vectorstore abstracts the namespaced vector index. The index
// is a disposable projection of the durable chunk store: callers must
// treat an absent or failing backend as degraded capability, never as
// an error.
package vectorstore

import (
	"context"
	"fmt"
)

// Metadata is the payload attached to every vector record. ChatID scopes
// retrieval; the text copy is truncated so payloads stay small.
type Metadata struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Page       int    `json:"page"`
	Text       string `json:"text"`
	ChatID     string `json:"chat_id"`
}

// Record is a single vector index entry.
type Record struct {
	ID       string
	Vector   []float64
	Metadata Metadata
}

// Match is a scored query result.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Filter restricts queries and deletes by metadata. A zero filter
// matches everything; set fields are conjunctive.
type Filter struct {
	ChatID      string
	DocumentIDs []string
}

// Matches reports whether md satisfies the filter.
func (f Filter) Matches(md Metadata) bool {
	if f.ChatID != "" && md.ChatID != f.ChatID {
		return false
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if md.DocumentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Store is the vector index contract. Upsert is idempotent per record
// id; Query ranks by cosine similarity; Delete removes by metadata
// filter, never by enumerated id ranges.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float64, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
}

// RecordID derives the deterministic vector id for a chunk.
func RecordID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// TruncateText bounds the metadata text copy.
func TruncateText(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// Noop is the store used when no vector backend is configured. Every
// operation succeeds with an empty result so callers degrade instead of
// failing.
type Noop struct{}

// NewNoop creates a no-op store
func NewNoop() *Noop { return &Noop{} }

func (*Noop) Upsert(context.Context, []Record) error { return nil }

func (*Noop) Query(context.Context, []float64, int, Filter) ([]Match, error) {
	return nil, nil
}

func (*Noop) Delete(context.Context, Filter) error { return nil }
