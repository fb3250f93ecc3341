package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/rag/vectorstore"
)

// Fallback scores for snippets that were not ranked by the vector index.
const (
	keywordFallbackScore  = 0.8
	anyChunkFallbackScore = 0.5
)

// ChunkSource resolves a chat's documents and durable chunks. The
// durable store is the source of truth; the retriever falls back to it
// whenever the vector index yields nothing.
type ChunkSource interface {
	ListIDsByChat(chatID string) ([]string, error)
	ChunksByChat(chatID string) ([]*domain.Chunk, error)
	GetChunk(documentID string, index int) (*domain.Chunk, error)
}

// RetrieverConfig bounds retrieval.
type RetrieverConfig struct {
	TopK           int
	ScoreThreshold float64
}

// Retriever produces ranked, chat-scoped context snippets for a query,
// degrading through vector search, keyword matching and finally
// arbitrary chunks so the answer is never generated without available
// context.
type Retriever struct {
	chunks   ChunkSource
	embedder Embedder
	store    vectorstore.Store
	cfg      RetrieverConfig
	logger   *zap.Logger
}

// NewRetriever creates a new retriever
func NewRetriever(chunks ChunkSource, embedder Embedder, store vectorstore.Store, cfg RetrieverConfig, logger *zap.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.01
	}
	return &Retriever{
		chunks:   chunks,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve returns tagged context snippets and aligned source references
// for a query scoped to one chat. Snippet i carries the [S{i+1}] tag and
// sources[i] points at its origin chunk, so citations in generated text
// stay dereferenceable. A chat without documents short-circuits to empty
// results without touching the embedding or vector backends.
func (r *Retriever) Retrieve(ctx context.Context, chatID, query string) ([]string, []domain.Source, error) {
	docIDs, err := r.chunks.ListIDsByChat(chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve chat documents: %w", err)
	}
	if len(docIDs) == 0 {
		return nil, nil, nil
	}

	vectors := r.embedder.Embed(ctx, []string{query})
	var hits []vectorstore.Match
	if len(vectors) == 1 {
		matches, err := r.store.Query(ctx, vectors[0], r.cfg.TopK, vectorstore.Filter{
			ChatID:      chatID,
			DocumentIDs: docIDs,
		})
		if err != nil {
			r.logger.Warn("vector query failed, falling back to chunk store",
				zap.String("chat_id", chatID), zap.Error(err))
		} else {
			hits = matches
		}
	}

	kept := thresholded(hits, r.cfg.ScoreThreshold)

	var snippets []string
	var sources []domain.Source
	for _, m := range kept {
		text := m.Metadata.Text
		if strings.TrimSpace(text) == "" {
			// Metadata carries only a truncated copy; recover the full
			// content from the durable store when it is missing.
			chunk, err := r.chunks.GetChunk(m.Metadata.DocumentID, m.Metadata.ChunkIndex)
			if err != nil || chunk == nil {
				continue
			}
			text = chunk.Content
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		snippets = append(snippets, fmt.Sprintf("[S%d] %s", len(snippets)+1, text))
		sources = append(sources, domain.Source{
			Page:       m.Metadata.Page,
			ChunkIndex: m.Metadata.ChunkIndex,
			Score:      m.Score,
		})
	}

	if len(snippets) > 0 {
		return snippets, sources, nil
	}

	return r.retrieveFromChunks(chatID, query)
}

// thresholded keeps matches at or above the score threshold; when none
// pass it keeps the top 3 raw matches instead, because uniformly low
// scores still rank the closest hits first.
func thresholded(matches []vectorstore.Match, threshold float64) []vectorstore.Match {
	var kept []vectorstore.Match
	for _, m := range matches {
		if m.Score >= threshold {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 && len(matches) > 0 {
		n := 3
		if n > len(matches) {
			n = len(matches)
		}
		kept = matches[:n]
	}
	return kept
}

// retrieveFromChunks is the degraded path taken when the vector index is
// unavailable or empty: case-insensitive keyword matching over durable
// chunks, then arbitrary chunks as a last resort.
func (r *Retriever) retrieveFromChunks(chatID, query string) ([]string, []domain.Source, error) {
	chunks, err := r.chunks.ChunksByChat(chatID)
	if err != nil {
		return nil, nil, fmt.Errorf("scan chat chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil, nil
	}

	words := strings.Fields(strings.ToLower(query))

	var snippets []string
	var sources []domain.Source
	add := func(chunk *domain.Chunk, score float64) {
		snippets = append(snippets, fmt.Sprintf("[S%d] %s", len(snippets)+1, chunk.Content))
		sources = append(sources, domain.Source{
			Page:       chunk.Page,
			ChunkIndex: chunk.Index,
			Score:      score,
		})
	}

	for _, chunk := range chunks {
		if len(snippets) >= r.cfg.TopK {
			break
		}
		content := strings.ToLower(chunk.Content)
		for _, w := range words {
			if strings.Contains(content, w) {
				add(chunk, keywordFallbackScore)
				break
			}
		}
	}

	if len(snippets) == 0 {
		// Nothing matched at all; arbitrary context beats none.
		for _, chunk := range chunks {
			if len(snippets) >= r.cfg.TopK {
				break
			}
			add(chunk, anyChunkFallbackScore)
		}
	}

	return snippets, sources, nil
}
