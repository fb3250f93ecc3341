package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/rag/vectorstore"
	"github.com/avolkov/ragchat/internal/rag/vectorstore/memory"
)

// fakeChunks is an in-memory ChunkSource.
type fakeChunks struct {
	docIDs map[string][]string         // chat id -> document ids
	chunks map[string][]*domain.Chunk  // chat id -> chunks
}

func (f *fakeChunks) ListIDsByChat(chatID string) ([]string, error) {
	return f.docIDs[chatID], nil
}

func (f *fakeChunks) ChunksByChat(chatID string) ([]*domain.Chunk, error) {
	return f.chunks[chatID], nil
}

func (f *fakeChunks) GetChunk(documentID string, index int) (*domain.Chunk, error) {
	for _, chunks := range f.chunks {
		for _, c := range chunks {
			if c.DocumentID == documentID && c.Index == index {
				return c, nil
			}
		}
	}
	return nil, nil
}

// stubEmbedder returns a fixed vector and counts invocations.
type stubEmbedder struct {
	vector []float64
	calls  int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) [][]float64 {
	s.calls++
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = s.vector
	}
	return out
}

func (s *stubEmbedder) Dimension() int { return len(s.vector) }

func seedStore(t *testing.T, store *memory.Store, chatID, docID string, vectors [][]float64) {
	t.Helper()
	var records []vectorstore.Record
	for i, v := range vectors {
		records = append(records, vectorstore.Record{
			ID:     vectorstore.RecordID(docID, i),
			Vector: v,
			Metadata: vectorstore.Metadata{
				DocumentID: docID,
				ChunkIndex: i,
				Page:       1,
				Text:       fmt.Sprintf("%s chunk %d", chatID, i),
				ChatID:     chatID,
			},
		})
	}
	if err := store.Upsert(context.Background(), records); err != nil {
		t.Fatal(err)
	}
}

func TestRetriever_NoDocumentsShortCircuits(t *testing.T) {
	embedder := &stubEmbedder{vector: []float64{1, 0, 0, 0}}
	r := NewRetriever(&fakeChunks{}, embedder, memory.NewStore(), RetrieverConfig{}, zap.NewNop())

	snippets, sources, err := r.Retrieve(context.Background(), "empty-chat", "anything")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 0 || len(sources) != 0 {
		t.Errorf("expected empty results, got %d snippets, %d sources", len(snippets), len(sources))
	}
	if embedder.calls != 0 {
		t.Error("embedder was invoked for a chat without documents")
	}
}

func TestRetriever_ChatScoping(t *testing.T) {
	store := memory.NewStore()
	seedStore(t, store, "chat-a", "doc-a", [][]float64{{1, 0, 0, 0}, {0.9, 0.1, 0, 0}})
	seedStore(t, store, "chat-b", "doc-b", [][]float64{{0, 1, 0, 0}, {0.1, 0.9, 0, 0}})

	source := &fakeChunks{docIDs: map[string][]string{
		"chat-a": {"doc-a"},
		"chat-b": {"doc-b"},
	}}

	// The query vector is maximally similar to chat B's vectors; the
	// scope filter must still confine results to chat A.
	embedder := &stubEmbedder{vector: []float64{0, 1, 0, 0}}
	r := NewRetriever(source, embedder, store, RetrieverConfig{}, zap.NewNop())

	snippets, sources, err := r.Retrieve(context.Background(), "chat-a", "query")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) == 0 {
		t.Fatal("expected snippets from chat A")
	}
	for i, s := range snippets {
		if !strings.Contains(s, "chat-a") {
			t.Errorf("snippet %d leaked from another chat: %q", i, s)
		}
	}
	if len(sources) != len(snippets) {
		t.Errorf("sources misaligned: %d vs %d snippets", len(sources), len(snippets))
	}
}

func TestRetriever_ThresholdFallbackTop3(t *testing.T) {
	store := memory.NewStore()
	// Five stored vectors all orthogonal to the query: every score is
	// below the threshold, so the top 3 raw matches are kept.
	seedStore(t, store, "chat-a", "doc-a", [][]float64{
		{0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}, {0, 1, 1, 0}, {0, 0, 1, 1},
	})
	source := &fakeChunks{docIDs: map[string][]string{"chat-a": {"doc-a"}}}
	embedder := &stubEmbedder{vector: []float64{1, 0, 0, 0}}
	r := NewRetriever(source, embedder, store, RetrieverConfig{TopK: 10, ScoreThreshold: 0.01}, zap.NewNop())

	snippets, sources, err := r.Retrieve(context.Background(), "chat-a", "query")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 3 {
		t.Fatalf("got %d snippets, want 3 raw fallback matches", len(snippets))
	}
	if len(sources) != 3 {
		t.Fatalf("got %d sources, want 3", len(sources))
	}
}

func TestRetriever_KeywordFallback(t *testing.T) {
	source := &fakeChunks{
		docIDs: map[string][]string{"chat-a": {"doc-a"}},
		chunks: map[string][]*domain.Chunk{"chat-a": {
			{DocumentID: "doc-a", Index: 0, Page: 1, Content: "the quarterly budget grew"},
			{DocumentID: "doc-a", Index: 1, Page: 2, Content: "unrelated appendix material"},
		}},
	}
	embedder := &stubEmbedder{vector: []float64{1, 0, 0, 0}}
	// Empty vector store: retrieval must fall back to durable chunks.
	r := NewRetriever(source, embedder, memory.NewStore(), RetrieverConfig{}, zap.NewNop())

	snippets, sources, err := r.Retrieve(context.Background(), "chat-a", "what is the Budget")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 {
		t.Fatalf("got %d snippets, want 1 keyword match", len(snippets))
	}
	if !strings.Contains(snippets[0], "quarterly budget") {
		t.Errorf("wrong chunk matched: %q", snippets[0])
	}
	if sources[0].Score != keywordFallbackScore {
		t.Errorf("keyword fallback score = %v", sources[0].Score)
	}
}

func TestRetriever_LastResortChunks(t *testing.T) {
	source := &fakeChunks{
		docIDs: map[string][]string{"chat-a": {"doc-a"}},
		chunks: map[string][]*domain.Chunk{"chat-a": {
			{DocumentID: "doc-a", Index: 0, Page: 1, Content: "alpha"},
			{DocumentID: "doc-a", Index: 1, Page: 1, Content: "beta"},
		}},
	}
	embedder := &stubEmbedder{vector: []float64{1, 0, 0, 0}}
	r := NewRetriever(source, embedder, memory.NewStore(), RetrieverConfig{}, zap.NewNop())

	snippets, sources, err := r.Retrieve(context.Background(), "chat-a", "zzz qqq")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 2 {
		t.Fatalf("got %d snippets, want all chunks as last resort", len(snippets))
	}
	for _, src := range sources {
		if src.Score != anyChunkFallbackScore {
			t.Errorf("last-resort score = %v", src.Score)
		}
	}
}

func TestRetriever_CitationAlignment(t *testing.T) {
	store := memory.NewStore()
	seedStore(t, store, "chat-a", "doc-a", [][]float64{
		{1, 0, 0, 0}, {0.9, 0.1, 0, 0}, {0.8, 0.2, 0, 0},
	})
	source := &fakeChunks{docIDs: map[string][]string{"chat-a": {"doc-a"}}}
	embedder := &stubEmbedder{vector: []float64{1, 0, 0, 0}}
	r := NewRetriever(source, embedder, store, RetrieverConfig{}, zap.NewNop())

	snippets, sources, err := r.Retrieve(context.Background(), "chat-a", "query")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != len(sources) {
		t.Fatalf("%d snippets but %d sources", len(snippets), len(sources))
	}
	for i, s := range snippets {
		tag := fmt.Sprintf("[S%d] ", i+1)
		if !strings.HasPrefix(s, tag) {
			t.Errorf("snippet %d does not carry tag %s: %q", i, tag, s)
		}
	}
}

func TestRetriever_RecoversTextFromChunkStore(t *testing.T) {
	store := memory.NewStore()
	err := store.Upsert(context.Background(), []vectorstore.Record{{
		ID:     vectorstore.RecordID("doc-a", 0),
		Vector: []float64{1, 0, 0, 0},
		Metadata: vectorstore.Metadata{
			DocumentID: "doc-a",
			ChunkIndex: 0,
			Page:       3,
			Text:       "", // metadata copy missing
			ChatID:     "chat-a",
		},
	}})
	if err != nil {
		t.Fatal(err)
	}

	source := &fakeChunks{
		docIDs: map[string][]string{"chat-a": {"doc-a"}},
		chunks: map[string][]*domain.Chunk{"chat-a": {
			{DocumentID: "doc-a", Index: 0, Page: 3, Content: "full durable content"},
		}},
	}
	embedder := &stubEmbedder{vector: []float64{1, 0, 0, 0}}
	r := NewRetriever(source, embedder, store, RetrieverConfig{}, zap.NewNop())

	snippets, _, err := r.Retrieve(context.Background(), "chat-a", "query")
	if err != nil {
		t.Fatal(err)
	}
	if len(snippets) != 1 || !strings.Contains(snippets[0], "full durable content") {
		t.Errorf("durable content not recovered: %v", snippets)
	}
}
