package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/extract"
	"github.com/avolkov/ragchat/internal/rag"
	"github.com/avolkov/ragchat/internal/rag/vectorstore/memory"
	"github.com/avolkov/ragchat/internal/repository"
)

// textExtractor treats the payload as plain text, one page per form
// feed, so tests do not need real PDF fixtures.
type textExtractor struct {
	err error
}

func (e textExtractor) Pages(data []byte) ([]extract.Page, error) {
	if e.err != nil {
		return nil, e.err
	}
	var pages []extract.Page
	for i, text := range strings.Split(string(data), "\f") {
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, extract.Page{Number: i + 1, Text: text})
	}
	if len(pages) == 0 {
		return nil, domain.ErrNoPages
	}
	return pages, nil
}

// failingEmbedder simulates a permanently degraded embedding backend:
// it emits zero vectors for everything.
type failingEmbedder struct{ dim int }

func (e failingEmbedder) Embed(_ context.Context, texts []string) [][]float64 {
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = make([]float64, e.dim)
	}
	return out
}

func (e failingEmbedder) Dimension() int { return e.dim }

type testEnv struct {
	chatRepo *repository.ChatRepository
	docRepo  *repository.DocumentRepository
	store    *memory.Store
	ingest   *IngestService
	chats    *ChatService
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	db, err := repository.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	chatRepo := repository.NewChatRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	store := memory.NewStore()
	embedder := failingEmbedder{dim: 4}

	ingest := NewIngestService(
		chatRepo,
		docRepo,
		textExtractor{},
		rag.NewChunker(1500, 400),
		embedder,
		store,
		filepath.Join(dir, "documents"),
		logger,
	)

	retriever := rag.NewRetriever(docRepo, embedder, store, rag.RetrieverConfig{}, logger)
	chats := NewChatService(
		chatRepo,
		retriever,
		rag.NewPromptBuilder(6),
		rag.NewGenerator(rag.GeneratorConfig{}, logger),
		ingest,
		logger,
	)

	return &testEnv{
		chatRepo: chatRepo,
		docRepo:  docRepo,
		store:    store,
		ingest:   ingest,
		chats:    chats,
		dir:      dir,
	}
}

func (env *testEnv) createChat(t *testing.T) *domain.Chat {
	t.Helper()
	chat := &domain.Chat{UserID: "user-1", Title: "test chat"}
	if err := env.chatRepo.Create(chat); err != nil {
		t.Fatal(err)
	}
	return chat
}

func TestUpload_Validation(t *testing.T) {
	env := newTestEnv(t)
	chat := env.createChat(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		chatID   string
		filename string
		data     []byte
		wantErr  error
	}{
		{"non-pdf extension", chat.ID, "notes.txt", []byte("text"), domain.ErrInvalidRequest},
		{"empty payload", chat.ID, "empty.pdf", nil, domain.ErrInvalidRequest},
		{"empty chat id", "", "doc.pdf", []byte("text"), domain.ErrInvalidRequest},
		{"unknown chat", "missing", "doc.pdf", []byte("text"), domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ingest.Upload(ctx, tt.chatID, tt.filename, tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestUpload_DegradedEmbedderStillSucceeds(t *testing.T) {
	env := newTestEnv(t)
	chat := env.createChat(t)
	ctx := context.Background()

	result, err := env.ingest.Upload(ctx, chat.ID, "report.pdf", []byte("page one text\fpage two text"))
	if err != nil {
		t.Fatalf("ingestion failed despite degraded embedder: %v", err)
	}
	if result.ChunkCount != 2 {
		t.Errorf("got %d chunks, want 2", result.ChunkCount)
	}

	chunks, err := env.docRepo.ChunksByDocument(result.Document.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d stored chunks, want 2", len(chunks))
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) != 4 {
			t.Errorf("chunk %d embedding has dimension %d, want 4", chunk.Index, len(chunk.Embedding))
		}
		for _, x := range chunk.Embedding {
			if x != 0 {
				t.Errorf("chunk %d should carry a zero vector", chunk.Index)
			}
		}
	}
}

func TestUpload_ReUploadReplaces(t *testing.T) {
	env := newTestEnv(t)
	chat := env.createChat(t)
	ctx := context.Background()

	first, err := env.ingest.Upload(ctx, chat.ID, "notes.pdf", []byte("original content"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.ingest.Upload(ctx, chat.ID, "notes.pdf", []byte("replacement content"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Replaced {
		t.Error("second upload not reported as a replacement")
	}

	docs, err := env.docRepo.ListByChat(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d live documents, want exactly 1", len(docs))
	}
	if docs[0].ID != second.Document.ID {
		t.Error("surviving document is not the second upload")
	}

	if old, _ := env.docRepo.Get(first.Document.ID); old != nil {
		t.Error("first document record still present")
	}

	chunks, err := env.docRepo.ChunksByChat(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, chunk := range chunks {
		if !strings.Contains(chunk.Content, "replacement") {
			t.Errorf("stale chunk content survived: %q", chunk.Content)
		}
	}

	// Vector index holds only the second upload's records.
	if env.store.Len() != second.ChunkCount {
		t.Errorf("vector store has %d records, want %d", env.store.Len(), second.ChunkCount)
	}
}

func TestUpload_ExtractionFailure(t *testing.T) {
	env := newTestEnv(t)
	chat := env.createChat(t)
	ctx := context.Background()

	broken := NewIngestService(
		env.chatRepo,
		env.docRepo,
		textExtractor{err: errors.New("corrupt file")},
		rag.NewChunker(1500, 400),
		failingEmbedder{dim: 4},
		env.store,
		filepath.Join(env.dir, "documents"),
		zap.NewNop(),
	)

	if _, err := broken.Upload(ctx, chat.ID, "broken.pdf", []byte("junk")); err == nil {
		t.Fatal("expected a definitive failure verdict")
	}

	// A document record may remain, but it carries zero chunks and
	// retrieval treats it as no content.
	chunks, err := env.docRepo.ChunksByChat(chat.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("failed ingestion left %d chunks", len(chunks))
	}
}

func TestDeleteDocument_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	chat := env.createChat(t)
	ctx := context.Background()

	result, err := env.ingest.Upload(ctx, chat.ID, "doc.pdf", []byte("some content"))
	if err != nil {
		t.Fatal(err)
	}

	if err := env.ingest.DeleteDocument(ctx, result.Document.ID); err != nil {
		t.Fatal(err)
	}
	if env.store.Len() != 0 {
		t.Errorf("vectors not removed: %d left", env.store.Len())
	}
	if chunks, _ := env.docRepo.ChunksByDocument(result.Document.ID); len(chunks) != 0 {
		t.Errorf("chunks not removed: %d left", len(chunks))
	}

	// Deleting again is a no-op, not an error.
	if err := env.ingest.DeleteDocument(ctx, result.Document.ID); err != nil {
		t.Errorf("repeated delete errored: %v", err)
	}
}
