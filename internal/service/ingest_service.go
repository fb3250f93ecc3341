package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/extract"
	"github.com/avolkov/ragchat/internal/rag"
	"github.com/avolkov/ragchat/internal/rag/vectorstore"
	"github.com/avolkov/ragchat/internal/repository"
)

const (
	// metadataTextLimit bounds the text copy stored in vector payloads.
	metadataTextLimit = 1000
	// embedBatchSize is how many chunks go into one embedding call.
	embedBatchSize = 16
	// embedConcurrency bounds parallel embedding calls per ingestion.
	embedConcurrency = 4
)

// IngestService runs the document ingestion pipeline: extract pages,
// chunk, embed, index vectors and durably store chunks. The durable
// chunk store is the source of truth; vector indexing is best effort.
type IngestService struct {
	chatRepo   *repository.ChatRepository
	docRepo    *repository.DocumentRepository
	extractor  extract.Extractor
	chunker    *rag.Chunker
	embedder   rag.Embedder
	store      vectorstore.Store
	storageDir string
	logger     *zap.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	chatRepo *repository.ChatRepository,
	docRepo *repository.DocumentRepository,
	extractor extract.Extractor,
	chunker *rag.Chunker,
	embedder rag.Embedder,
	store vectorstore.Store,
	storageDir string,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		chatRepo:   chatRepo,
		docRepo:    docRepo,
		extractor:  extractor,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		storageDir: storageDir,
		logger:     logger,
	}
}

// Upload ingests one uploaded PDF into a chat. Re-uploading a filename
// already present in the chat replaces the old document: its vectors are
// invalidated before any new ones are written, so retrieval never mixes
// stale and fresh content. Success requires at least one durably stored
// chunk.
func (s *IngestService) Upload(ctx context.Context, chatID, filename string, data []byte) (*domain.IngestResult, error) {
	if chatID == "" || strings.TrimSpace(filename) == "" {
		return nil, domain.ErrInvalidRequest
	}
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, fmt.Errorf("%w: only PDF files are supported", domain.ErrInvalidRequest)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidRequest)
	}

	chat, err := s.chatRepo.Get(chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat: %w", err)
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}

	replaced, err := s.replaceExisting(ctx, chatID, filename)
	if err != nil {
		return nil, err
	}

	doc := &domain.Document{ChatID: chatID, Filename: filename}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.saveFile(doc, data); err != nil {
		return nil, err
	}

	pages, err := s.extractor.Pages(data)
	if err != nil {
		// The document record stays; zero chunks reads as "no content"
		// downstream.
		return nil, fmt.Errorf("extract pages: %w", err)
	}

	chunks := s.chunker.Chunk(pages)
	if len(chunks) == 0 {
		return nil, domain.ErrNoPages
	}
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
	}

	embeddings := s.embedChunks(ctx, chunks)

	s.indexVectors(ctx, chatID, doc.ID, chunks, embeddings)

	stored := 0
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
		if err := s.docRepo.CreateChunk(&chunks[i]); err != nil {
			s.logger.Warn("failed to store chunk",
				zap.String("document_id", doc.ID),
				zap.Int("chunk_index", chunks[i].Index),
				zap.Error(err))
			continue
		}
		stored++
	}
	if stored == 0 {
		return nil, errors.New("no chunks could be stored")
	}

	s.logger.Info("document ingested",
		zap.String("chat_id", chatID),
		zap.String("document_id", doc.ID),
		zap.String("filename", filename),
		zap.Int("chunks", stored),
		zap.Bool("replaced", replaced))

	return &domain.IngestResult{Document: doc, ChunkCount: stored, Replaced: replaced}, nil
}

// replaceExisting removes a previous document with the same filename.
// The vector delete is issued before any new vectors are upserted; a
// failing delete is logged, never dropped silently.
func (s *IngestService) replaceExisting(ctx context.Context, chatID, filename string) (bool, error) {
	existing, err := s.docRepo.GetByFilename(chatID, filename)
	if err != nil {
		return false, fmt.Errorf("look up document: %w", err)
	}
	if existing == nil {
		return false, nil
	}

	if err := s.store.Delete(ctx, vectorstore.Filter{DocumentIDs: []string{existing.ID}}); err != nil {
		s.logger.Warn("failed to delete stale vectors for re-uploaded document",
			zap.String("document_id", existing.ID), zap.Error(err))
	}
	if err := s.docRepo.Delete(existing.ID); err != nil {
		return false, fmt.Errorf("delete replaced document: %w", err)
	}
	s.removeFile(existing)
	return true, nil
}

// embedChunks embeds all chunk texts with bounded parallelism. Each
// batch that fails outright falls back to zero vectors inside the
// embedder, so the result always has one vector per chunk.
func (s *IngestService) embedChunks(ctx context.Context, chunks []domain.Chunk) [][]float64 {
	embeddings := make([][]float64, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(chunks); start += embedBatchSize {
		start := start
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Content
			}
			vectors := s.embedder.Embed(gctx, texts)
			copy(embeddings[start:end], vectors)
			return nil
		})
	}
	g.Wait()

	// Embedders never abort a batch, but guard against short results.
	for i := range embeddings {
		if embeddings[i] == nil {
			embeddings[i] = make([]float64, s.embedder.Dimension())
		}
	}
	return embeddings
}

// indexVectors writes the chunk vectors to the vector index. Failures
// are logged and swallowed: the durable chunk store remains the source
// of truth and retrieval degrades to it.
func (s *IngestService) indexVectors(ctx context.Context, chatID, documentID string, chunks []domain.Chunk, embeddings [][]float64) {
	records := make([]vectorstore.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorstore.Record{
			ID:     vectorstore.RecordID(documentID, chunk.Index),
			Vector: embeddings[i],
			Metadata: vectorstore.Metadata{
				DocumentID: documentID,
				ChunkIndex: chunk.Index,
				Page:       chunk.Page,
				Text:       vectorstore.TruncateText(chunk.Content, metadataTextLimit),
				ChatID:     chatID,
			},
		}
	}
	if err := s.store.Upsert(ctx, records); err != nil {
		s.logger.Warn("vector indexing failed, retrieval will use chunk store",
			zap.String("document_id", documentID), zap.Error(err))
	}
}

// ListDocuments lists a chat's documents
func (s *IngestService) ListDocuments(ctx context.Context, chatID string) ([]*domain.Document, error) {
	chat, err := s.chatRepo.Get(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}
	return s.docRepo.ListByChat(chatID)
}

// ViewDocument returns a document together with its chunks ordered by
// page then chunk index.
func (s *IngestService) ViewDocument(ctx context.Context, documentID string) (*domain.Document, []*domain.Chunk, error) {
	doc, err := s.docRepo.Get(documentID)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, domain.ErrNotFound
	}
	chunks, err := s.docRepo.ChunksByDocument(documentID)
	if err != nil {
		return nil, nil, err
	}
	return doc, chunks, nil
}

// DeleteDocument removes a document, its chunks, its vectors and its
// stored file. Deleting an already-deleted document is a no-op.
func (s *IngestService) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.docRepo.Get(documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	if err := s.store.Delete(ctx, vectorstore.Filter{DocumentIDs: []string{documentID}}); err != nil {
		s.logger.Warn("failed to delete document vectors",
			zap.String("document_id", documentID), zap.Error(err))
	}
	if err := s.docRepo.Delete(documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	s.removeFile(doc)
	return nil
}

// PurgeChat removes all vectors and stored files belonging to a chat.
// The relational rows cascade when the chat row itself is deleted.
func (s *IngestService) PurgeChat(ctx context.Context, chatID string) {
	if err := s.store.Delete(ctx, vectorstore.Filter{ChatID: chatID}); err != nil {
		s.logger.Warn("failed to delete chat vectors",
			zap.String("chat_id", chatID), zap.Error(err))
	}
	dir := filepath.Join(s.storageDir, chatID)
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("failed to remove chat storage",
			zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (s *IngestService) saveFile(doc *domain.Document, data []byte) error {
	dir := filepath.Join(s.storageDir, doc.ChatID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	if err := os.WriteFile(s.storagePath(doc), data, 0644); err != nil {
		return fmt.Errorf("save file: %w", err)
	}
	return nil
}

func (s *IngestService) removeFile(doc *domain.Document) {
	if err := os.Remove(s.storagePath(doc)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove stored file",
			zap.String("document_id", doc.ID), zap.Error(err))
	}
}

func (s *IngestService) storagePath(doc *domain.Document) string {
	return filepath.Join(s.storageDir, doc.ChatID, doc.ID+".pdf")
}
