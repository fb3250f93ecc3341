package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/google/uuid"
)

// DocumentRepository handles document and chunk persistence
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document
func (r *DocumentRepository) Create(doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.UploadedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO documents (id, chat_id, filename, uploaded_at)
		VALUES (?, ?, ?, ?)
	`, doc.ID, doc.ChatID, doc.Filename, doc.UploadedAt)

	return err
}

// Get retrieves a document by ID
func (r *DocumentRepository) Get(id string) (*domain.Document, error) {
	doc := &domain.Document{}

	err := r.db.QueryRow(`
		SELECT id, chat_id, filename, uploaded_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.ChatID, &doc.Filename, &doc.UploadedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// GetByFilename retrieves a document by its (chat, filename) identity
func (r *DocumentRepository) GetByFilename(chatID, filename string) (*domain.Document, error) {
	doc := &domain.Document{}

	err := r.db.QueryRow(`
		SELECT id, chat_id, filename, uploaded_at
		FROM documents WHERE chat_id = ? AND filename = ?
	`, chatID, filename).Scan(&doc.ID, &doc.ChatID, &doc.Filename, &doc.UploadedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return doc, nil
}

// ListByChat retrieves all documents belonging to a chat
func (r *DocumentRepository) ListByChat(chatID string) ([]*domain.Document, error) {
	rows, err := r.db.Query(`
		SELECT id, chat_id, filename, uploaded_at
		FROM documents WHERE chat_id = ?
		ORDER BY uploaded_at ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc := &domain.Document{}
		if err := rows.Scan(&doc.ID, &doc.ChatID, &doc.Filename, &doc.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// ListIDsByChat retrieves the ids of all documents belonging to a chat
func (r *DocumentRepository) ListIDsByChat(chatID string) ([]string, error) {
	rows, err := r.db.Query(`SELECT id FROM documents WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Delete removes a document and, via cascade, its chunks. Deleting a
// missing document is a no-op.
func (r *DocumentRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	return err
}

// CreateChunk stores a single durable chunk
func (r *DocumentRepository) CreateChunk(chunk *domain.Chunk) error {
	embeddingJSON, _ := json.Marshal(chunk.Embedding)

	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO chunks (document_id, chunk_index, page, content, embedding)
		VALUES (?, ?, ?, ?, ?)
	`, chunk.DocumentID, chunk.Index, chunk.Page, chunk.Content, string(embeddingJSON))

	return err
}

// ChunksByDocument retrieves a document's chunks ordered by page then index
func (r *DocumentRepository) ChunksByDocument(documentID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(`
		SELECT document_id, chunk_index, page, content, embedding
		FROM chunks WHERE document_id = ?
		ORDER BY page ASC, chunk_index ASC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// ChunksByChat retrieves all chunks belonging to a chat's documents in
// document upload order then chunk order. This is the durable fallback
// path when the vector index yields nothing.
func (r *DocumentRepository) ChunksByChat(chatID string) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(`
		SELECT c.document_id, c.chunk_index, c.page, c.content, c.embedding
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.chat_id = ?
		ORDER BY d.uploaded_at ASC, c.chunk_index ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// GetChunk retrieves one chunk by its (document, index) identity
func (r *DocumentRepository) GetChunk(documentID string, index int) (*domain.Chunk, error) {
	chunk := &domain.Chunk{}
	var embeddingJSON sql.NullString

	err := r.db.QueryRow(`
		SELECT document_id, chunk_index, page, content, embedding
		FROM chunks WHERE document_id = ? AND chunk_index = ?
	`, documentID, index).Scan(&chunk.DocumentID, &chunk.Index, &chunk.Page,
		&chunk.Content, &embeddingJSON)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if embeddingJSON.Valid && embeddingJSON.String != "" {
		json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding)
	}
	return chunk, nil
}

// CountChunks returns the number of chunks stored for a document
func (r *DocumentRepository) CountChunks(documentID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&count)
	return count, err
}

func scanChunks(rows *sql.Rows) ([]*domain.Chunk, error) {
	var chunks []*domain.Chunk
	for rows.Next() {
		chunk := &domain.Chunk{}
		var embeddingJSON sql.NullString

		if err := rows.Scan(&chunk.DocumentID, &chunk.Index, &chunk.Page,
			&chunk.Content, &embeddingJSON); err != nil {
			return nil, err
		}

		if embeddingJSON.Valid && embeddingJSON.String != "" {
			json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding)
		}
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}
