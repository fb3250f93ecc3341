package domain

import "time"

// Document represents an uploaded PDF belonging to a chat. Filenames are
// unique within a chat: re-uploading the same filename replaces the
// document instead of duplicating it.
type Document struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk is a bounded slice of a document's extracted text, the unit of
// embedding and retrieval. Index is zero-based and unique within the
// document. The embedding kept here is the durable copy; the vector
// index is a disposable projection of it.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Page       int       `json:"page"`
	Content    string    `json:"content"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// IngestResult is the verdict of one upload.
type IngestResult struct {
	Document   *Document `json:"document"`
	ChunkCount int       `json:"chunk_count"`
	Replaced   bool      `json:"replaced"`
}
