package domain

import "time"

// Chat represents a conversation owning its documents and messages.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message represents a single turn in a chat transcript. Messages are
// append-only; order is defined by CreatedAt, assigned at insert time.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Source is a citation pointer attached to an assistant message. It
// corresponds positionally to the [S1]..[Sk] tags in the context the
// answer was generated from.
type Source struct {
	Page       int     `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score,omitempty"`
}

// ChatRequest is the request to send a chat message.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
	UseRAG  *bool  `json:"use_rag,omitempty"`
}

// RAGEnabled reports whether retrieval should run for this request.
// Retrieval is on unless explicitly disabled.
func (r *ChatRequest) RAGEnabled() bool {
	return r.UseRAG == nil || *r.UseRAG
}

// ChatResponse is the response from a chat message.
type ChatResponse struct {
	ChatID  string   `json:"chat_id"`
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources,omitempty"`
}

// CreateChatRequest is the request to create a new chat.
type CreateChatRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Title  string `json:"title"`
}

// RenameChatRequest is the request to rename a chat.
type RenameChatRequest struct {
	Title string `json:"title" binding:"required"`
}

// StreamChunk represents a chunk in an SSE stream.
type StreamChunk struct {
	Type    string   `json:"type"` // thinking, content, sources, done, error
	Content string   `json:"content,omitempty"`
	Sources []Source `json:"sources,omitempty"`
}
