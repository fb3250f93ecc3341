package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/google/uuid"
)

// ChatRepository handles chat and message persistence
type ChatRepository struct {
	db *DB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create creates a new chat
func (r *ChatRepository) Create(chat *domain.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}
	now := time.Now()
	chat.CreatedAt = now
	chat.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO chats (id, user_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, chat.ID, chat.UserID, chat.Title, chat.CreatedAt, chat.UpdatedAt)

	return err
}

// Get retrieves a chat by ID
func (r *ChatRepository) Get(id string) (*domain.Chat, error) {
	chat := &domain.Chat{}

	err := r.db.QueryRow(`
		SELECT id, user_id, title, created_at, updated_at
		FROM chats WHERE id = ?
	`, id).Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return chat, nil
}

// ListByUser retrieves all chats for a user, newest first
func (r *ChatRepository) ListByUser(userID string) ([]*domain.Chat, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, title, created_at, updated_at
		FROM chats WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*domain.Chat
	for rows.Next() {
		chat := &domain.Chat{}
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title,
			&chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}

	return chats, rows.Err()
}

// Rename updates a chat's title. Last writer wins.
func (r *ChatRepository) Rename(id, title string) error {
	_, err := r.db.Exec(`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now(), id)
	return err
}

// Touch updates a chat's updated_at timestamp
func (r *ChatRepository) Touch(id string) error {
	_, err := r.db.Exec(`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now(), id)
	return err
}

// Delete removes a chat. Messages, documents and chunks go with it via
// cascading foreign keys. Deleting a missing chat is a no-op.
func (r *ChatRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM chats WHERE id = ?`, id)
	return err
}

// CreateMessage appends a message to a chat transcript. The creation
// timestamp is assigned here, never taken from the caller, so concurrent
// writers interleave by insert order.
func (r *ChatRepository) CreateMessage(message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()

	sourcesJSON, _ := json.Marshal(message.Sources)

	_, err := r.db.Exec(`
		INSERT INTO messages (id, chat_id, role, content, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, message.ID, message.ChatID, message.Role, message.Content,
		string(sourcesJSON), message.CreatedAt)

	return err
}

// GetMessages retrieves all messages for a chat in chronological order
func (r *ChatRepository) GetMessages(chatID string) ([]*domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, chat_id, role, content, sources, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at ASC
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		var sourcesJSON sql.NullString

		if err := rows.Scan(&message.ID, &message.ChatID, &message.Role,
			&message.Content, &sourcesJSON, &message.CreatedAt); err != nil {
			return nil, err
		}

		if sourcesJSON.Valid && sourcesJSON.String != "" {
			json.Unmarshal([]byte(sourcesJSON.String), &message.Sources)
		}
		messages = append(messages, message)
	}

	return messages, rows.Err()
}

// RecentMessages retrieves the most recent limit messages for a chat in
// chronological order.
func (r *ChatRepository) RecentMessages(chatID string, limit int) ([]*domain.Message, error) {
	rows, err := r.db.Query(`
		SELECT id, chat_id, role, content, sources, created_at
		FROM messages WHERE chat_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*domain.Message
	for rows.Next() {
		message := &domain.Message{}
		var sourcesJSON sql.NullString

		if err := rows.Scan(&message.ID, &message.ChatID, &message.Role,
			&message.Content, &sourcesJSON, &message.CreatedAt); err != nil {
			return nil, err
		}

		if sourcesJSON.Valid && sourcesJSON.String != "" {
			json.Unmarshal([]byte(sourcesJSON.String), &message.Sources)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returned newest first; flip to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// CountMessages returns the number of messages in a chat
func (r *ChatRepository) CountMessages(chatID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&count)
	return count, err
}
