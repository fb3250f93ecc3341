package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/rag"
	"github.com/avolkov/ragchat/internal/repository"
)

const defaultChatTitle = "New Chat"

// ChatService handles conversation turns: retrieval, prompt assembly,
// generation and transcript persistence.
type ChatService struct {
	chatRepo  *repository.ChatRepository
	retriever *rag.Retriever
	prompts   *rag.PromptBuilder
	generator *rag.Generator
	ingest    *IngestService
	logger    *zap.Logger
}

// NewChatService creates a new chat service
func NewChatService(
	chatRepo *repository.ChatRepository,
	retriever *rag.Retriever,
	prompts *rag.PromptBuilder,
	generator *rag.Generator,
	ingest *IngestService,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		chatRepo:  chatRepo,
		retriever: retriever,
		prompts:   prompts,
		generator: generator,
		ingest:    ingest,
		logger:    logger,
	}
}

// CreateChat creates a new chat for a user
func (s *ChatService) CreateChat(ctx context.Context, req *domain.CreateChatRequest) (*domain.Chat, error) {
	if req.UserID == "" {
		return nil, domain.ErrInvalidRequest
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultChatTitle
	}
	chat := &domain.Chat{UserID: req.UserID, Title: title}
	if err := s.chatRepo.Create(chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// GetChat retrieves a chat by ID
func (s *ChatService) GetChat(ctx context.Context, id string) (*domain.Chat, error) {
	chat, err := s.chatRepo.Get(id)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}
	return chat, nil
}

// ListChats lists a user's chats, newest first
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*domain.Chat, error) {
	if userID == "" {
		return nil, domain.ErrInvalidRequest
	}
	return s.chatRepo.ListByUser(userID)
}

// RenameChat updates a chat title. Last writer wins.
func (s *ChatService) RenameChat(ctx context.Context, id, title string) (*domain.Chat, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domain.ErrInvalidRequest
	}
	chat, err := s.chatRepo.Get(id)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}
	if err := s.chatRepo.Rename(id, title); err != nil {
		return nil, err
	}
	chat.Title = title
	return chat, nil
}

// DeleteChat removes a chat and everything it owns: messages, documents
// and chunks by cascade, vectors by chat filter, stored files from disk.
// Deleting an already-deleted chat is a no-op.
func (s *ChatService) DeleteChat(ctx context.Context, id string) error {
	chat, err := s.chatRepo.Get(id)
	if err != nil {
		return err
	}
	if chat == nil {
		return nil
	}
	s.ingest.PurgeChat(ctx, id)
	return s.chatRepo.Delete(id)
}

// GetMessages retrieves a chat's full transcript
func (s *ChatService) GetMessages(ctx context.Context, chatID string) ([]*domain.Message, error) {
	chat, err := s.chatRepo.Get(chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, domain.ErrNotFound
	}
	return s.chatRepo.GetMessages(chatID)
}

// SendMessage runs one conversation turn: persist the user message,
// retrieve chat-scoped context, generate an answer and persist it with
// its source references. The answer is always text; generation failures
// degrade inside the generator rather than surfacing here.
func (s *ChatService) SendMessage(ctx context.Context, chatID string, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	chat, history, err := s.beginTurn(ctx, chatID, req)
	if err != nil {
		return nil, err
	}

	snippets, sources := s.retrieveContext(ctx, chat.ID, req)
	prompt := s.prompts.Build(history, snippets, req.Message)
	answer := s.generator.Generate(ctx, prompt, req.Message, nil)

	if err := s.finishTurn(chat.ID, answer, sources); err != nil {
		return nil, err
	}

	return &domain.ChatResponse{ChatID: chat.ID, Answer: answer, Sources: sources}, nil
}

// SendMessageStream runs one conversation turn, emitting partial output
// as it is generated. The assistant message is persisted only after the
// stream completes; a canceled consumer stops delivery without writing a
// truncated transcript entry.
func (s *ChatService) SendMessageStream(ctx context.Context, chatID string, req *domain.ChatRequest) (<-chan domain.StreamChunk, error) {
	chat, history, err := s.beginTurn(ctx, chatID, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.StreamChunk, 100)
	go func() {
		defer close(ch)

		send := func(chunk domain.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(domain.StreamChunk{Type: "thinking", Content: "Searching your documents..."}) {
			return
		}

		snippets, sources := s.retrieveContext(ctx, chat.ID, req)
		prompt := s.prompts.Build(history, snippets, req.Message)

		answer := s.generator.Generate(ctx, prompt, req.Message, func(token string) {
			send(domain.StreamChunk{Type: "content", Content: token})
		})

		if ctx.Err() != nil {
			// Consumer went away mid-stream; do not persist a partial
			// or fabricated answer.
			return
		}

		if err := s.finishTurn(chat.ID, answer, sources); err != nil {
			s.logger.Error("failed to persist assistant message",
				zap.String("chat_id", chat.ID), zap.Error(err))
			send(domain.StreamChunk{Type: "error", Content: "failed to save answer"})
			return
		}

		if len(sources) > 0 {
			if !send(domain.StreamChunk{Type: "sources", Sources: sources}) {
				return
			}
		}
		send(domain.StreamChunk{Type: "done"})
	}()

	return ch, nil
}

// beginTurn validates the request, snapshots recent history and appends
// the user message to the transcript.
func (s *ChatService) beginTurn(ctx context.Context, chatID string, req *domain.ChatRequest) (*domain.Chat, []*domain.Message, error) {
	if chatID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, nil, domain.ErrInvalidRequest
	}
	chat, err := s.chatRepo.Get(chatID)
	if err != nil {
		return nil, nil, err
	}
	if chat == nil {
		return nil, nil, domain.ErrNotFound
	}

	history, err := s.chatRepo.RecentMessages(chatID, s.prompts.HistoryLimit())
	if err != nil {
		return nil, nil, err
	}

	userMsg := &domain.Message{ChatID: chatID, Role: "user", Content: req.Message}
	if err := s.chatRepo.CreateMessage(userMsg); err != nil {
		return nil, nil, err
	}

	return chat, history, nil
}

// retrieveContext runs retrieval for the turn. Retrieval failures are
// absorbed: a turn without context still gets an answer.
func (s *ChatService) retrieveContext(ctx context.Context, chatID string, req *domain.ChatRequest) ([]string, []domain.Source) {
	if !req.RAGEnabled() {
		return nil, nil
	}
	snippets, sources, err := s.retriever.Retrieve(ctx, chatID, req.Message)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context",
			zap.String("chat_id", chatID), zap.Error(err))
		return nil, nil
	}
	return snippets, sources
}

// finishTurn persists the assistant message and bumps the chat.
func (s *ChatService) finishTurn(chatID, answer string, sources []domain.Source) error {
	assistantMsg := &domain.Message{
		ChatID:  chatID,
		Role:    "assistant",
		Content: answer,
		Sources: sources,
	}
	if err := s.chatRepo.CreateMessage(assistantMsg); err != nil {
		return err
	}
	return s.chatRepo.Touch(chatID)
}
