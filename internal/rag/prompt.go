package rag

import (
	"strings"

	"github.com/avolkov/ragchat/internal/domain"
)

const citeInstruction = "You are a helpful assistant. Use the provided document context as evidence. " +
	"Cite sources like [S1],[S2] if used. If unsure, say 'I don't know'."

// PromptBuilder assembles the generation prompt from recent conversation
// history, retrieved snippets and the current question. Building is a
// pure function of its inputs.
type PromptBuilder struct {
	historyLimit int
}

// NewPromptBuilder creates a prompt builder keeping at most historyLimit
// recent messages of context.
func NewPromptBuilder(historyLimit int) *PromptBuilder {
	if historyLimit <= 0 {
		historyLimit = 6
	}
	return &PromptBuilder{historyLimit: historyLimit}
}

// HistoryLimit reports how many recent messages feed the prompt.
func (b *PromptBuilder) HistoryLimit() int {
	return b.historyLimit
}

// Build renders the prompt. History is truncated to the most recent
// messages and rendered as Human/Assistant lines in chronological order;
// the context section appears only when snippets exist.
func (b *PromptBuilder) Build(history []*domain.Message, snippets []string, query string) string {
	var sb strings.Builder

	if len(history) > 0 {
		recent := history
		if len(recent) > b.historyLimit {
			recent = recent[len(recent)-b.historyLimit:]
		}
		sb.WriteString("You are a helpful AI assistant. Here's our conversation so far:\n\n")
		for _, msg := range recent {
			role := "Human"
			if msg.Role == "assistant" {
				role = "Assistant"
			}
			sb.WriteString(role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(snippets) > 0 {
		sb.WriteString(citeInstruction)
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(strings.Join(snippets, "\n\n"))
		sb.WriteString("\n\n")
	}

	sb.WriteString("Human: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAssistant:")

	return sb.String()
}
