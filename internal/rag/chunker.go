package rag

import (
	"strings"

	"github.com/avolkov/ragchat/internal/domain"
	"github.com/avolkov/ragchat/internal/extract"
)

// Chunker splits extracted pages into overlapping character windows.
// Consecutive chunks share an overlap so context spanning a window
// boundary is not lost.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap,
// both in characters.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 || overlap >= size {
		overlap = 400
		if overlap >= size {
			overlap = size / 4
		}
	}
	return &Chunker{size: size, overlap: overlap}
}

// Chunk splits pages into ordered chunks. Chunk order follows page
// order; indices are zero-based and global across the document. Empty
// input yields no chunks.
func (c *Chunker) Chunk(pages []extract.Page) []domain.Chunk {
	var chunks []domain.Chunk
	step := c.size - c.overlap

	for _, page := range pages {
		text := []rune(strings.TrimSpace(page.Text))
		if len(text) == 0 {
			continue
		}
		for start := 0; ; start += step {
			end := start + c.size
			if end > len(text) {
				end = len(text)
			}
			chunks = append(chunks, domain.Chunk{
				Index:   len(chunks),
				Page:    page.Number,
				Content: string(text[start:end]),
			})
			if end == len(text) {
				break
			}
		}
	}

	return chunks
}
