package rag

import (
	"strings"
	"testing"

	"github.com/avolkov/ragchat/internal/extract"
)

func TestChunker_Chunk(t *testing.T) {
	tests := []struct {
		name       string
		size       int
		overlap    int
		pages      []extract.Page
		wantChunks int
	}{
		{
			name:       "empty input yields no chunks",
			size:       1500,
			overlap:    400,
			pages:      nil,
			wantChunks: 0,
		},
		{
			name:       "blank page yields no chunks",
			size:       1500,
			overlap:    400,
			pages:      []extract.Page{{Number: 1, Text: "   \n  "}},
			wantChunks: 0,
		},
		{
			name:       "page shorter than budget yields one chunk",
			size:       1500,
			overlap:    400,
			pages:      []extract.Page{{Number: 1, Text: "short page"}},
			wantChunks: 1,
		},
		{
			name:    "long page splits with overlap",
			size:    100,
			overlap: 20,
			pages:   []extract.Page{{Number: 1, Text: strings.Repeat("a", 250)}},
			// windows: [0,100) [80,180) [160,250)
			wantChunks: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChunker(tt.size, tt.overlap)
			chunks := c.Chunk(tt.pages)
			if len(chunks) != tt.wantChunks {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.wantChunks)
			}
			for i, chunk := range chunks {
				if chunk.Index != i {
					t.Errorf("chunk %d has index %d", i, chunk.Index)
				}
				if len([]rune(chunk.Content)) > tt.size {
					t.Errorf("chunk %d exceeds size budget: %d > %d",
						i, len([]rune(chunk.Content)), tt.size)
				}
			}
		})
	}
}

func TestChunker_CoverageAndOverlap(t *testing.T) {
	const size, overlap = 100, 20
	text := strings.Repeat("abcdefghij", 35) // 350 chars

	c := NewChunker(size, overlap)
	chunks := c.Chunk([]extract.Page{{Number: 1, Text: text}})

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Reassembling chunks minus their declared overlap must reproduce
	// the original text exactly: full coverage, overlap only at the
	// declared boundaries.
	var rebuilt strings.Builder
	for i, chunk := range chunks {
		content := []rune(chunk.Content)
		if i == 0 {
			rebuilt.WriteString(string(content))
			continue
		}
		if len(content) < overlap {
			rebuilt.WriteString(string(content))
			continue
		}
		prev := []rune(chunks[i-1].Content)
		if string(prev[len(prev)-overlap:]) != string(content[:overlap]) {
			t.Errorf("chunk %d does not overlap its predecessor by %d chars", i, overlap)
		}
		rebuilt.WriteString(string(content[overlap:]))
	}
	if rebuilt.String() != text {
		t.Error("chunks do not cover the original text")
	}
}

func TestChunker_PageOrderStable(t *testing.T) {
	c := NewChunker(1500, 400)
	chunks := c.Chunk([]extract.Page{
		{Number: 1, Text: "first page"},
		{Number: 2, Text: "second page"},
		{Number: 3, Text: "third page"},
	})

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.Page != i+1 {
			t.Errorf("chunk %d has page %d, want %d", i, chunk.Page, i+1)
		}
	}
}
