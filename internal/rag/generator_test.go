package rag

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestFallbackAnswer_Deterministic(t *testing.T) {
	first := FallbackAnswer("hello")
	second := FallbackAnswer("hello")
	if first != second {
		t.Error("fallback answer is not deterministic")
	}
	if !strings.Contains(first, "Hello!") {
		t.Errorf("greeting fallback not returned for 'hello': %q", first)
	}
}

func TestFallbackAnswer_Tiers(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"document keywords", "what does the pdf say", "uploaded documents"},
		{"greeting", "hey there", "Hello!"},
		{"help request", "what can you do", "Retrieval-Augmented Generation"},
		{"thanks", "thanks a lot", "very welcome"},
		{"generic echo", "quantum entanglement", "quantum entanglement"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackAnswer(tt.message)
			if !strings.Contains(got, tt.want) {
				t.Errorf("FallbackAnswer(%q) = %q, want it to contain %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestGenerator_UnconfiguredUsesFallback(t *testing.T) {
	g := NewGenerator(GeneratorConfig{}, zap.NewNop())

	answer := g.Generate(context.Background(), "prompt", "hello", nil)
	if answer != FallbackAnswer("hello") {
		t.Errorf("unconfigured generator did not return canned fallback: %q", answer)
	}
}

func TestGenerator_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"The ", "answer ", "is 42."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", token)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	g := NewGenerator(GeneratorConfig{BaseURL: srv.URL, Model: "test"}, zap.NewNop())

	var deltas []string
	answer := g.Generate(context.Background(), "prompt", "question", func(token string) {
		deltas = append(deltas, token)
	})

	if answer != "The answer is 42." {
		t.Errorf("answer = %q", answer)
	}
	// Deltas arrive in model order and concatenate to the final answer.
	if strings.Join(deltas, "") != answer {
		t.Errorf("deltas %v do not accumulate to the answer", deltas)
	}
}

func TestGenerator_NonStreamingRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			// First (streaming) attempt yields no content.
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"plain answer"}}]}`)
	}))
	defer srv.Close()

	g := NewGenerator(GeneratorConfig{BaseURL: srv.URL, Model: "test"}, zap.NewNop())

	answer := g.Generate(context.Background(), "prompt", "question", nil)
	if answer != "plain answer" {
		t.Errorf("answer = %q", answer)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestGenerator_AllTiersFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewGenerator(GeneratorConfig{BaseURL: srv.URL, Model: "test"}, zap.NewNop())

	answer := g.Generate(context.Background(), "prompt", "hello", nil)
	if answer != FallbackAnswer("hello") {
		t.Errorf("expected canned fallback, got %q", answer)
	}
}
