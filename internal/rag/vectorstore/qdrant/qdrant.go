// Package qdrant is a minimal REST client to Qdrant. It assumes cosine
// distance and creates the collection if missing.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avolkov/ragchat/internal/rag/vectorstore"
)

// Store talks to a Qdrant collection over its REST API.
type Store struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

// Config configures the Qdrant store.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewStore creates a new Qdrant store
func NewStore(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Store{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init creates the collection if it does not exist yet.
func (s *Store) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// Qdrant returns 200 OK if the collection already exists with the
	// same schema; a real error propagates.
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s", s.url, s.collection), body)
}

// Upsert writes records, overwriting any existing point with the same id.
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]map[string]any, len(records))
	for i, rec := range records {
		points[i] = map[string]any{
			"id":     pointID(rec.ID),
			"vector": rec.Vector,
			"payload": map[string]any{
				"record_id":   rec.ID,
				"document_id": rec.Metadata.DocumentID,
				"chunk_index": rec.Metadata.ChunkIndex,
				"page":        rec.Metadata.Page,
				"text":        rec.Metadata.Text,
				"chat_id":     rec.Metadata.ChatID,
			},
		}
	}
	body := map[string]any{"points": points}
	return s.putJSON(ctx, fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection), body)
}

// Query runs a filtered cosine similarity search.
func (s *Store) Query(ctx context.Context, vector []float64, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if topK <= 0 {
		topK = 10
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := filterJSON(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection), req, &resp); err != nil {
		return nil, err
	}

	matches := make([]vectorstore.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		m := vectorstore.Match{Score: r.Score}
		if v, ok := r.Payload["record_id"].(string); ok {
			m.ID = v
		}
		if v, ok := r.Payload["document_id"].(string); ok {
			m.Metadata.DocumentID = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			m.Metadata.ChunkIndex = int(v)
		}
		if v, ok := r.Payload["page"].(float64); ok {
			m.Metadata.Page = int(v)
		}
		if v, ok := r.Payload["text"].(string); ok {
			m.Metadata.Text = v
		}
		if v, ok := r.Payload["chat_id"].(string); ok {
			m.Metadata.ChatID = v
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes all points matching the metadata filter. Deleting by
// filter instead of enumerated ids means documents of any chunk count
// are cleaned up completely.
func (s *Store) Delete(ctx context.Context, filter vectorstore.Filter) error {
	f := filterJSON(filter)
	if f == nil {
		return errors.New("refusing to delete with empty filter")
	}
	body := map[string]any{"filter": f}
	return s.postJSON(ctx, fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection), body, nil)
}

// pointID maps the deterministic record id onto a UUID, which is what
// Qdrant accepts as a point id. The mapping is stable so re-upserting a
// chunk overwrites its previous point.
func pointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
}

func filterJSON(filter vectorstore.Filter) map[string]any {
	var must []map[string]any
	if filter.ChatID != "" {
		must = append(must, map[string]any{
			"key":   "chat_id",
			"match": map[string]any{"value": filter.ChatID},
		})
	}
	if len(filter.DocumentIDs) > 0 {
		must = append(must, map[string]any{
			"key":   "document_id",
			"match": map[string]any{"any": filter.DocumentIDs},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Store) putJSON(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant PUT %s failed: %s", url, resp.Status)
	}
	return nil
}

func (s *Store) postJSON(ctx context.Context, url string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant POST %s failed: %s", url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
