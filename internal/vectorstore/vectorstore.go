// Package vectorstore is a small similarity index over the embeddings table.
// Vectors are ranked in process by cosine distance.
package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"

	"github.com/edgard/mnemobot/internal/database"
)

// Collection names.
const (
	CollectionInfo     = "info"
	CollectionMessages = "messages"
)

// ErrEmptyEmbedding is returned when the embedder produced no vector.
var ErrEmptyEmbedding = errors.New("embedder returned an empty vector")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Records persists vectors.
type Records interface {
	SaveEmbedding(ctx context.Context, e *database.Embedding) error
	ListEmbeddings(ctx context.Context, collection string) ([]database.Embedding, error)
}

// Document is one indexed text.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Filter matches documents whose metadata contains every key with an equal value.
type Filter map[string]string

// Match is a query hit. Distance is 1 minus cosine similarity.
type Match struct {
	ID       string
	Text     string
	Metadata map[string]string
	Distance float64
}

// Store indexes and queries documents.
type Store struct {
	records  Records
	embedder Embedder
	logger   *slog.Logger
}

// New creates a Store.
func New(records Records, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		records:  records,
		embedder: embedder,
		logger:   logger.With("component", "vectorstore"),
	}
}

// Add embeds doc.Text and stores it in collection, replacing a document with the same id.
func (s *Store) Add(ctx context.Context, collection string, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	vec, err := s.embed(ctx, doc.Text)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of %s: %w", doc.ID, err)
	}
	if doc.Metadata == nil {
		meta = []byte("{}")
	}

	err = s.records.SaveEmbedding(ctx, &database.Embedding{
		Collection: collection,
		DocID:      doc.ID,
		Content:    doc.Text,
		Metadata:   string(meta),
		Vector:     encodeVector(vec),
	})
	if err != nil {
		return fmt.Errorf("failed to index %s/%s: %w", collection, doc.ID, err)
	}
	s.logger.DebugContext(ctx, "Indexed document", "collection", collection, "doc_id", doc.ID, "dims", len(vec))
	return nil
}

// Query returns up to limit documents of collection matching filter, nearest first.
// A non-positive limit returns every match.
func (s *Store) Query(ctx context.Context, collection, text string, filter Filter, limit int) ([]Match, error) {
	query, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	rows, err := s.records.ListEmbeddings(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collection, err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		meta := map[string]string{}
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			s.logger.WarnContext(ctx, "Skipping document with unreadable metadata", "collection", collection, "doc_id", row.DocID, "error", err)
			continue
		}
		if !filter.matches(meta) {
			continue
		}
		vec, err := decodeVector(row.Vector)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping document with unreadable vector", "collection", collection, "doc_id", row.DocID, "error", err)
			continue
		}
		if len(vec) != len(query) {
			s.logger.WarnContext(ctx, "Skipping document with mismatched dimensions",
				"collection", collection, "doc_id", row.DocID, "dims", len(vec), "query_dims", len(query))
			continue
		}
		matches = append(matches, Match{
			ID:       row.DocID,
			Text:     row.Content,
			Metadata: meta,
			Distance: 1 - cosineSimilarity(query, vec),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	s.logger.DebugContext(ctx, "Queried collection", "collection", collection, "candidates", len(rows), "matches", len(matches))
	return matches, nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vec) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vec, nil
}

func (f Filter) matches(meta map[string]string) bool {
	for k, v := range f {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
