package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/parley-ai/parley/pkg/models"
)

type fakeEmbedder struct {
	vector []float64
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return len(f.vector) }
func (f *fakeEmbedder) Kind() string    { return "fake" }

type fakeVectors struct {
	results []models.SearchResult
	err     error
	gotTopK int
}

func (f *fakeVectors) Search(ctx context.Context, agentID string, vector []float64, topK int) ([]models.SearchResult, error) {
	f.gotTopK = topK
	return f.results, f.err
}

func (f *fakeVectors) Upsert(ctx context.Context, agentID string, docs []models.VectorDoc) error {
	return nil
}
func (f *fakeVectors) Delete(ctx context.Context, agentID string, ids []string) error { return nil }
func (f *fakeVectors) Count(ctx context.Context, agentID string) (int, error)         { return 0, nil }
func (f *fakeVectors) Kind() string                                                   { return "fake" }

func TestSearchFiltersByRelevance(t *testing.T) {
	vectors := &fakeVectors{results: []models.SearchResult{
		{Doc: models.VectorDoc{Content: "pricing is $10/mo", Source: "pricing"}, Score: 0.9},
		{Doc: models.VectorDoc{Content: "barely related", Source: "misc"}, Score: 0.26},
		{Doc: models.VectorDoc{Content: "noise", Source: "noise"}, Score: 0.1},
	}}
	s := NewService(&fakeEmbedder{vector: []float64{1, 0}}, vectors)

	chunks := s.Search(context.Background(), "ag1", "how much does it cost", 0)
	if len(chunks) != 2 {
		t.Fatalf("Search() returned %d chunks, want 2 (floor 0.25)", len(chunks))
	}
	if chunks[0].Text != "pricing is $10/mo" {
		t.Errorf("chunks[0].Text = %q", chunks[0].Text)
	}
	if vectors.gotTopK != DefaultTopK {
		t.Errorf("topK = %d, want default %d", vectors.gotTopK, DefaultTopK)
	}
}

func TestSearchTopKCeiling(t *testing.T) {
	vectors := &fakeVectors{}
	s := NewService(&fakeEmbedder{vector: []float64{1}}, vectors)

	s.Search(context.Background(), "ag1", "q", 50)
	if vectors.gotTopK != MaxTopK {
		t.Errorf("topK = %d, want ceiling %d", vectors.gotTopK, MaxTopK)
	}
}

func TestSearchEmbedFailureIsEmpty(t *testing.T) {
	s := NewService(&fakeEmbedder{err: fmt.Errorf("provider down")}, &fakeVectors{})

	chunks := s.Search(context.Background(), "ag1", "q", 5)
	if chunks != nil {
		t.Fatalf("Search() = %v, want nil on embedding failure", chunks)
	}
}

func TestSearchVectorFailureIsEmpty(t *testing.T) {
	s := NewService(&fakeEmbedder{vector: []float64{1}}, &fakeVectors{err: fmt.Errorf("db down")})

	chunks := s.Search(context.Background(), "ag1", "q", 5)
	if chunks != nil {
		t.Fatalf("Search() = %v, want nil on search failure", chunks)
	}
}

func TestScrubBinaryPayloads(t *testing.T) {
	blob := strings.Repeat("QUJD", 100)
	tests := []struct {
		name string
		in   string
	}{
		{"data uri", "logo: data:image/png;base64,iVBORw0KGgoAAAANSUhEUg end"},
		{"bare blob", "before " + blob + " after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScrubBinaryPayloads(tt.in)
			if !strings.Contains(got, "[image omitted]") {
				t.Errorf("ScrubBinaryPayloads() = %q, payload not scrubbed", got)
			}
			if strings.Contains(got, blob) {
				t.Error("base64 run survived scrubbing")
			}
		})
	}

	plain := "regular text with some base64-looking word QUJD"
	if got := ScrubBinaryPayloads(plain); got != plain {
		t.Errorf("ScrubBinaryPayloads(%q) = %q, want unchanged", plain, got)
	}
}
