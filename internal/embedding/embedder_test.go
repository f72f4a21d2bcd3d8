package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
)

// fakeProvider records calls and returns a fixed-length vector.
type fakeProvider struct {
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (f *fakeProvider) Embed(_ context.Context, model, text string) ([]float32, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("provider down")
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func TestEmbed_BoundsInput(t *testing.T) {
	p := &fakeProvider{}
	e := NewEmbedder(p, "nomic-embed-text")

	long := strings.Repeat("a", maxInputChars+500)
	if _, err := e.Embed(context.Background(), long); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := len(p.texts[0]); got != maxInputChars {
		t.Errorf("provider received %d chars, want %d", got, maxInputChars)
	}
}

func TestEmbedBatch(t *testing.T) {
	p := &fakeProvider{}
	e := NewEmbedder(p, "nomic-embed-text")

	texts := []string{"one", "two", "three"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	// Order must match input regardless of goroutine scheduling.
	for i, text := range texts {
		if vecs[i][0] != float32(len(text)) {
			t.Errorf("vector %d does not correspond to input %q", i, text)
		}
	}
}

func TestEmbedBatch_Empty(t *testing.T) {
	e := NewEmbedder(&fakeProvider{}, "m")
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v; want nil, nil", vecs, err)
	}
}

func TestEmbedBatch_ProviderFailure(t *testing.T) {
	e := NewEmbedder(&fakeProvider{fail: true}, "m")
	if _, err := e.EmbedBatch(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error when provider fails")
	}
}
