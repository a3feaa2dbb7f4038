// Package embedding adapts the teacher's existing Ollama-backed
// EmbeddingService (internal/services/embeddings) to the narrow
// jobqueue.EmbeddingService capability interface IndexingChain depends on.
// No new concrete embedding backend is built here: spec.md treats the
// embedder as a capability interface only, and the teacher already has a
// working one.
package embedding

import (
	"context"
	"fmt"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/jobqueue"
)

// Adapter narrows an interfaces.EmbeddingService down to jobqueue.EmbeddingService.
type Adapter struct {
	service interfaces.EmbeddingService
}

// NewAdapter wraps service for use as a jobqueue.EmbeddingService.
func NewAdapter(service interfaces.EmbeddingService) *Adapter {
	return &Adapter{service: service}
}

var _ jobqueue.EmbeddingService = (*Adapter)(nil)

// EmbedTexts embeds each text independently via the underlying service,
// since interfaces.EmbeddingService only embeds one text at a time.
func (a *Adapter) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := a.service.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// DeterministicFake is a jobqueue.EmbeddingService test double producing a
// fixed-length embedding derived from each text's length, so equal-length
// inputs collide (deliberately) and distinct-length inputs don't — enough to
// assert on embedding shape in tests without a real model.
type DeterministicFake struct {
	Dimension int
}

var _ jobqueue.EmbeddingService = (*DeterministicFake)(nil)

// NewDeterministicFake builds a DeterministicFake with the given output dimension.
func NewDeterministicFake(dimension int) *DeterministicFake {
	return &DeterministicFake{Dimension: dimension}
}

// EmbedTexts returns one deterministic vector per text.
func (f *DeterministicFake) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	dim := f.Dimension
	if dim <= 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, dim)
		seed := float32(len(t) + 1)
		for j := range vec {
			vec[j] = seed / float32(j+1)
		}
		out[i] = vec
	}
	return out, nil
}
