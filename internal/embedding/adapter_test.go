package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbeddingService struct {
	vectors map[string][]float32
	err     error
}

func (s *stubEmbeddingService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors[text], nil
}

func TestAdapter_EmbedTextsCallsUnderlyingServicePerText(t *testing.T) {
	stub := &stubEmbeddingService{vectors: map[string][]float32{
		"a": {1, 2},
		"b": {3, 4},
	}}
	adapter := NewAdapter(stub)

	vectors, err := adapter.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 2}, {3, 4}}, vectors)
}

func TestAdapter_EmbedTextsPropagatesUnderlyingError(t *testing.T) {
	stub := &stubEmbeddingService{err: errBoom}
	adapter := NewAdapter(stub)

	_, err := adapter.EmbedTexts(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestDeterministicFake_ProducesOneVectorPerText(t *testing.T) {
	fake := NewDeterministicFake(4)
	vectors, err := fake.EmbedTexts(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
}

func TestDeterministicFake_DefaultsDimensionWhenUnset(t *testing.T) {
	fake := &DeterministicFake{}
	vectors, err := fake.EmbedTexts(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Len(t, vectors[0], 8)
}

var errBoom = errors.New("boom")
