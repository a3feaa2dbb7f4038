package interfaces

import (
	"context"
)

// EmbeddingService generates vector embeddings for raw text. Narrowed to the
// single capability internal/embedding.Adapter actually exercises (batched
// per-chunk embedding via jobqueue.EmbeddingService).
type EmbeddingService interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}
