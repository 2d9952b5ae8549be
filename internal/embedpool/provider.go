// Package embedpool implements a bounded pool of embedding-provider
// instances driven by N worker tasks draining a shared batch queue, with
// session reuse, partial-failure tolerance, and progress reporting.
package embedpool

import "context"

// ModelType tags which embedding model family a provider wraps.
type ModelType string

const (
	ModelTypeONNX ModelType = "onnx"
)

// Provider is the capability the Pool drives: an embedding-model session
// that can turn a batch of texts into dense vectors. Construction is
// permitted to be expensive; EmbedBatch is expected to be hot.
type Provider interface {
	Dimension() int
	ModelType() ModelType
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Close() error
}

// ProviderFactory constructs a fresh Provider instance on demand, used by
// the Pool when its idle stack is empty and it has not yet reached
// max_sessions.
type ProviderFactory func() (Provider, error)
