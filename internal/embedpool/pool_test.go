package embedpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

type fakeProvider struct {
	failOnContains string
}

func (p *fakeProvider) Dimension() int      { return testDim }
func (p *fakeProvider) ModelType() ModelType { return ModelTypeONNX }
func (p *fakeProvider) Close() error         { return nil }

func (p *fakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if p.failOnContains != "" && t == p.failOnContains {
			return nil, fmt.Errorf("injected failure embedding %q", t)
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, testDim)
	}
	return out, nil
}

func countingFactory(constructed *int32, failOnContains string) ProviderFactory {
	return func() (Provider, error) {
		atomic.AddInt32(constructed, 1)
		return &fakeProvider{failOnContains: failOnContains}, nil
	}
}

func chunksFromStrings(ss []string) []Chunk {
	out := make([]Chunk, len(ss))
	for i, s := range ss {
		out[i] = Chunk{ID: fmt.Sprintf("%d", i), Content: s}
	}
	return out
}

// E6: 7 strings, max_sessions=2, cpu_workers=4, batch_size=2, always
// succeeds: output length 7, vectors of the configured dimension, provider
// constructed at most twice.
func TestPool_E6_SevenStringsTwoSessions(t *testing.T) {
	var constructed int32
	pool, err := NewPool(Config{MaxSessions: 2, CPUWorkers: 4, BatchSize: 2, Dimension: testDim}, countingFactory(&constructed, ""), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Close()

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	vectors, err := pool.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, 7)
	for _, v := range vectors {
		assert.Len(t, v, testDim)
	}
	assert.LessOrEqual(t, int(atomic.LoadInt32(&constructed)), 2)
}

// Property 9: a failed batch is isolated; surviving results are returned
// with length sum(|Bi|) - |B2|.
func TestPool_PartialBatchFailureIsIsolated(t *testing.T) {
	var constructed int32
	pool, err := NewPool(Config{MaxSessions: 2, CPUWorkers: 1, BatchSize: 2, Dimension: testDim}, countingFactory(&constructed, "bad"), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Close()

	chunks := chunksFromStrings([]string{"ok1", "ok2", "bad", "ok3", "ok4", "ok5"})

	var progressCalls []Progress
	embedded, err := pool.EmbedChunks(context.Background(), chunks, func(p Progress) {
		progressCalls = append(progressCalls, p)
	})
	require.NoError(t, err)

	assert.Len(t, embedded, 4)
	for _, e := range embedded {
		assert.NotEqual(t, "bad", e.Chunk.Content)
	}
	assert.NotEmpty(t, progressCalls)
	for _, p := range progressCalls {
		assert.Equal(t, "GeneratingEmbeddings", p.Stage)
		assert.Equal(t, 6, p.TotalFiles)
	}
}

func TestPool_AllBatchesFailReturnsFirstError(t *testing.T) {
	var constructed int32
	pool, err := NewPool(Config{MaxSessions: 1, CPUWorkers: 1, BatchSize: 1, Dimension: testDim}, countingFactory(&constructed, "bad"), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Close()

	chunks := chunksFromStrings([]string{"bad", "bad"})
	_, err = pool.EmbedChunks(context.Background(), chunks, nil)
	require.Error(t, err)
}

func TestPool_DimensionMismatchAtConstruction(t *testing.T) {
	badFactory := func() (Provider, error) {
		return &fakeProvider{}, nil
	}
	_, err := NewPool(Config{MaxSessions: 1, CPUWorkers: 1, BatchSize: 1, Dimension: testDim + 1}, badFactory, zerolog.Nop())
	require.Error(t, err)
}

func TestPool_EmptyInputReturnsEmpty(t *testing.T) {
	var constructed int32
	pool, err := NewPool(Config{MaxSessions: 1, CPUWorkers: 1, BatchSize: 4, Dimension: testDim}, countingFactory(&constructed, ""), zerolog.Nop())
	require.NoError(t, err)
	defer pool.Close()

	vectors, err := pool.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}
