package embedpool

import (
	"context"
	"fmt"

	"github.com/knights-analytics/hugot"
)

// ONNXExecutionProvider selects CPU or CUDA placement for a session.
type ONNXExecutionProvider string

const (
	ExecutionCPU  ONNXExecutionProvider = "cpu"
	ExecutionCUDA ONNXExecutionProvider = "cuda"
)

// ONNXProviderConfig configures an ONNXProvider's session and pipeline.
type ONNXProviderConfig struct {
	LibraryPath string
	ModelPath   string
	OnnxFilename string
	Execution   ONNXExecutionProvider
	CUDADeviceID int
	MaxSeqLen   int
	Dim         int
}

// ONNXProvider wraps a hugot feature-extraction pipeline: a preloaded
// tokenizer and an ONNX session executing on CPU or CUDA. Output shape must
// be [batch, dim] (pooled); EmbedBatch returns an error for output that is
// not one vector of Dim values per input text, since pooling is expected to
// live in the ONNX graph itself.
type ONNXProvider struct {
	cfg      ONNXProviderConfig
	session  *hugot.Session
	pipeline *hugot.FeatureExtractionPipeline
}

// NewONNXProvider loads the tokenizer and ONNX session described by cfg.
// Construction is expensive and meant to be amortized by the Pool's idle
// stack, not repeated per batch.
func NewONNXProvider(cfg ONNXProviderConfig) (Provider, error) {
	opts := []hugot.SessionOption{hugot.WithOnnxLibraryPath(cfg.LibraryPath)}
	if cfg.Execution == ExecutionCUDA {
		opts = append(opts, hugot.WithCuda(map[string]string{"device_id": fmt.Sprintf("%d", cfg.CUDADeviceID)}))
	}

	session, err := hugot.NewORTSession(opts...)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	pipelineConfig := hugot.FeatureExtractionConfig{
		ModelPath:    cfg.ModelPath,
		OnnxFilename: cfg.OnnxFilename,
		Name:         "embedpool-feature-extraction",
	}

	pipeline, err := hugot.NewPipeline(session, pipelineConfig)
	if err != nil {
		session.Destroy()
		return nil, fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	return &ONNXProvider{cfg: cfg, session: session, pipeline: pipeline}, nil
}

// Dimension implements Provider.
func (p *ONNXProvider) Dimension() int { return p.cfg.Dim }

// ModelType implements Provider.
func (p *ONNXProvider) ModelType() ModelType { return ModelTypeONNX }

// EmbedBatch implements Provider: tokenization, padding/truncation and the
// [batch, seq_len] input-ids/attention-mask layout are handled inside the
// hugot pipeline with its own settings (cfg.MaxSeqLen is not passed to it);
// this call only validates the pooled output shape.
func (p *ONNXProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	output, err := p.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run feature extraction pipeline: %w", err)
	}

	if len(output.Embeddings) != len(texts) {
		return nil, fmt.Errorf("onnx provider: expected %d pooled embeddings, got %d (unpooled [batch,seq_len,dim] output is not supported)", len(texts), len(output.Embeddings))
	}

	vectors := make([][]float32, len(output.Embeddings))
	for i, e := range output.Embeddings {
		if len(e) != p.cfg.Dim {
			return nil, fmt.Errorf("onnx provider: embedding %d has dimension %d, expected %d", i, len(e), p.cfg.Dim)
		}
		vectors[i] = e
	}
	return vectors, nil
}

// Close releases the underlying ONNX session.
func (p *ONNXProvider) Close() error {
	return p.session.Destroy()
}

var _ Provider = (*ONNXProvider)(nil)
