package embedpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/ZanzyTHEbar/toolmind/pkg/harnessports"
)

// cacheTTLSeconds is how long a cached embedding stays valid before a cache
// hit is treated as a miss and the text is re-embedded.
const cacheTTLSeconds = 3600

// Chunk pairs an input text with a stable identity, so an embedded result
// can be re-sorted by callers that need an ordering the pool itself does
// not guarantee across batches.
type Chunk struct {
	ID      string
	Content string
}

// EmbeddedChunk is a Chunk plus its dense vector and the time it was
// produced.
type EmbeddedChunk struct {
	Chunk     Chunk
	Vector    []float32
	ProducedAt time.Time
}

// Config fixes a Pool's topology: the number of provider instances that may
// be alive at once, and the number of concurrent task drivers.
type Config struct {
	MaxSessions int
	CPUWorkers  int
	BatchSize   int
	Dimension   int
}

// Pool amortizes embedding-model cost across a batch queue: a semaphore of
// MaxSessions permits, a mutex-protected idle stack of live providers, and
// CPUWorkers long-lived tasks draining a shared bounded channel of batches.
type Pool struct {
	cfg     Config
	factory ProviderFactory
	logger  zerolog.Logger

	sem chan struct{}

	idleMu sync.Mutex
	idle   []Provider

	constructedMu sync.Mutex
	constructed   int

	cache harnessports.Cache
}

// SetCache installs a content-keyed vector cache; nil (the default) disables
// caching and every chunk is always sent to a provider. Any harnessports.Cache
// implementation works, not just VectorCache.
func (p *Pool) SetCache(cache harnessports.Cache) {
	p.cache = cache
}

// NewPool builds a Pool around factory, validating that its first
// constructed provider's dimension matches cfg.Dimension (the dimension
// contract is enforced at construction and again on every later provider
// build).
func NewPool(cfg Config, factory ProviderFactory, logger zerolog.Logger) (*Pool, error) {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}
	if cfg.CPUWorkers <= 0 {
		cfg.CPUWorkers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	p := &Pool{
		cfg:     cfg,
		factory: factory,
		logger:  logger.With().Str("component", "embedpool").Logger(),
		sem:     make(chan struct{}, cfg.MaxSessions),
	}

	probe, err := factory()
	if err != nil {
		return nil, fmt.Errorf("construct initial embedding provider: %w", err)
	}
	if probe.Dimension() != cfg.Dimension {
		probe.Close()
		return nil, fmt.Errorf("embedding pool: provider dimension %d does not match configured dimension %d", probe.Dimension(), cfg.Dimension)
	}
	p.constructed = 1
	p.idle = append(p.idle, probe)

	return p, nil
}

type batchJob struct {
	index  int
	chunks []Chunk
}

type batchResult struct {
	index    int
	embedded []EmbeddedChunk
	err      error
}

// EmbedChunks processes chunks through the pool: partitions into
// batch_size batches, drains them across cpu_workers workers, and returns
// EmbeddedChunk results. A batch that errors does not fail the whole call
// — errors are accumulated and, if at least one batch succeeded, the
// surviving results are returned; only if every batch errors is the first
// error returned instead of an empty success.
func (p *Pool) EmbedChunks(ctx context.Context, chunks []Chunk, report ProgressReporter) ([]EmbeddedChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	start := time.Now()

	batches := partitionChunks(chunks, p.cfg.BatchSize)
	jobs := make(chan batchJob, len(batches))
	for i, b := range batches {
		jobs <- batchJob{index: i, chunks: b}
	}
	close(jobs)

	results := make(chan batchResult, len(batches))

	var wg conc.WaitGroup
	workers := p.cfg.CPUWorkers
	if workers > len(batches) {
		workers = len(batches)
	}
	for i := 0; i < workers; i++ {
		wg.Go(func() {
			p.worker(ctx, jobs, results)
		})
	}
	wg.Wait()
	close(results)

	ordered := make([][]EmbeddedChunk, len(batches))
	var errs []error
	var completedFiles int
	totalFiles := len(chunks)

	for res := range results {
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		ordered[res.index] = res.embedded
		completedFiles += len(res.embedded)

		if report != nil {
			elapsed := time.Since(start).Seconds()
			rate := 0.0
			if elapsed > 0 {
				rate = float64(completedFiles) / elapsed
			}
			report(Progress{
				Stage:          "GeneratingEmbeddings",
				FilesCompleted: completedFiles,
				TotalFiles:     totalFiles,
				Rate:           rate,
			})
		}
	}

	if len(errs) == len(batches) {
		return nil, fmt.Errorf("embedding pool: all %d batches failed: %w", len(batches), errs[0])
	}
	if len(errs) > 0 {
		p.logger.Warn().Int("failed_batches", len(errs)).Int("total_batches", len(batches)).Msg("embedding pool: partial batch failure, returning surviving results")
	}

	var out []EmbeddedChunk
	for _, batch := range ordered {
		out = append(out, batch...)
	}
	return out, nil
}

// EmbedTexts is the plain-text convenience entry point used by callers
// (such as convsearch) that do not need chunk identity or progress
// reporting.
func (p *Pool) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{ID: fmt.Sprintf("%d", i), Content: t}
	}
	embedded, err := p.EmbedChunks(ctx, chunks, nil)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(embedded))
	for i, e := range embedded {
		vectors[i] = e.Vector
	}
	return vectors, nil
}

func (p *Pool) worker(ctx context.Context, jobs <-chan batchJob, results chan<- batchResult) {
	for job := range jobs {
		embedded, err := p.processBatch(ctx, job.chunks)
		results <- batchResult{index: job.index, embedded: embedded, err: err}
	}
}

// processBatch acquires a semaphore permit, borrows (or constructs) a
// provider, embeds the batch, and returns the provider to the idle stack
// before releasing the permit. The idle-stack mutex is taken only for the
// pop and the push, never across embed_batch.
func (p *Pool) processBatch(ctx context.Context, chunks []Chunk) ([]EmbeddedChunk, error) {
	now := time.Now()
	embedded := make([]EmbeddedChunk, len(chunks))
	misses := make([]int, 0, len(chunks))

	if p.cache != nil {
		for i, c := range chunks {
			if raw, ok := p.cache.Get(ctx, c.Content); ok {
				var vec []float32
				if err := json.Unmarshal(raw, &vec); err == nil && len(vec) == p.cfg.Dimension {
					embedded[i] = EmbeddedChunk{Chunk: c, Vector: vec, ProducedAt: now}
					continue
				}
			}
			misses = append(misses, i)
		}
		if len(misses) == 0 {
			return embedded, nil
		}
	} else {
		for i := range chunks {
			misses = append(misses, i)
		}
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-p.sem }()

	provider, err := p.acquireProvider()
	if err != nil {
		return nil, fmt.Errorf("acquire embedding provider: %w", err)
	}

	texts := make([]string, len(misses))
	for i, idx := range misses {
		texts[i] = chunks[idx].Content
	}

	vectors, err := provider.EmbedBatch(ctx, texts)
	p.releaseProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed batch: provider returned %d vectors for %d chunks", len(vectors), len(texts))
	}

	for i, idx := range misses {
		if len(vectors[i]) != p.cfg.Dimension {
			return nil, fmt.Errorf("embed batch: vector %d has dimension %d, expected %d", i, len(vectors[i]), p.cfg.Dimension)
		}
		embedded[idx] = EmbeddedChunk{Chunk: chunks[idx], Vector: vectors[i], ProducedAt: now}
		if p.cache != nil {
			if raw, err := json.Marshal(vectors[i]); err == nil {
				_ = p.cache.Set(ctx, chunks[idx].Content, raw, cacheTTLSeconds)
			}
		}
	}
	return embedded, nil
}

func (p *Pool) acquireProvider() (Provider, error) {
	p.idleMu.Lock()
	if n := len(p.idle); n > 0 {
		provider := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.idleMu.Unlock()
		return provider, nil
	}
	p.idleMu.Unlock()

	p.constructedMu.Lock()
	defer p.constructedMu.Unlock()
	provider, err := p.factory()
	if err != nil {
		return nil, err
	}
	if provider.Dimension() != p.cfg.Dimension {
		provider.Close()
		return nil, fmt.Errorf("provider dimension %d does not match pool dimension %d", provider.Dimension(), p.cfg.Dimension)
	}
	p.constructed++
	return provider, nil
}

func (p *Pool) releaseProvider(provider Provider) {
	p.idleMu.Lock()
	if len(p.idle) < p.cfg.MaxSessions {
		p.idle = append(p.idle, provider)
		p.idleMu.Unlock()
		return
	}
	p.idleMu.Unlock()
	provider.Close()
}

func partitionChunks(chunks []Chunk, batchSize int) [][]Chunk {
	var batches [][]Chunk
	for i := 0; i < len(chunks); i += batchSize {
		end := i + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	return batches
}

// Stats reports the pool's current topology and utilization, grounded on
// the reference's PoolStats.
type Stats struct {
	AvailableProviders int
	MaxProviders       int
	AvailablePermits   int
	CPUWorkers         int
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool) Stats() Stats {
	p.idleMu.Lock()
	idle := len(p.idle)
	p.idleMu.Unlock()
	return Stats{
		AvailableProviders: idle,
		MaxProviders:       p.cfg.MaxSessions,
		AvailablePermits:   p.cfg.MaxSessions - len(p.sem),
		CPUWorkers:         p.cfg.CPUWorkers,
	}
}

// IsAtCapacity reports whether every session permit is currently held.
func (s Stats) IsAtCapacity() bool { return s.AvailablePermits == 0 }

// Utilization reports the fraction of session permits currently held.
func (s Stats) Utilization() float64 {
	if s.MaxProviders == 0 {
		return 0
	}
	return float64(s.MaxProviders-s.AvailablePermits) / float64(s.MaxProviders)
}

// ConstructedCount returns how many Provider instances the pool has ever
// constructed across its lifetime (bounded by MaxSessions in steady state).
func (p *Pool) ConstructedCount() int {
	p.constructedMu.Lock()
	defer p.constructedMu.Unlock()
	return p.constructed
}

// Close closes every idle provider. In-flight batches are not interrupted.
func (p *Pool) Close() error {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	var firstErr error
	for _, provider := range p.idle {
		if err := provider.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.idle = nil
	return firstErr
}
