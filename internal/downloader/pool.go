package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bilisub/pkg/imagecache"
	"bilisub/pkg/logger"
	"bilisub/pkg/ratelimit"
)

// ErrPoolStopped is returned for jobs submitted after Stop
var ErrPoolStopped = errors.New("worker pool is shutting down")

// Job is one image to bring into the local cache
type Job struct {
	Kind imagecache.Kind
	URL  string
}

// Result is the outcome of a Job
type Result struct {
	Job      Job
	Path     string
	Error    error
	Duration time.Duration
}

// ImageCache resolves an image URL to a local file
type ImageCache interface {
	Get(ctx context.Context, kind imagecache.Kind, rawURL string) (string, error)
}

type request struct {
	ctx   context.Context
	job   Job
	index int
	reply chan<- indexedResult
}

type indexedResult struct {
	index  int
	result Result
}

// WorkerPool fetches images concurrently on a fixed set of workers shared
// by every caller
type WorkerPool struct {
	numWorkers int
	jobQueue   chan request
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	cache      ImageCache
	throttle   *ratelimit.Throttle
	logger     logger.Logger
}

// NewWorkerPool creates a new image worker pool
func NewWorkerPool(
	numWorkers int,
	cache ImageCache,
	throttle *ratelimit.Throttle,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	if log == nil {
		log = logger.NewNopLogger()
	}
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if throttle == nil {
		throttle = ratelimit.NewThrottle(0, 0)
	}

	return &WorkerPool{
		numWorkers: numWorkers,
		jobQueue:   make(chan request, numWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
		cache:      cache,
		throttle:   throttle,
		logger:     log.WithField("component", "downloader"),
	}
}

// Start initializes and starts all workers
func (wp *WorkerPool) Start() {
	wp.logger.InfoWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop shuts the workers down. Jobs still queued fail with ErrPoolStopped.
func (wp *WorkerPool) Stop() {
	wp.logger.Info("Stopping worker pool...")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info("Worker pool stopped")
}

// FetchAll runs jobs on the pool and returns their results in job order
func (wp *WorkerPool) FetchAll(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	replies := make(chan indexedResult, len(jobs))
	submitted := 0
	for i, job := range jobs {
		req := request{ctx: ctx, job: job, index: i, reply: replies}
		select {
		case wp.jobQueue <- req:
			submitted++
			continue
		case <-ctx.Done():
			results[i] = Result{Job: job, Error: ctx.Err()}
		case <-wp.ctx.Done():
			results[i] = Result{Job: job, Error: ErrPoolStopped}
		}
	}

	for received := 0; received < submitted; received++ {
		select {
		case r := <-replies:
			results[r.index] = r.result
		case <-wp.ctx.Done():
			for i := range results {
				if results[i].Error == nil && results[i].Path == "" {
					results[i] = Result{Job: jobs[i], Error: ErrPoolStopped}
				}
			}
			return results
		}
	}
	return results
}

// worker is the main worker routine
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	wp.logger.DebugWithFields("Worker started", map[string]interface{}{
		"worker_id": id,
	})

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		case req := <-wp.jobQueue:
			req.reply <- indexedResult{index: req.index, result: wp.processJob(req.ctx, req.job, id)}
		}
	}
}

// processJob handles a single image
func (wp *WorkerPool) processJob(ctx context.Context, job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}

	if err := ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	if !wp.throttle.Allow() {
		wp.logger.DebugWithFields("Worker waiting for rate limit", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.URL,
		})
		if err := wp.throttle.Wait(ctx); err != nil {
			result.Error = err
			return result
		}
	}

	path, err := wp.cache.Get(ctx, job.Kind, job.URL)
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = fmt.Errorf("fetch failed: %w", err)
		wp.logger.WarnWithFields("Worker failed to fetch image", map[string]interface{}{
			"worker_id": workerID,
			"url":       job.URL,
			"error":     err.Error(),
			"duration":  result.Duration,
		})
		return result
	}

	result.Path = path
	wp.logger.DebugWithFields("Worker completed job successfully", map[string]interface{}{
		"worker_id": workerID,
		"url":       job.URL,
		"duration":  result.Duration,
	})
	return result
}
