// Package processor runs analysis jobs on a bounded worker queue and keeps
// track of their progress.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/analysis"
	"github.com/san-kum/rep-integrity/server/cache"
	"github.com/san-kum/rep-integrity/server/models"
)

var (
	ErrQueueFull    = errors.New("processing queue full, try again later")
	ErrJobNotFound  = errors.New("job not found")
	ErrShuttingDown = errors.New("processor is shutting down")
	errWorkerPanic  = errors.New("worker panic")
)

const subscriberBuffer = 16

// Extractor turns an uploaded video into a capture bundle.
type Extractor interface {
	ExtractCapture(ctx context.Context, video io.ReadSeeker, filename string, sampling models.Sampling) (*models.Capture, error)
}

// RunStore persists finished jobs.
type RunStore interface {
	SaveRun(ctx context.Context, job *models.AnalysisJob) error
}

type Processor struct {
	engine     *analysis.Engine
	extractor  Extractor
	store      RunStore
	cache      cache.Cache
	logger     *zap.Logger
	queue      *ProcessingQueue
	stats      ProcessorStats
	config     Config
	mutex      sync.RWMutex
	jobTracker map[string]*models.AnalysisJob
	subs       map[string]map[chan models.JobEvent]struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type ProcessorStats struct {
	StartTime      time.Time  `json:"start_time"`
	TotalSubmitted int64      `json:"total_submitted"`
	Completed      int64      `json:"completed"`
	Failed         int64      `json:"failed"`
	Rejected       int64      `json:"rejected"`
	CacheHits      int64      `json:"cache_hits"`
	AverageLatency float64    `json:"average_latency_ms"`
	TrackedJobs    int        `json:"tracked_jobs"`
	Queue          QueueStats `json:"queue"`
}

type Config struct {
	Workers    int
	QueueSize  int
	JobTimeout time.Duration
	// JobTTL is how long finished jobs stay in memory; they remain
	// available from the store afterwards.
	JobTTL   time.Duration
	Sampling models.Sampling
}

func DefaultConfig() Config {
	return Config{
		Workers:    2,
		QueueSize:  32,
		JobTimeout: 10 * time.Minute,
		JobTTL:     time.Hour,
		Sampling:   models.Sampling{Stride: 2, Downscale: 0.75},
	}
}

// NewProcessor starts the worker queue. extractor, store and cache may be
// nil; video jobs then fail and results are neither persisted nor cached.
func NewProcessor(engine *analysis.Engine, extractor Extractor, store RunStore, resultCache cache.Cache, config Config, logger *zap.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Processor{
		engine:     engine,
		extractor:  extractor,
		store:      store,
		cache:      resultCache,
		logger:     logger,
		stats:      ProcessorStats{StartTime: time.Now()},
		config:     config,
		jobTracker: make(map[string]*models.AnalysisJob),
		subs:       make(map[string]map[chan models.JobEvent]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}

	p.queue = NewProcessingQueue(config.QueueSize, config.Workers, p.runItem, p.recoverItem)
	if config.JobTTL > 0 {
		go p.cleanupFinished()
	}

	return p
}

func (p *Processor) Engine() *analysis.Engine {
	return p.engine
}

// SubmitCapture queues analysis of a decoded capture. raw is the request
// body the capture was decoded from; when non-empty it keys the result
// cache, so resubmitting identical bytes reuses the earlier result.
func (p *Processor) SubmitCapture(capture *models.Capture, raw []byte, exercise string) (*models.AnalysisJob, error) {
	if exercise == "" {
		exercise = capture.Exercise
	}
	ex, err := p.engine.Registry().Lookup(exercise)
	if err != nil {
		return nil, err
	}

	job := p.newJob(ex.Name, models.SourceCapture, "", nil)

	var cacheKey string
	if p.cache != nil && len(raw) > 0 {
		cacheKey = cache.GenerateCacheKey([]byte("capture"), []byte(ex.Name), raw)
		var cached models.AnalysisResult
		if err := p.cache.Get(p.ctx, cacheKey, &cached); err == nil {
			p.logger.Debug("Cache hit for capture", zap.String("job_id", job.ID))
			p.track(job)
			p.mutex.Lock()
			p.stats.CacheHits++
			p.mutex.Unlock()
			p.finish(job.ID, &cached, nil, 0)
			return p.GetJob(job.ID)
		}
	}

	task := func(ctx context.Context) error {
		eng := p.engine.WithProgress(func(_ string, fraction float64) {
			p.setProgress(job.ID, 0.05+0.95*fraction)
		})
		res, err := eng.AnalyzeCapture(ctx, capture, ex.Name)
		if err != nil {
			return err
		}
		if cacheKey != "" {
			if err := p.cache.Set(p.ctx, cacheKey, res); err != nil {
				p.logger.Warn("Failed to cache result", zap.Error(err))
			}
		}
		p.setResult(job.ID, res)
		return nil
	}

	if err := p.enqueue(job, task); err != nil {
		return nil, err
	}
	return p.GetJob(job.ID)
}

// SubmitVideo queues extraction and analysis of an uploaded video stored
// at path. The file is removed once the job ends.
func (p *Processor) SubmitVideo(path, filename, exercise string, athlete map[string]any) (*models.AnalysisJob, error) {
	ex, err := p.engine.Registry().Lookup(exercise)
	if err != nil {
		return nil, err
	}

	job := p.newJob(ex.Name, models.SourceVideo, filename, athlete)

	task := func(ctx context.Context) error {
		defer os.Remove(path)

		if p.extractor == nil {
			return errors.New("no pose service configured")
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()

		p.setProgress(job.ID, 0.1)
		capture, err := p.extractor.ExtractCapture(ctx, f, filename, p.config.Sampling)
		if err != nil {
			return fmt.Errorf("landmark extraction failed: %w", err)
		}
		p.setProgress(job.ID, 0.5)

		eng := p.engine.WithProgress(func(_ string, fraction float64) {
			p.setProgress(job.ID, 0.5+0.5*fraction)
		})
		res, err := eng.AnalyzeCapture(ctx, capture, ex.Name)
		if err != nil {
			return err
		}
		p.setResult(job.ID, res)
		return nil
	}

	if err := p.enqueue(job, task); err != nil {
		os.Remove(path)
		return nil, err
	}
	return p.GetJob(job.ID)
}

func (p *Processor) newJob(exercise string, source models.JobSource, filename string, athlete map[string]any) *models.AnalysisJob {
	return &models.AnalysisJob{
		ID:        uuid.NewString(),
		Exercise:  exercise,
		Source:    source,
		Filename:  filename,
		Athlete:   athlete,
		Status:    models.JobQueued,
		CreatedAt: time.Now().UTC(),
	}
}

func (p *Processor) track(job *models.AnalysisJob) {
	p.mutex.Lock()
	p.jobTracker[job.ID] = job
	p.stats.TotalSubmitted++
	p.mutex.Unlock()
}

func (p *Processor) enqueue(job *models.AnalysisJob, task func(context.Context) error) error {
	if !p.queue.IsRunning() {
		return ErrShuttingDown
	}

	p.track(job)
	item := &QueueItem{JobID: job.ID, Task: task, EnqueuedAt: time.Now()}
	if !p.queue.Enqueue(item) {
		p.mutex.Lock()
		delete(p.jobTracker, job.ID)
		p.stats.TotalSubmitted--
		p.stats.Rejected++
		p.mutex.Unlock()
		if !p.queue.IsRunning() {
			return ErrShuttingDown
		}
		return ErrQueueFull
	}

	p.logger.Info("Job queued",
		zap.String("job_id", job.ID),
		zap.String("exercise", job.Exercise),
		zap.String("source", string(job.Source)))
	p.publish(job.ID)
	return nil
}

func (p *Processor) runItem(item *QueueItem) {
	p.mutex.Lock()
	job, ok := p.jobTracker[item.JobID]
	if ok {
		job.Status = models.JobProcessing
		job.Progress = 0.05
	}
	p.mutex.Unlock()
	if !ok {
		return
	}
	p.publish(item.JobID)

	ctx := p.ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	err := item.Task(ctx)
	p.finish(item.JobID, nil, err, time.Since(item.EnqueuedAt))
}

func (p *Processor) recoverItem(item *QueueItem, r any) {
	p.logger.Error("Job processing panic", zap.String("job_id", item.JobID), zap.Any("panic", r))
	p.finish(item.JobID, nil, fmt.Errorf("%w: %v", errWorkerPanic, r), time.Since(item.EnqueuedAt))
}

func (p *Processor) setProgress(id string, progress float64) {
	p.mutex.Lock()
	job, ok := p.jobTracker[id]
	changed := ok && !job.Status.Done() && progress > job.Progress
	if changed {
		job.Progress = progress
	}
	p.mutex.Unlock()

	if changed {
		p.publish(id)
	}
}

func (p *Processor) setResult(id string, res *models.AnalysisResult) {
	p.mutex.Lock()
	if job, ok := p.jobTracker[id]; ok {
		job.Result = res
	}
	p.mutex.Unlock()
}

// finish moves a job to its terminal state, persists it and notifies
// subscribers. A nil res keeps any result the task already stored.
func (p *Processor) finish(id string, res *models.AnalysisResult, err error, latency time.Duration) {
	p.mutex.Lock()
	job, ok := p.jobTracker[id]
	if !ok || job.Status.Done() {
		p.mutex.Unlock()
		return
	}

	now := time.Now().UTC()
	job.FinishedAt = &now
	if res != nil {
		job.Result = res
	}
	if err != nil {
		job.Status = models.JobFailed
		job.Error = err.Error()
		job.Result = nil
		p.stats.Failed++
	} else {
		job.Status = models.JobCompleted
		job.Progress = 1
		p.stats.Completed++
	}
	if latency > 0 {
		p.updateLatencyStats(latency)
	}
	snapshot := *job
	p.mutex.Unlock()

	if err != nil {
		p.logger.Warn("Job failed", zap.String("job_id", id), zap.Error(err))
	} else {
		p.logger.Info("Job completed",
			zap.String("job_id", id),
			zap.Int("total_reps", snapshot.Result.TotalReps),
			zap.Bool("cheat_flag", snapshot.Result.CheatFlag))
	}

	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.store.SaveRun(ctx, &snapshot); err != nil {
			p.logger.Error("Failed to persist run", zap.String("job_id", id), zap.Error(err))
		}
		cancel()
	}

	p.publish(id)
}

// GetJob returns a snapshot of a tracked job.
func (p *Processor) GetJob(id string) (*models.AnalysisJob, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	job, exists := p.jobTracker[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	snapshot := *job
	return &snapshot, nil
}

// Subscribe streams events for a job. The current state is delivered
// first; the channel is closed after the terminal event or when cancel is
// called. Slow subscribers may miss intermediate progress events.
func (p *Processor) Subscribe(id string) (<-chan models.JobEvent, func(), error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	job, exists := p.jobTracker[id]
	if !exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	ch := make(chan models.JobEvent, subscriberBuffer)
	ch <- eventOf(job)
	if job.Status.Done() {
		close(ch)
		return ch, func() {}, nil
	}

	if p.subs[id] == nil {
		p.subs[id] = make(map[chan models.JobEvent]struct{})
	}
	p.subs[id][ch] = struct{}{}

	cancel := func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		if _, ok := p.subs[id][ch]; ok {
			delete(p.subs[id], ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Wait blocks until the job ends or ctx is done.
func (p *Processor) Wait(ctx context.Context, id string) (*models.AnalysisJob, error) {
	events, cancel, err := p.Subscribe(id)
	if err != nil {
		return nil, err
	}
	defer cancel()

	for {
		select {
		case _, ok := <-events:
			if !ok {
				return p.GetJob(id)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Processor) publish(id string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	job, ok := p.jobTracker[id]
	if !ok {
		return
	}
	ev := eventOf(job)
	for ch := range p.subs[id] {
		select {
		case ch <- ev:
		default:
			if job.Status.Done() {
				// The terminal event must get through; make room by
				// dropping the oldest pending one.
				select {
				case <-ch:
				default:
				}
				ch <- ev
			}
		}
		if job.Status.Done() {
			close(ch)
		}
	}
	if job.Status.Done() {
		delete(p.subs, id)
	}
}

func eventOf(job *models.AnalysisJob) models.JobEvent {
	return models.JobEvent{
		JobID:    job.ID,
		Status:   job.Status,
		Progress: job.Progress,
		Error:    job.Error,
	}
}

func (p *Processor) GetStats() ProcessorStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := p.stats
	stats.TrackedJobs = len(p.jobTracker)
	stats.Queue = p.queue.GetQueueStats()
	return stats
}

// GetCacheStats returns cache statistics
func (p *Processor) GetCacheStats() (*cache.CacheStats, error) {
	if p.cache == nil {
		return nil, fmt.Errorf("cache not initialized")
	}

	return p.cache.GetStats(p.ctx)
}

func (p *Processor) updateLatencyStats(latency time.Duration) {
	currentLatency := float64(latency.Milliseconds())

	if p.stats.AverageLatency == 0 {
		p.stats.AverageLatency = currentLatency
	} else {
		alpha := 0.1
		p.stats.AverageLatency = alpha*currentLatency + (1-alpha)*p.stats.AverageLatency
	}
}

func (p *Processor) cleanupFinished() {
	ticker := time.NewTicker(p.config.JobTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.config.JobTTL)
			p.mutex.Lock()
			for id, job := range p.jobTracker {
				if job.Status.Done() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
					delete(p.jobTracker, id)
				}
			}
			p.mutex.Unlock()
		case <-p.stopCh:
			return
		}
	}
}

// Shutdown stops accepting jobs, cancels running ones and fails whatever
// was still queued.
func (p *Processor) Shutdown(timeout time.Duration) error {
	p.logger.Info("Shutting down processor...")

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.cancel()

	err := p.queue.Shutdown(timeout)
	if err != nil {
		p.logger.Error("Failed to shutdown queue", zap.Error(err))
	}

	for _, item := range p.queue.DrainQueue() {
		p.finish(item.JobID, nil, ErrShuttingDown, 0)
	}

	p.logger.Info("Processor shutdown complete")
	return err
}
