package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/rep-integrity/server/framestore"
	"github.com/san-kum/rep-integrity/server/geometry"
	"github.com/san-kum/rep-integrity/server/integrity"
	"github.com/san-kum/rep-integrity/server/models"
	"github.com/san-kum/rep-integrity/server/report"
	"github.com/san-kum/rep-integrity/server/reps"
)

// ErrCanceled is wrapped together with the context error when a run is
// abandoned. A canceled run never yields a partial result.
var ErrCanceled = errors.New("analysis canceled")

// Stage names reported to a ProgressFunc.
const (
	StageExtract  = "extract"
	StageCount    = "count"
	StageEvidence = "evidence"
	StageDone     = "done"
)

// ProgressFunc receives coarse progress; fraction is within [0,1]. It may
// be called from several goroutines during extraction.
type ProgressFunc func(stage string, fraction float64)

type Engine struct {
	cfg      Config
	registry *reps.Registry
	calc     geometry.Calculator
	logger   *zap.Logger
	progress ProgressFunc
}

func NewEngine(cfg Config, registry *reps.Registry, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = reps.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg.Clone(),
		registry: registry,
		calc:     geometry.NewCalculator(cfg.VisibilityFloor),
		logger:   logger,
	}, nil
}

func (e *Engine) Config() Config {
	return e.cfg.Clone()
}

func (e *Engine) Registry() *reps.Registry {
	return e.registry
}

// WithOverrides returns an engine that applies per-run overrides. The
// receiver is not modified.
func (e *Engine) WithOverrides(o *models.RunOverrides) (*Engine, error) {
	if o == nil {
		return e, nil
	}
	out, err := NewEngine(e.cfg.WithOverrides(o), e.registry, e.logger)
	if err != nil {
		return nil, err
	}
	out.progress = e.progress
	return out, nil
}

// WithProgress returns an engine that reports progress to fn.
func (e *Engine) WithProgress(fn ProgressFunc) *Engine {
	out := *e
	out.progress = fn
	return &out
}

func (e *Engine) report(stage string, fraction float64) {
	if e.progress != nil {
		e.progress(stage, fraction)
	}
}

// AnalyzeCapture builds a frame store from c and analyses it, applying the
// capture's own overrides. An empty exercise falls back to c.Exercise.
func (e *Engine) AnalyzeCapture(ctx context.Context, c *models.Capture, exercise string) (*models.AnalysisResult, error) {
	store, err := framestore.FromCapture(c)
	if err != nil {
		return nil, err
	}
	if exercise == "" {
		exercise = c.Exercise
	}
	eng, err := e.WithOverrides(c.Overrides)
	if err != nil {
		return nil, err
	}
	return eng.Analyze(ctx, store, exercise)
}

// shardResult is one shard's immutable contribution.
type shardResult struct {
	observations []reps.Observation
	faces        []integrity.FaceSample
	diffs        []integrity.FrameDiff
}

// Analyze runs the full pipeline. Landmark work is split into shards that
// run concurrently; the repetition state machine then runs once over the
// merged, ordered signal.
func (e *Engine) Analyze(ctx context.Context, store *framestore.Store, exercise string) (*models.AnalysisResult, error) {
	ex, err := e.registry.Lookup(exercise)
	if err != nil {
		return nil, err
	}
	ex = ex.WithThresholds(e.cfg.DownThreshold, e.cfg.UpThreshold)
	if err := ex.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	extractor := reps.NewExtractor(ex, e.calc)
	shards := store.Shards(e.cfg.Workers)
	results := make([]shardResult, len(shards))

	e.report(StageExtract, 0)
	var finished atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, shard := range shards {
		g.Go(func() error {
			res, err := e.extractShard(gctx, store, shard, extractor)
			if err != nil {
				return err
			}
			results[i] = res
			e.report(StageExtract, 0.5*float64(finished.Add(1))/float64(len(shards)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, canceled(ctxErr)
		}
		return nil, fmt.Errorf("failed to extract signal: %w", err)
	}

	var (
		observations = make([]reps.Observation, 0, store.Len())
		faces        []integrity.FaceSample
		diffs        = make([]integrity.FrameDiff, 0, store.Len())
	)
	for _, r := range results {
		observations = append(observations, r.observations...)
		faces = append(faces, r.faces...)
		diffs = append(diffs, r.diffs...)
	}

	samples := extractor.Resolve(observations)
	defined := 0
	for _, s := range samples {
		if s.Defined {
			defined++
		}
	}
	coverage := float64(defined) / float64(len(samples))

	meta := models.RunMetadata{
		FrameCount:      store.Len(),
		DefinedFrames:   defined,
		RawFrames:       store.RawCount(),
		Duration:        store.Duration(),
		SampleStride:    store.Sampling().Stride,
		Downscale:       store.Sampling().Downscale,
		DuplicateFrames: integrity.DuplicateFrames(diffs, e.cfg.Integrity),
		FaceDetections:  len(faces),
	}

	if defined < e.cfg.MinDefinedFrames {
		reason := fmt.Sprintf("only %d of %d sampled frames produced a %s signal, at least %d required",
			defined, len(samples), ex.Signal, e.cfg.MinDefinedFrames)
		e.logger.Debug("insufficient data",
			zap.String("exercise", ex.Name),
			zap.Int("defined", defined),
			zap.Int("frames", len(samples)))
		res := report.InsufficientData(ex.Name, reason, coverage, meta)
		e.report(StageDone, 1)
		return &res, nil
	}

	e.report(StageCount, 0.5)
	counter := reps.NewCounter(ex, e.cfg.Scoring)
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, canceled(err)
		}
		counter.Update(s)
	}
	repetitions := counter.Repetitions()

	e.report(StageEvidence, 0.75)
	span := models.FrameRange{
		First: store.Frame(0).FrameIndex,
		Last:  store.Frame(store.Len() - 1).FrameIndex,
	}
	var evidence []models.EvidenceItem
	evidence = append(evidence, integrity.DetectDuplication(diffs, e.cfg.Integrity)...)
	evidence = append(evidence, integrity.DetectFaceInconsistency(faces, span, e.cfg.Integrity)...)
	evidence = append(evidence, integrity.DetectRateViolations(repetitions, e.cfg.Integrity)...)
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}
	verdict := integrity.Score(evidence, e.cfg.Integrity)

	res := report.Build(report.Input{
		Exercise:       ex.Name,
		Repetitions:    repetitions,
		Verdict:        verdict,
		SignalCoverage: coverage,
		Metadata:       meta,
	})

	e.logger.Debug("analysis completed",
		zap.String("exercise", ex.Name),
		zap.Int("frames", store.Len()),
		zap.Int("total_reps", res.TotalReps),
		zap.Int("valid_reps", res.ValidReps),
		zap.Float64("integrity_score", res.IntegrityScore),
		zap.Bool("cheat_flag", res.CheatFlag),
		zap.Bool("ended_in_down", counter.State() == models.StateDown))
	e.report(StageDone, 1)
	return &res, nil
}

func (e *Engine) extractShard(ctx context.Context, store *framestore.Store, shard framestore.Shard, extractor reps.Extractor) (shardResult, error) {
	size := shard.End - shard.Start
	res := shardResult{
		observations: make([]reps.Observation, 0, size),
		diffs:        make([]integrity.FrameDiff, 0, size),
	}

	for i := shard.Start; i < shard.End; i++ {
		if err := ctx.Err(); err != nil {
			return shardResult{}, err
		}
		frame := store.Frame(i)
		res.observations = append(res.observations, extractor.Observe(frame))

		if c, ok := e.faceCentroid(frame); ok {
			res.faces = append(res.faces, integrity.FaceSample{FrameIndex: frame.FrameIndex, X: c.X, Y: c.Y})
		}

		// The first frame of a shard is compared with the last frame of
		// the previous shard.
		if i == 0 {
			res.diffs = append(res.diffs, integrity.FrameDiff{FrameIndex: frame.FrameIndex})
			continue
		}
		res.diffs = append(res.diffs, integrity.Diff(store.Raw(i-1), store.Raw(i), frame.FrameIndex))
	}
	return res, nil
}

func (e *Engine) faceCentroid(frame *models.LandmarkFrame) (geometry.Point, bool) {
	points := make([]geometry.Point, 0, len(models.FaceLandmarks))
	for _, name := range models.FaceLandmarks {
		if p, ok := e.calc.Point(frame, name); ok {
			points = append(points, p)
		}
	}
	return e.calc.Centroid(points)
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}
