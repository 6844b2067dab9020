package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/export"
	"github.com/san-kum/rep-integrity/server/framestore"
	"github.com/san-kum/rep-integrity/server/models"
	"github.com/san-kum/rep-integrity/server/processor"
	"github.com/san-kum/rep-integrity/server/reps"
	"github.com/san-kum/rep-integrity/server/store"
)

// RunReader is the read side of run persistence.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.AnalysisJob, error)
	ListRuns(ctx context.Context, limit int) ([]models.JobSummary, error)
	CountRuns(ctx context.Context) (int, error)
}

type AnalysisHandler struct {
	processor *processor.Processor
	runs      RunReader
	logger    *zap.Logger
	config    Config
	stats     requestStats
}

// Config bounds request bodies. Zero sizes are unlimited.
type Config struct {
	UploadDir      string
	MaxCaptureSize int64
	MaxUploadSize  int64
}

type requestStats struct {
	Captures atomic.Int64
	Videos   atomic.Int64
	Rejected atomic.Int64
}

func NewAnalysisHandler(p *processor.Processor, runs RunReader, config Config, logger *zap.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		processor: p,
		runs:      runs,
		logger:    logger,
		config:    config,
	}
}

// Register mounts the analysis routes on rg.
func (h *AnalysisHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/analyze", h.AnalyzeCapture)
	rg.POST("/upload-video", h.UploadVideo)
	rg.GET("/jobs/:job_id", h.GetJob)
	rg.GET("/results", h.ListResults)
	rg.GET("/results/:job_id", h.GetResult)
	rg.GET("/exercises", h.ListExercises)
	rg.GET("/stats", h.GetStats)
}

// AnalyzeCapture accepts a JSON or msgpack capture bundle.
func (h *AnalysisHandler) AnalyzeCapture(c *gin.Context) {
	format, err := framestore.FormatFromContentType(c.GetHeader("Content-Type"))
	if err != nil {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		return
	}

	body := c.Request.Body
	if h.config.MaxCaptureSize > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.config.MaxCaptureSize)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":    "Capture too large",
				"max_size": tooLarge.Limit,
			})
			return
		}
		h.logger.Error("Failed to read capture body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	capture, err := framestore.Decode(bytes.NewReader(raw), format)
	if err != nil {
		h.logger.Warn("Invalid capture bundle", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := framestore.FromCapture(capture); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	job, err := h.processor.SubmitCapture(capture, raw, c.Query("exercise"))
	if err != nil {
		h.respondSubmitError(c, err)
		return
	}
	h.stats.Captures.Add(1)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"status": job.Status,
		"result": job.Result,
	})
}

func (h *AnalysisHandler) UploadVideo(c *gin.Context) {
	file, header, err := c.Request.FormFile("video")
	if err != nil {
		h.logger.Error("Failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer file.Close()

	if !isValidVideoFile(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	if h.config.MaxUploadSize > 0 && header.Size > h.config.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":    "File too large",
			"max_size": h.config.MaxUploadSize,
		})
		return
	}

	exercise := c.PostForm("test_type")
	if exercise == "" {
		exercise = c.PostForm("exercise")
	}
	if exercise == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "test_type is required"})
		return
	}

	tmp, err := os.CreateTemp(h.config.UploadDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		h.logger.Error("Failed to create upload file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		h.logger.Error("Failed to store uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process file"})
		return
	}
	tmp.Close()

	job, err := h.processor.SubmitVideo(tmp.Name(), header.Filename, exercise, parseAthlete(c.PostForm("athlete")))
	if err != nil {
		os.Remove(tmp.Name())
		h.respondSubmitError(c, err)
		return
	}
	h.stats.Videos.Add(1)

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  job.ID,
		"message": "Video upload successful, processing started",
		"status":  job.Status,
	})
}

func (h *AnalysisHandler) respondSubmitError(c *gin.Context, err error) {
	h.stats.Rejected.Add(1)
	switch {
	case errors.Is(err, reps.ErrUnknownExercise):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, processor.ErrQueueFull), errors.Is(err, processor.ErrShuttingDown):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Job submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Processing failed"})
	}
}

func (h *AnalysisHandler) GetJob(c *gin.Context) {
	job, err := h.processor.GetJob(c.Param("job_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *AnalysisHandler) ListResults(c *gin.Context) {
	limit := store.DefaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": runs, "count": len(runs)})
}

// GetResult serves a persisted run, falling back to the in-memory job while
// it is still running. ?format=csv exports the repetitions.
func (h *AnalysisHandler) GetResult(c *gin.Context) {
	id := c.Param("job_id")

	job, err := h.runs.GetRun(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		job, err = h.processor.GetJob(id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, processor.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Result not found"})
			return
		}
		h.logger.Error("Failed to load run", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load result"})
		return
	}

	format := c.DefaultQuery("format", string(export.FormatJSON))
	if format == string(export.FormatJSON) {
		c.JSON(http.StatusOK, job)
		return
	}

	f, err := export.ParseFormat(format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if job.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Job has no result yet", "status": job.Status})
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, job.Result, f); err != nil {
		h.logger.Error("Failed to export result", zap.String("job_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+string(f)))
	c.Data(http.StatusOK, f.ContentType(), buf.Bytes())
}

func (h *AnalysisHandler) ListExercises(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exercises": h.processor.Engine().Registry().All()})
}

func (h *AnalysisHandler) GetStats(c *gin.Context) {
	processorStats := h.processor.GetStats()

	response := gin.H{
		"requests": gin.H{
			"captures": h.stats.Captures.Load(),
			"videos":   h.stats.Videos.Load(),
			"rejected": h.stats.Rejected.Load(),
		},
		"processor":      processorStats,
		"uptime_seconds": time.Since(processorStats.StartTime).Seconds(),
	}
	if cacheStats, err := h.processor.GetCacheStats(); err == nil {
		response["cache"] = cacheStats
	}
	if n, err := h.runs.CountRuns(c.Request.Context()); err == nil {
		response["persisted_runs"] = n
	} else {
		h.logger.Warn("Failed to count runs", zap.Error(err))
	}

	c.JSON(http.StatusOK, response)
}

// parseAthlete accepts a JSON object or a plain name.
func parseAthlete(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var athlete map[string]any
	if err := json.Unmarshal([]byte(raw), &athlete); err == nil {
		return athlete
	}
	return map[string]any{"name": raw}
}

func isValidVideoFile(filename string) bool {
	validExtensions := []string{".mp4", ".avi", ".mov", ".mkv", ".webm"}

	filename = strings.ToLower(filename)
	for _, ext := range validExtensions {
		if strings.HasSuffix(filename, ext) {
			return true
		}
	}
	return false
}
