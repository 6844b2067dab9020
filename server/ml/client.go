package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/framestore"
	"github.com/san-kum/rep-integrity/server/models"
)

// ErrRejected is returned when the pose service refuses a request with a
// client error. Such requests are not retried.
var ErrRejected = errors.New("pose service rejected request")

// Client talks to the pose service that turns a video into a capture
// bundle of landmark frames and downsized raw frames.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     ClientConfig

	healthy  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

type ClientConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// HealthCheckInterval of zero disables the background health checker.
	HealthCheckInterval time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             120 * time.Second,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

func NewClient(baseURL string, config ClientConfig, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid pose service URL %q", baseURL)
	}

	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		config:  config,
		stopCh:  make(chan struct{}),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}

	if config.HealthCheckInterval > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.HealthCheck(ctx); err != nil {
			logger.Warn("Pose service not available at startup", zap.Error(err))
		}
		cancel()
		go client.startHealthChecker()
	}

	return client, nil
}

// ExtractCapture uploads a video and returns the capture bundle the pose
// service produced for it. video is rewound before every attempt.
func (c *Client) ExtractCapture(ctx context.Context, video io.ReadSeeker, filename string, sampling models.Sampling) (*models.Capture, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying landmark extraction",
				zap.String("filename", filename),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if _, err := video.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind video: %w", err)
		}

		capture, err := c.executeExtractRequest(ctx, video, filename, sampling)
		if err == nil {
			return capture, nil
		}
		if errors.Is(err, ErrRejected) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("landmark extraction failed after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

func (c *Client) executeExtractRequest(ctx context.Context, video io.Reader, filename string, sampling models.Sampling) (*models.Capture, error) {
	body, writer := io.Pipe()
	form := multipart.NewWriter(writer)

	// The writer goroutine must be gone before the caller rewinds video.
	done := make(chan struct{})
	defer func() {
		body.Close()
		<-done
	}()

	go func() {
		defer close(done)
		err := func() error {
			if sampling.Stride > 0 {
				if err := form.WriteField("stride", strconv.Itoa(sampling.Stride)); err != nil {
					return err
				}
			}
			if sampling.Downscale > 0 {
				if err := form.WriteField("downscale", strconv.FormatFloat(sampling.Downscale, 'f', -1, 64)); err != nil {
					return err
				}
			}
			part, err := form.CreateFormFile("video", filename)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, video); err != nil {
				return err
			}
			return form.Close()
		}()
		writer.CloseWithError(err)
	}()

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/landmarks", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", form.FormDataContentType())
	httpRequest.Header.Set("Accept", "application/msgpack, application/json")
	httpRequest.Header.Set("User-Agent", "rep-integrity/1.0")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		if response.StatusCode >= 400 && response.StatusCode < 500 {
			return nil, fmt.Errorf("%w (status %d): %s", ErrRejected, response.StatusCode, string(bodyBytes))
		}
		return nil, fmt.Errorf("pose service error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	format, err := framestore.FormatFromContentType(response.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	capture, err := framestore.Decode(response.Body, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pose service response: %w", err)
	}
	if capture.Sampling.Stride == 0 {
		capture.Sampling = sampling
	}
	return capture, nil
}

// Healthy reports the result of the most recent health check.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

func (c *Client) HealthCheck(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.healthy.Store(false)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.healthy.Store(false)
		return fmt.Errorf("pose service unhealthy (status %d)", response.StatusCode)
	}

	c.healthy.Store(true)
	return nil
}

func (c *Client) startHealthChecker() {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.config.HealthCheckInterval)
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Error("Pose service health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Pose service health check passed")
			}
			cancel()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) GetModelInfo(ctx context.Context) (map[string]any, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create model info request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model info request failed (status %d)", response.StatusCode)
	}

	var modelInfo map[string]any
	if err := json.NewDecoder(response.Body).Decode(&modelInfo); err != nil {
		return nil, fmt.Errorf("failed to decode model info: %w", err)
	}

	return modelInfo, nil
}

// Close stops the health checker.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
