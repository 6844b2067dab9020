package ml

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/framestore"
	"github.com/san-kum/rep-integrity/server/models"
)

func testConfig() ClientConfig {
	return ClientConfig{Timeout: 5 * time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}
}

func tinyCapture() *models.Capture {
	return &models.Capture{
		Exercise: "pushup",
		Sampling: models.Sampling{Stride: 2, Downscale: 0.75},
		Frames: []models.LandmarkFrame{{
			FrameIndex: 0, Present: true,
			Landmarks: map[string]models.Landmark{models.Nose: {X: 0.5, Y: 0.2, Confidence: 0.9}},
		}},
		RawFrames: []models.RawFrame{{FrameIndex: 0, Width: 1, Height: 1, Channels: 3, Pixels: []byte{1, 2, 3}}},
	}
}

func TestExtractCapture(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/landmarks", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "2", r.FormValue("stride"))
		assert.Equal(t, "0.75", r.FormValue("downscale"))

		file, header, err := r.FormFile("video")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, "clip.mp4", header.Filename)
		assert.Equal(t, "fake video bytes", string(data))

		if attempts.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/msgpack")
		assert.NoError(t, framestore.Encode(w, tinyCapture(), framestore.FormatMsgpack))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)
	defer client.Close()

	capture, err := client.ExtractCapture(context.Background(), bytes.NewReader([]byte("fake video bytes")),
		"clip.mp4", models.Sampling{Stride: 2, Downscale: 0.75})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, "pushup", capture.Exercise)
	require.Len(t, capture.Frames, 1)
	assert.Equal(t, []byte{1, 2, 3}, capture.RawFrames[0].Pixels)
}

func TestExtractCaptureGivesUp(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = client.ExtractCapture(context.Background(), bytes.NewReader(nil), "a.mp4", models.Sampling{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestExtractCaptureDoesNotRetryRejections(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unsupported codec", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)

	_, err = client.ExtractCapture(context.Background(), bytes.NewReader([]byte("x")), "a.avi", models.Sampling{})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	var up atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && up.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, testConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, client.HealthCheck(context.Background()))
	assert.False(t, client.Healthy())

	up.Store(true)
	require.NoError(t, client.HealthCheck(context.Background()))
	assert.True(t, client.Healthy())
}

func TestNewClientRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient("not a url", testConfig(), zap.NewNop())
	assert.Error(t, err)
}
