package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/trafficlens/trafficlens/internal/geometry"
	"github.com/trafficlens/trafficlens/internal/ingest"
)

// Client is an HTTP client for the external vehicle detection service.
type Client struct {
	mu         sync.Mutex
	httpClient *http.Client
	baseURL    string
	minConf    float64
	logger     *slog.Logger

	// Stats
	requestCount int64
	errorCount   int64
	totalLatency time.Duration
}

// ClientConfig holds detection client configuration.
type ClientConfig struct {
	Address       string
	Timeout       time.Duration
	MinConfidence float64
}

// NewClient creates a new detection service client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.5
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: fmt.Sprintf("http://%s", cfg.Address),
		minConf: cfg.MinConfidence,
		logger:  slog.Default().With("component", "detection_client"),
	}
}

// Detect sends a frame for detection and returns well-formed pixel-space
// detections. Boxes are clamped to the frame and degenerate or unknown
// results are dropped rather than surfaced as errors.
func (c *Client) Detect(ctx context.Context, frame *ingest.Frame) ([]Detection, error) {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	start := time.Now()

	body := map[string]interface{}{
		"min_confidence": c.minConf,
		"image_data":     base64.StdEncoding.EncodeToString(frame.Data),
	}
	jsonBody, err := json.Marshal(body)
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/detect", bytes.NewReader(jsonBody))
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	c.mu.Lock()
	c.totalLatency += time.Since(start)
	c.mu.Unlock()

	var result struct {
		Success    bool   `json:"success"`
		Error      string `json:"error"`
		Detections []struct {
			BBox       [4]int  `json:"bbox"`
			Class      string  `json:"class"`
			Confidence float64 `json:"confidence"`
		} `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !result.Success && result.Error != "" {
		c.countError()
		return nil, fmt.Errorf("detection failed: %s", result.Error)
	}

	detections := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		class := Class(d.Class)
		if !class.Valid() {
			continue
		}

		box := geometry.Box{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]}
		box = box.Clamp(frame.Width, frame.Height)
		if box.Area() == 0 {
			c.logger.Debug("Dropping degenerate detection box", "bbox", d.BBox)
			continue
		}

		detections = append(detections, Detection{
			Box:        box,
			Class:      class,
			Confidence: d.Confidence,
		})
	}

	return detections, nil
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// Stats returns request and error counts with average latency in ms.
func (c *Client) Stats() (requests, errors int64, avgLatencyMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requestCount > 0 {
		avgLatencyMs = float64(c.totalLatency.Milliseconds()) / float64(c.requestCount)
	}
	return c.requestCount, c.errorCount, avgLatencyMs
}
