package annotate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

// StaticMakeModelClassifier always returns the placeholder classification.
// It stands in until a real classifier service is configured.
type StaticMakeModelClassifier struct{}

func (s *StaticMakeModelClassifier) ClassifyMakeModel(_ context.Context, _ image.Image, _ geometry.Box) (MakeModel, error) {
	return FallbackMakeModel(), nil
}

// HTTPMakeModelClassifier sends a JPEG crop of the vehicle to an external
// classification service.
type HTTPMakeModelClassifier struct {
	address string
	client  *http.Client
}

// NewHTTPMakeModelClassifier creates a classifier client for the given
// host:port address.
func NewHTTPMakeModelClassifier(address string, timeout time.Duration) *HTTPMakeModelClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMakeModelClassifier{
		address: address,
		client:  &http.Client{Timeout: timeout},
	}
}

type makeModelRequest struct {
	ImageData string `json:"image_data"`
}

type makeModelResponse struct {
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
	Brand      string  `json:"brand"`
	BodyType   string  `json:"body_type"`
	Confidence float64 `json:"confidence"`
}

func (c *HTTPMakeModelClassifier) ClassifyMakeModel(ctx context.Context, frame image.Image, box geometry.Box) (MakeModel, error) {
	crop := cropRegion(frame, box)
	if crop == nil {
		return MakeModel{}, fmt.Errorf("degenerate vehicle region %v", box)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, crop, &jpeg.Options{Quality: 85}); err != nil {
		return MakeModel{}, fmt.Errorf("failed to encode vehicle crop: %w", err)
	}

	body, err := json.Marshal(makeModelRequest{
		ImageData: base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if err != nil {
		return MakeModel{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/classify", c.address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return MakeModel{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return MakeModel{}, fmt.Errorf("make/model request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MakeModel{}, fmt.Errorf("make/model service returned status %d", resp.StatusCode)
	}

	var out makeModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return MakeModel{}, fmt.Errorf("failed to decode make/model response: %w", err)
	}
	if !out.Success {
		return MakeModel{}, fmt.Errorf("make/model service error: %s", out.Error)
	}

	return MakeModel{Brand: out.Brand, BodyType: out.BodyType, Confidence: out.Confidence}, nil
}
