// Package ingest provides frame acquisition for the traffic pipeline.
// Frames come either from an HTTP still endpoint (camera restreamer) or
// from a directory of JPEG files for file-based runs.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Frame is a decoded raster image pulled from a source.
type Frame struct {
	Index     int64
	Timestamp time.Time
	Image     image.Image
	Data      []byte // Raw JPEG bytes as received
	Width     int
	Height    int
}

// Source produces frames one at a time. Grab blocks until a frame is
// available, the context is cancelled, or the source fails. A failed or
// exhausted source returns an error and must be released with Close.
type Source interface {
	Grab(ctx context.Context) (*Frame, error)
	Close() error
}

// HTTPSource fetches JPEG stills from an HTTP endpoint such as a go2rtc
// frame API or an MJPEG restreamer still URL.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	frameID    int64
	logger     *slog.Logger
}

// NewHTTPSource creates a source that grabs stills from the given URL.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With("component", "http_source"),
	}
}

// Grab fetches and decodes a single frame.
func (s *HTTPSource) Grab(ctx context.Context) (*Frame, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	s.frameID++
	bounds := img.Bounds()

	return &Frame{
		Index:     s.frameID,
		Timestamp: time.Now(),
		Image:     img,
		Data:      data,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

// Close releases the source.
func (s *HTTPSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// DirSource iterates over the JPEG files of a directory in name order,
// returning io.EOF when the sequence is exhausted.
type DirSource struct {
	files   []string
	pos     int
	frameID int64
}

// NewDirSource creates a source over the .jpg/.jpeg files in dir.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, fmt.Errorf("no jpeg frames in %s", dir)
	}

	return &DirSource{files: files}, nil
}

// Grab decodes the next frame in the sequence.
func (s *DirSource) Grab(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.files) {
		return nil, io.EOF
	}

	data, err := os.ReadFile(s.files[s.pos])
	if err != nil {
		return nil, fmt.Errorf("failed to read frame file: %w", err)
	}
	s.pos++

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	s.frameID++
	bounds := img.Bounds()

	return &Frame{
		Index:     s.frameID,
		Timestamp: time.Now(),
		Image:     img,
		Data:      data,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
	}, nil
}

// Close releases the source.
func (s *DirSource) Close() error {
	s.pos = len(s.files)
	return nil
}

// Stream pulls frames from src at the given rate onto a bounded channel.
// Frames are dropped when the consumer falls behind. The channel is closed
// when the context is cancelled or the source fails.
func Stream(ctx context.Context, src Source, fps int) <-chan *Frame {
	if fps <= 0 {
		fps = 5
	}

	logger := slog.Default().With("component", "ingest_stream")
	frameCh := make(chan *Frame, 10)
	interval := time.Second / time.Duration(fps)

	go func() {
		defer close(frameCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame, err := src.Grab(ctx)
				if err != nil {
					logger.Warn("Failed to grab frame", "error", err)
					return
				}

				select {
				case frameCh <- frame:
				default:
					logger.Debug("Dropped frame", "frame", frame.Index)
				}
			}
		}
	}()

	return frameCh
}

// EncodeJPEG converts an image to JPEG bytes.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
