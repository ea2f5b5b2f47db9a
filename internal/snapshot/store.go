// Package snapshot persists cropped vehicle images to disk for later
// review through the API.
package snapshot

import (
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

const (
	// Padding in pixels added around the vehicle box before cropping.
	cropPadding = 10
	// Crops wider than this are scaled down, preserving aspect ratio.
	maxWidth = 400

	jpegQuality = 85
)

// Store writes vehicle and plate snapshots under a directory and returns
// URL paths for serving them.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates the snapshot directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: slog.Default().With("component", "snapshot_store"),
	}, nil
}

// Dir returns the directory snapshots are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Save crops the vehicle region with padding, scales it down if needed,
// and writes it as a JPEG. Returns the URL path of the saved file.
func (s *Store) Save(frame image.Image, box geometry.Box, trackID int64) (string, error) {
	crop, err := s.crop(frame, box)
	if err != nil {
		return "", err
	}
	return s.write(crop, fmt.Sprintf("snapshot_%d_%d.jpg", trackID, time.Now().UnixMilli()))
}

// SavePlate writes a plate crop for a track. Returns the URL path of the
// saved file.
func (s *Store) SavePlate(plate image.Image, trackID int64) (string, error) {
	if plate == nil {
		return "", fmt.Errorf("no plate image for track %d", trackID)
	}
	return s.write(plate, fmt.Sprintf("plate_%d_%d.jpg", trackID, time.Now().UnixMilli()))
}

func (s *Store) crop(frame image.Image, box geometry.Box) (image.Image, error) {
	if frame == nil {
		return nil, fmt.Errorf("nil frame")
	}

	bounds := frame.Bounds()
	padded := box.Pad(cropPadding).Clamp(bounds.Dx(), bounds.Dy())
	w := padded.X2 - padded.X1
	h := padded.Y2 - padded.Y1
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("degenerate snapshot region %v", box)
	}

	crop := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(crop, crop.Bounds(), frame, image.Pt(bounds.Min.X+padded.X1, bounds.Min.Y+padded.Y1), xdraw.Src)

	if w <= maxWidth {
		return crop, nil
	}

	scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, h*maxWidth/w))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), crop, crop.Bounds(), xdraw.Over, nil)
	return scaled, nil
}

func (s *Store) write(img image.Image, name string) (string, error) {
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.logger.Debug("Snapshot saved", "file", name)
	return "/snapshots/" + name, nil
}
