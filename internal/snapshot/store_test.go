package snapshot

import (
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/trafficlens/trafficlens/internal/geometry"
)

func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 0, 255})
		}
	}
	return img
}

func TestSaveCropsWithPadding(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	urlPath, err := store.Save(testFrame(640, 480), geometry.Box{X1: 100, Y1: 200, X2: 180, Y2: 300}, 1)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !strings.HasPrefix(urlPath, "/snapshots/snapshot_1_") {
		t.Errorf("url path = %q, want /snapshots/snapshot_1_* prefix", urlPath)
	}

	f, err := os.Open(filepath.Join(store.Dir(), filepath.Base(urlPath)))
	if err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("snapshot is not a valid JPEG: %v", err)
	}

	// 80x100 box plus 10px padding on each side.
	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 120 {
		t.Errorf("snapshot = %dx%d, want 100x120", b.Dx(), b.Dy())
	}
}

func TestSaveClampsAtFrameEdge(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	urlPath, err := store.Save(testFrame(640, 480), geometry.Box{X1: 600, Y1: 440, X2: 640, Y2: 480}, 2)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	f, err := os.Open(filepath.Join(store.Dir(), filepath.Base(urlPath)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 50 || b.Dy() != 50 {
		t.Errorf("snapshot = %dx%d, want 50x50", b.Dx(), b.Dy())
	}
}

func TestSaveScalesWideCrops(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	urlPath, err := store.Save(testFrame(1920, 1080), geometry.Box{X1: 100, Y1: 100, X2: 900, Y2: 500}, 3)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	f, err := os.Open(filepath.Join(store.Dir(), filepath.Base(urlPath)))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != maxWidth {
		t.Errorf("snapshot width = %d, want %d", b.Dx(), maxWidth)
	}
}

func TestSaveDegenerateRegion(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.Save(nil, geometry.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, 4); err == nil {
		t.Error("Save accepted a nil frame")
	}
}

func TestSavePlate(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	urlPath, err := store.SavePlate(testFrame(120, 40), 5)
	if err != nil {
		t.Fatalf("SavePlate failed: %v", err)
	}
	if !strings.HasPrefix(urlPath, "/snapshots/plate_5_") {
		t.Errorf("url path = %q", urlPath)
	}

	if _, err := store.SavePlate(nil, 6); err == nil {
		t.Error("SavePlate accepted a nil image")
	}
}
