package ingest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestJPEG(t *testing.T, path string, w, h int) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{100, 150, 200, 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatal(err)
	}
}

func TestDirSourceOrderAndEOF(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "frame_002.jpg"), 64, 48)
	writeTestJPEG(t, filepath.Join(dir, "frame_001.jpg"), 64, 48)
	writeTestJPEG(t, filepath.Join(dir, "frame_003.jpeg"), 64, 48)

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		frame, err := src.Grab(ctx)
		if err != nil {
			t.Fatalf("Grab %d failed: %v", i, err)
		}
		if frame.Index != i {
			t.Errorf("frame.Index = %d, want %d", frame.Index, i)
		}
		if frame.Width != 64 || frame.Height != 48 {
			t.Errorf("frame = %dx%d, want 64x48", frame.Width, frame.Height)
		}
	}

	if _, err := src.Grab(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Grab after last frame = %v, want io.EOF", err)
	}
}

func TestDirSourceEmptyDir(t *testing.T) {
	if _, err := NewDirSource(t.TempDir()); err == nil {
		t.Error("NewDirSource accepted a directory without frames")
	}
}

func TestHTTPSourceGrab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.jpg")
	writeTestJPEG(t, path, 320, 240)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	defer src.Close()

	frame, err := src.Grab(context.Background())
	if err != nil {
		t.Fatalf("Grab failed: %v", err)
	}
	if frame.Width != 320 || frame.Height != 240 {
		t.Errorf("frame = %dx%d, want 320x240", frame.Width, frame.Height)
	}
	if len(frame.Data) == 0 {
		t.Error("frame.Data empty, want raw JPEG bytes")
	}
}

func TestHTTPSourceBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL)
	defer src.Close()

	if _, err := src.Grab(context.Background()); err == nil {
		t.Error("Grab returned nil error for a 503 response")
	}
}

func TestStreamClosesOnSourceFailure(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "frame_001.jpg"), 64, 48)
	writeTestJPEG(t, filepath.Join(dir, "frame_002.jpg"), 64, 48)

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ch := Stream(context.Background(), src, 100)

	var frames int
	for range ch {
		frames++
	}
	if frames != 2 {
		t.Errorf("received %d frames, want 2", frames)
	}
}

func TestStreamCancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeTestJPEG(t, filepath.Join(dir, fmt.Sprintf("frame_%03d.jpg", i)), 64, 48)
	}

	src, err := NewDirSource(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := Stream(ctx, src, 100)

	<-ch
	cancel()

	// Buffered frames may still drain; the channel must close promptly.
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("stream did not close after cancellation")
	}
}
