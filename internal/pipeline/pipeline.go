// Package pipeline runs the frame loop: source, detector, tracker and
// counter in strict order, one frame in flight at a time. Emitted events
// go to the event service; the most recent frame state is published
// atomically for read-only consumers.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trafficlens/trafficlens/internal/annotate"
	"github.com/trafficlens/trafficlens/internal/bus"
	"github.com/trafficlens/trafficlens/internal/count"
	"github.com/trafficlens/trafficlens/internal/detect"
	"github.com/trafficlens/trafficlens/internal/event"
	"github.com/trafficlens/trafficlens/internal/ingest"
	"github.com/trafficlens/trafficlens/internal/overlay"
	"github.com/trafficlens/trafficlens/internal/roi"
	"github.com/trafficlens/trafficlens/internal/snapshot"
	"github.com/trafficlens/trafficlens/internal/track"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// FrameState is the read-only result of one completed frame cycle,
// published atomically after the cycle finishes. Annotated carries the
// frame with boxes, track ids and counting lines drawn on it.
type FrameState struct {
	Frame     *ingest.Frame
	Annotated image.Image
	Tracked   []track.TrackedDetection
	Events    []*event.PassageEvent
}

// DetectionUpdate is the per-frame summary published on the bus for live
// consumers.
type DetectionUpdate struct {
	FrameIndex int64                    `json:"frame_index"`
	TS         time.Time                `json:"ts"`
	Tracked    []track.TrackedDetection `json:"tracked"`
}

// SourceFactory opens a fresh frame source for a pipeline cycle.
type SourceFactory func() (ingest.Source, error)

// Config holds pipeline settings.
type Config struct {
	FPS     int
	Tracker track.Config
}

// Pipeline supervises the frame loop and restarts it on source failure.
// Tracker and counter state is discarded on every restart; identities are
// not preserved across cycles.
type Pipeline struct {
	cfg        Config
	newSource  SourceFactory
	detector   detect.Detector
	model      *roi.Model
	annotators annotate.Annotators
	snapshots  *snapshot.Store
	events     *event.Service
	bus        *bus.EventBus
	logger     *slog.Logger

	latest atomic.Pointer[FrameState]

	cancel  context.CancelFunc
	done    chan struct{}
	startMu sync.Mutex
	running bool
}

// New creates a pipeline. The snapshot store and bus may be nil.
func New(cfg Config, newSource SourceFactory, detector detect.Detector, model *roi.Model, annotators annotate.Annotators, snapshots *snapshot.Store, events *event.Service, eventBus *bus.EventBus) *Pipeline {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	return &Pipeline{
		cfg:        cfg,
		newSource:  newSource,
		detector:   detector,
		model:      model,
		annotators: annotators,
		snapshots:  snapshots,
		events:     events,
		bus:        eventBus,
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Start launches the supervisor loop.
func (p *Pipeline) Start(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.supervise(runCtx)

	p.publishState("running")
	p.logger.Info("Pipeline started", "fps", p.cfg.FPS)
	return nil
}

// Stop cancels the frame loop and waits for it to exit.
func (p *Pipeline) Stop() {
	p.startMu.Lock()
	defer p.startMu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
	p.publishState("stopped")
	p.logger.Info("Pipeline stopped")
}

func (p *Pipeline) publishState(state string) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(bus.SubjectPipelineState, map[string]string{"state": state}); err != nil {
		p.logger.Warn("Failed to publish pipeline state", "state", state, "error", err)
	}
}

// Latest returns the most recently completed frame state, or nil before
// the first frame.
func (p *Pipeline) Latest() *FrameState {
	return p.latest.Load()
}

// supervise runs cycles back to back, with backoff between failures. Each
// cycle gets a fresh source, tracker and counter.
func (p *Pipeline) supervise(ctx context.Context) {
	defer close(p.done)

	backoff := initialBackoff
	for {
		frames, err := p.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		pipelineRestarts.Inc()
		if err != nil {
			p.logger.Warn("Pipeline cycle ended", "frames", frames, "error", err)
		}

		if frames > 0 {
			backoff = initialBackoff
		}
		p.publishState("restarting")
		p.logger.Info("Restarting pipeline", "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// runCycle processes frames until the source fails or the context is
// cancelled. Returns the number of frames processed.
func (p *Pipeline) runCycle(ctx context.Context) (int64, error) {
	src, err := p.newSource()
	if err != nil {
		return 0, fmt.Errorf("failed to open source: %w", err)
	}
	defer src.Close()

	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := track.New(p.cfg.Tracker)
	counter := count.NewCounter(p.model, p.annotators, p.snapshots)

	var frames int64
	for frame := range ingest.Stream(cycleCtx, src, p.cfg.FPS) {
		p.step(ctx, frame, tracker, counter)
		frames++
	}

	return frames, fmt.Errorf("frame stream closed")
}

// step runs one frame through detector, tracker and counter, persists the
// counted events and publishes the frame state.
func (p *Pipeline) step(ctx context.Context, frame *ingest.Frame, tracker *track.Tracker, counter *count.Counter) {
	framesProcessed.Inc()
	lastFrameTimestamp.Set(float64(frame.Timestamp.Unix()))

	detections, err := p.detector.Detect(ctx, frame)
	if err != nil {
		detectorErrors.Inc()
		p.logger.Warn("Detector call failed, skipping frame", "frame", frame.Index, "error", err)
		return
	}
	detectionsTotal.Add(float64(len(detections)))

	tracked, expired := tracker.Update(detections)
	events := counter.ProcessFrame(ctx, frame, tracked)
	counter.Evict(expired)
	activeTracks.Set(float64(tracker.ActiveCount()))

	for _, ev := range events {
		passageEvents.Inc()
		if p.events != nil {
			if err := p.events.Create(ctx, ev); err != nil {
				p.logger.Error("Failed to persist passage event", "track_id", ev.TrackID, "error", err)
			}
		}
	}

	var annotated image.Image
	if frame.Image != nil {
		annotated = overlay.Render(frame.Image, tracked, p.model)
	}

	p.latest.Store(&FrameState{Frame: frame, Annotated: annotated, Tracked: tracked, Events: events})
	p.publishDetections(frame, tracked)
}

// publishDetections pushes the per-frame tracked detections to the bus.
func (p *Pipeline) publishDetections(frame *ingest.Frame, tracked []track.TrackedDetection) {
	if p.bus == nil {
		return
	}
	update := DetectionUpdate{FrameIndex: frame.Index, TS: frame.Timestamp, Tracked: tracked}
	if err := p.bus.Publish(bus.SubjectDetection, update); err != nil {
		p.logger.Warn("Failed to publish detection update", "frame", frame.Index, "error", err)
	}
}
