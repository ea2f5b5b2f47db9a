package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficlens",
		Name:      "frames_processed_total",
		Help:      "Frames pulled from the source and run through the pipeline.",
	})

	detectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficlens",
		Name:      "detections_total",
		Help:      "Raw detections returned by the detector.",
	})

	passageEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficlens",
		Name:      "passage_events_total",
		Help:      "Passage events emitted by the counter.",
	})

	pipelineRestarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficlens",
		Name:      "pipeline_restarts_total",
		Help:      "Hard pipeline restarts after a source failure.",
	})

	detectorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trafficlens",
		Name:      "detector_errors_total",
		Help:      "Detector calls that failed and were skipped.",
	})

	activeTracks = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trafficlens",
		Name:      "active_tracks",
		Help:      "Tracks currently held by the tracker.",
	})

	lastFrameTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trafficlens",
		Name:      "last_frame_timestamp_seconds",
		Help:      "Unix time of the most recently processed frame.",
	})
)
