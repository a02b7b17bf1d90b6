// Package metrics exposes Prometheus counters for the extract and describe pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyframer_frames_sampled_total",
		Help: "Total number of frames decoded by the sampler",
	})

	KeyframesKeptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyframer_keyframes_kept_total",
		Help: "Total number of keyframes written",
	})

	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyframer_frames_dropped_total",
		Help: "Frames removed by the reduction filters, by stage",
	}, []string{"stage"})

	ReductionRoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "keyframer_reduction_rounds_total",
		Help: "Total number of reduction controller iterations",
	})

	FramesDescribedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "keyframer_frames_described_total",
		Help: "Frames classified by the description pipeline, by importance",
	}, []string{"importance"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keyframer_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})
)

// Drop stage labels.
const (
	StageHash      = "hash"
	StageSSIM      = "ssim"
	StageEmbedding = "embedding"
)
