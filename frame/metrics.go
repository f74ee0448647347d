package frame

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gogpu/voxrt/device"
)

const stageLabel = "stage"

// Metrics are the orchestrator's prometheus collectors.
type Metrics struct {
	frames        prometheus.Counter
	discarded     prometheus.Counter
	stageDuration *prometheus.HistogramVec
	uploads       prometheus.Counter
	uploadBytes   prometheus.Counter
	syncFailures  prometheus.Counter
	staleUploads  prometheus.Counter
	editsApplied  prometheus.Counter
	editsRejected prometheus.Counter
	deviceBytes   prometheus.Gauge
	renderScale   prometheus.Gauge
	epoch         prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		frames: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_frames",
			Help: "The number of frames presented.",
		}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_stale_discards",
			Help: "The number of dispatch results discarded because the frame epoch moved on.",
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voxrt_stage_duration_seconds",
			Help:    "The time spent in each frame stage.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{
			stageLabel,
		}),
		uploads: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_chunk_uploads",
			Help: "The number of chunks uploaded to the device.",
		}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_chunk_upload_bytes",
			Help: "The bytes uploaded to the device.",
		}),
		syncFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_sync_failures",
			Help: "The number of chunk syncs that failed and were left dirty.",
		}),
		staleUploads: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_stale_uploads",
			Help: "The number of upload completions discarded because the chunk buffer was released.",
		}),
		editsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_edits_applied",
			Help: "The number of voxel edits applied.",
		}),
		editsRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "voxrt_edits_rejected",
			Help: "The number of voxel edits rejected as out of bounds.",
		}),
		deviceBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxrt_device_bytes",
			Help: "The device memory reserved for chunk buffers.",
		}),
		renderScale: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxrt_render_scale",
			Help: "The current render resolution scale.",
		}),
		epoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxrt_epoch",
			Help: "The current resize epoch.",
		}),
	}
}

func (m *Metrics) observeStage(stage State, start time.Time) {
	m.stageDuration.With(prometheus.Labels{
		stageLabel: stage.String(),
	}).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeSync(rep device.SyncReport, used uint64) {
	m.uploads.Add(float64(len(rep.Uploaded)))
	m.uploadBytes.Add(float64(rep.Bytes))
	m.syncFailures.Add(float64(len(rep.Failed)))
	m.staleUploads.Add(float64(rep.Stale))
	m.deviceBytes.Set(float64(used))
}
