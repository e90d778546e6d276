package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ResourceUploads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenerelay_resource_uploads_total",
		Help: "Number of successful device uploads",
	})

	ResourceUploadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenerelay_resource_upload_failures_total",
		Help: "Number of resources marked broken",
	}, []string{"reason"})

	ResourcesResident = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scenerelay_resources_resident",
		Help: "Number of resources currently resident on the device",
	})

	ResourceUploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenerelay_resource_upload_duration_seconds",
		Help:    "Duration of decompression plus device upload",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	FlushesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenerelay_flushes_applied_total",
		Help: "Number of flushes processed by the renderer",
	}, []string{"result"})

	FlushApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scenerelay_flush_apply_duration_seconds",
		Help:    "Duration of applying a single flush on the render thread",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	})

	FlushesProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenerelay_flushes_produced_total",
		Help: "Number of flushes sent to subscribers",
	}, []string{"kind"})

	ChunksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenerelay_chunks_received_total",
		Help: "Number of flush chunks received by the transport",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scenerelay_subscribers",
		Help: "Number of active scene subscriptions on the producer side",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scenerelay_command_queue_depth",
		Help: "Number of commands waiting for the render thread",
	})

	LinksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scenerelay_links_active",
		Help: "Number of active data links",
	})

	LinkRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scenerelay_link_rejections_total",
		Help: "Number of rejected data link requests",
	}, []string{"reason"})

	UploadsDeferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenerelay_resource_uploads_deferred_total",
		Help: "Number of resource uploads postponed by the upload budget",
	})

	ScenesExpired = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scenerelay_scenes_expired",
		Help: "Number of scenes whose content is past its expiration",
	})

	IllegalTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scenerelay_illegal_state_transitions_total",
		Help: "Number of rejected scene state transitions",
	})
)
