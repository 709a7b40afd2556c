// Package metrics wraps the Prometheus collectors and system gauges
// exposed by the chat server's metrics HTTP listener.
package metrics

import (
	"net/http"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry wraps the Prometheus collectors used by the chat server.
type Registry struct {
	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	MessagesBroadcast prometheus.Counter
	MessagesDropped   prometheus.Counter
	HistoryEvictions  prometheus.Counter
	RoomsReaped       prometheus.Counter
	DecodeErrors      prometheus.Counter
}

// NewRegistry creates the Prometheus metrics collectors for this service.
func NewRegistry() *Registry {
	return &Registry{
		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_rooms_active",
			Help: "Number of rooms currently tracked by the Hub.",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chat_connections_active",
			Help: "Number of active client connections.",
		}),
		MessagesBroadcast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_broadcast_total",
			Help: "Total number of ServerEvents broadcast by all rooms.",
		}),
		MessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_messages_dropped_total",
			Help: "Total number of frames dropped due to a lagging subscriber.",
		}),
		HistoryEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_history_evictions_total",
			Help: "Total number of history frames evicted once a room's ring filled.",
		}),
		RoomsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_rooms_reaped_total",
			Help: "Total number of rooms removed by the TTL sweeper.",
		}),
		DecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chat_decode_errors_total",
			Help: "Total number of inbound frames that failed to decode.",
		}),
	}
}

// Handler returns the HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// SystemSnapshot is a point-in-time view of process resource usage,
// surfaced on the /health endpoint alongside the list of live rooms.
type SystemSnapshot struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	RSSMB       float64 `json:"rss_mb"`
}

// CollectSystemSnapshot reads current process memory and goroutine counts.
// RSS collection is best-effort: if gopsutil cannot read /proc (containers
// without procfs, permission issues) the field is left at zero rather than
// failing the health check.
func CollectSystemSnapshot() SystemSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := SystemSnapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			snap.RSSMB = float64(info.RSS) / (1024 * 1024)
		}
	}

	return snap
}
