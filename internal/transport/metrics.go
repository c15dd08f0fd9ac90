package transport

import (
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments outbound requests per endpoint. Register the
// collectors on whatever registry the host application uses.
type Metrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tsigo_requests_total",
				Help: "Outbound API requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tsigo_request_duration_seconds",
				Help:    "Outbound API request latency by endpoint.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}
}

// Register adds the collectors to reg. Call once at startup.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if err := reg.Register(m.Requests); err != nil {
		return err
	}
	return reg.Register(m.Latency)
}

// Observe records one finished request. A zero status means the request
// never got a response.
func (m *Metrics) Observe(urlPath string, status int, elapsed time.Duration) {
	endpoint := path.Base(urlPath)
	m.Requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.Latency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}
