package tsigo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tsanalytics/tsigo/query"
)

// Credentials identifies the service principal the SDK authenticates
// with.
type Credentials struct {
	ClientID     string
	ClientSecret string
	TenantID     string
}

// Config is assembled once at startup and passed by value into New.
// The SDK never reads environment variables itself; wiring env vars or
// files into this struct is the host application's job (the bundled CLI
// does it through internal/config).
type Config struct {
	// ApplicationName is sent with every request so the service can
	// attribute traffic.
	ApplicationName string

	// Environment is the display name used for discovery when
	// EnvironmentID is empty.
	Environment string

	// EnvironmentID short-circuits discovery when known.
	EnvironmentID string

	Credentials Credentials

	// APIVersion selects the wire shape; defaults to the current
	// version, which batches aggregates.
	APIVersion query.APIVersion

	// QueryConcurrency bounds concurrent sub-requests per call.
	QueryConcurrency int

	// RequestTimeout applies per wire request.
	RequestTimeout time.Duration

	// RateLimit caps outbound requests per second; zero disables the
	// client-side limiter. RateBurst is the burst allowance.
	RateLimit float64
	RateBurst int

	// MetricsRegistry, when set, receives the SDK's request counters
	// and latency histograms.
	MetricsRegistry prometheus.Registerer

	// BaseURL, GlobalURL and LoginURL override the service endpoints
	// for sovereign clouds and tests. Normally left empty.
	BaseURL   string
	GlobalURL string
	LoginURL  string
}

const defaultGlobalURL = "https://api.timeseries.azure.com"

func (c Config) withDefaults() Config {
	if c.APIVersion == "" {
		c.APIVersion = query.APIVersionCurrent
	}
	if c.QueryConcurrency <= 0 {
		c.QueryConcurrency = 4
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.GlobalURL == "" {
		c.GlobalURL = defaultGlobalURL
	}
	return c
}
