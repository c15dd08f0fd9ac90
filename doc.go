// Package tsigo is a client SDK for cloud time-series analytics
// environments. It authenticates with service principal credentials,
// resolves series names and descriptions to canonical ids, and fetches
// aggregated historical readings as a single time-indexed table.
//
// # Architecture
//
// The SDK is structured into several key packages:
//   - tsigo: the client facade composing the pipeline
//   - query: request planning, series resolution and response merging
//   - metadata: environment discovery and registry listings
//   - internal/auth: token acquisition and caching
//   - internal/transport: authenticated requests, rate limiting, metrics
//
// Key behavior:
//
//   - Chunking:
//     Spans whose sample count exceeds the service's per-request cap
//     are split into contiguous sub-requests and merged back into one
//     table.
//
//   - Partial failure:
//     A failed sub-request degrades only its own cells to missing; the
//     failure report on the returned table lists what was lost.
//
//   - Concurrency:
//     Sub-requests run concurrently under a configurable limit, and
//     completion order never changes the merged result.
//
// Example usage:
//
//	client, err := tsigo.New(tsigo.Config{
//	    ApplicationName: "analytics-dashboard",
//	    Environment:     "Production",
//	    Credentials: tsigo.Credentials{
//	        ClientID:     os.Getenv("TSI_CLIENT_ID"),
//	        ClientSecret: os.Getenv("TSI_CLIENT_SECRET"),
//	        TenantID:     os.Getenv("TSI_TENANT_ID"),
//	    },
//	}, logrus.New())
//
//	table, err := client.GetDataByName(ctx,
//	    []string{"GeneratorSpeed"},
//	    query.NewTimeSpan(from, to),
//	    "PT5M",
//	    []string{"avg", "max"},
//	    false,
//	)
package tsigo
