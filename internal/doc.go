// Package internal holds the supporting layers of the SDK that are not
// part of its public surface.
//
// # Architecture
//
// The internal tree is structured into several key packages:
//   - auth: OAuth2 client-credentials token acquisition and caching
//   - config: YAML configuration loading for the bundled CLI
//   - transport: Authenticated HTTP execution with rate limiting,
//     error classification and Prometheus metrics
//
// The public packages (tsigo, query, metadata) compose these layers;
// nothing outside the module can import them directly.
//
// For more information about specific packages, see their respective
// documentation.
package internal
