// Package observability builds the shared zap logger from gateway
// configuration. Metrics live in services/telemetry.
package observability
