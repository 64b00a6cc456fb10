// Package observability provides structured logging and Prometheus metrics
// for the console. The logger is a thin wrapper over log/slog emitting JSON;
// metrics cover the authorization gateway, the resource cascade loader, the
// shared KV store and the HTTP server.
package observability
