// Package observability provides structured logging and metrics
// for the deal guardrail engine.
//
// This package implements:
//   - Structured logging with contextual fields (zap-based)
//   - Prometheus metrics for evaluations, violations, mutations and conflicts
//   - Request ID propagation into log lines
package observability
