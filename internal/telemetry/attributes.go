// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans so dashboards can rely on one
// spelling per concept.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Pool attributes
	PoolNameKey     = "pool.name"
	PoolInUseKey    = "pool.in_use"
	PoolIdleKey     = "pool.idle"
	PoolOverflowKey = "pool.overflow"
	PoolWaitersKey  = "pool.waiters"

	// Cache attributes
	CacheBackendKey = "cache.backend"
	CacheResultKey  = "cache.result"

	// Item attributes
	ItemIDKey = "item.id"

	// Job attributes
	JobNameKey     = "job.name"
	JobRunIDKey    = "job.run_id"
	JobOutcomeKey  = "job.outcome"
	JobDurationKey = "job.duration_ms"

	// Worker attributes
	WorkerNameKey  = "worker.name"
	WorkerStateKey = "worker.state"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes builds the common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// PoolAttributes describes a pool snapshot on a span.
func PoolAttributes(name string, inUse, idle, overflow, waiters int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PoolNameKey, name),
		attribute.Int(PoolInUseKey, inUse),
		attribute.Int(PoolIdleKey, idle),
		attribute.Int(PoolOverflowKey, overflow),
		attribute.Int(PoolWaitersKey, waiters),
	}
}

// CacheAttributes describes one cache lookup.
func CacheAttributes(backend, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CacheBackendKey, backend),
		attribute.String(CacheResultKey, result),
	}
}

// JobAttributes describes one scheduled job run.
func JobAttributes(name, runID, outcome string, durationMS int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(JobNameKey, name),
		attribute.String(JobOutcomeKey, outcome),
		attribute.Int64(JobDurationKey, durationMS),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(JobRunIDKey, runID))
	}
	return attrs
}

// WorkerAttributes describes a supervised worker.
func WorkerAttributes(name, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(WorkerNameKey, name),
		attribute.String(WorkerStateKey, state),
	}
}

// ErrorAttributes marks a span as failed with a stable error type.
func ErrorAttributes(errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
