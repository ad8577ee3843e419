// Package queue implements the persisted background job queue: admission
// with optional de-duplication, priority dispatch under a global
// concurrency ceiling, retry scheduling with exponential backoff, crash
// recovery, and lifecycle event broadcasting.
//
// The Manager is explicitly constructed and dependency-injected with a
// JobStore and an events.Broadcaster; it keeps no state in memory beyond
// the count of currently running jobs. Work is performed by executors
// registered per job type; the queue treats payloads and results as opaque
// bytes.
package queue
