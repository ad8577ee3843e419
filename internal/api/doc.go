// Package api implements the HTTP layer: request parsing, validation,
// response shaping, and the mapping from internal errors to status codes.
// Handlers stay thin; the queue manager and pipeline executor own all
// domain logic.
package api
