// Package events defines the lifecycle notification types and the
// Broadcaster interface used to publish them. Broadcasting is fire and
// forget: producers never learn whether anyone was listening, and
// subscriber list management belongs to the transport layer.
package events
