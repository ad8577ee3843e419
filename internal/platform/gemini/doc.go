// Package gemini provides the Gemini-backed implementation of the model
// caller interface used by pipeline nodes.
package gemini
