// File: api/pipeline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Contracts of the stateful decoding pipeline that turns a byte stream into packages.

package api

// Package is one fully decoded application-level message.
type Package any

// KeyedPackage is a package that can be routed by name.
type KeyedPackage interface {
	Key() string
}

// Decoded is the outcome of a single PipelineFilter.Filter call.
//
// Consumed + Rest always equals the length of the window passed in, and
// Consumed is at least one. A connection closes with CloseProtocolError
// when a filter breaks either rule.
// When Package is nil the filter buffered the whole window internally.
type Decoded struct {
	Package  Package
	Consumed int
	Rest     int
	// Next, when non-nil, replaces the current filter for the next call.
	Next PipelineFilter
}

// PipelineFilter is a resumable decoder for one protocol phase.
// Instances are owned by exactly one connection and are not goroutine safe.
type PipelineFilter interface {
	// Filter decodes at most one package from window. A non-nil error moves
	// the filter into FilterError; the caller must close with CloseProtocolError.
	Filter(window []byte) (Decoded, error)

	// LeftBufferSize returns the number of bytes retained internally that do
	// not yet form a complete package.
	LeftBufferSize() int

	// State reports whether the filter is still usable.
	State() FilterState

	// Reset drops buffered bytes and returns the filter to its initial phase.
	Reset()
}

// FilterFactory creates a fresh filter chain for a new connection.
type FilterFactory func() PipelineFilter

// Encoder frames outbound payloads for a given wire format.
type Encoder interface {
	Encode(payload ...[]byte) ([]byte, error)
}
