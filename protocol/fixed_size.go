// File: protocol/fixed_size.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "github.com/momentics/hioload-srv/api"

// FrameResolver converts a complete frame into a package.
type FrameResolver func(frame []byte) (api.Package, error)

// FixedSizeFilter emits a package for every size bytes of input.
type FixedSizeFilter struct {
	filterBase
	size    int
	resolve FrameResolver
}

// NewFixedSizeFilter creates a filter for frames of exactly size bytes.
// A nil resolve emits *BinaryPackage values.
func NewFixedSizeFilter(size int, resolve FrameResolver) *FixedSizeFilter {
	if size <= 0 {
		panic("protocol: fixed size must be positive")
	}
	if resolve == nil {
		resolve = func(frame []byte) (api.Package, error) { return &BinaryPackage{Body: frame}, nil }
	}
	return &FixedSizeFilter{size: size, resolve: resolve}
}

// Filter implements api.PipelineFilter.
func (f *FixedSizeFilter) Filter(window []byte) (api.Decoded, error) {
	need := f.size - len(f.buf)
	if len(window) < need {
		return f.retain(window)
	}
	pkg, err := f.resolve(f.take(window[:need]))
	if err != nil {
		return f.fail(window, "fixed size frame: %v", err)
	}
	return emitted(pkg, need, len(window)), nil
}

// Reset implements api.PipelineFilter.
func (f *FixedSizeFilter) Reset() { f.reset() }
