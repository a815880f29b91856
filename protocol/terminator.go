// File: protocol/terminator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Delimiter framing: every package ends with a terminator sequence.

package protocol

import (
	"bytes"

	"github.com/momentics/hioload-srv/api"
)

// TerminatorFilter emits the bytes preceding each terminator as a package.
// The terminator itself is dropped.
type TerminatorFilter struct {
	filterBase
	terminator []byte
	resolve    FrameResolver
	scanned    int
}

// NewTerminatorFilter creates a delimiter filter. A nil resolve emits
// *BinaryPackage values.
func NewTerminatorFilter(terminator []byte, resolve FrameResolver) *TerminatorFilter {
	if len(terminator) == 0 {
		panic("protocol: empty terminator")
	}
	if resolve == nil {
		resolve = func(frame []byte) (api.Package, error) { return &BinaryPackage{Body: frame}, nil }
	}
	return &TerminatorFilter{terminator: bytes.Clone(terminator), resolve: resolve}
}

// NewLineFilter splits text commands on "\n", tolerating "\r\n", and parses
// each line with ParseCommandLine.
func NewLineFilter() *TerminatorFilter {
	return NewTerminatorFilter([]byte{'\n'}, func(frame []byte) (api.Package, error) {
		return ParseCommandLine(string(bytes.TrimSuffix(frame, []byte{'\r'})), " "), nil
	})
}

// Filter implements api.PipelineFilter.
func (f *TerminatorFilter) Filter(window []byte) (api.Decoded, error) {
	if len(f.buf) == 0 {
		idx := bytes.Index(window, f.terminator)
		if idx < 0 {
			f.scanned = len(window)
			return f.retain(window)
		}
		return f.emit(f.take(window[:idx]), idx+len(f.terminator), window)
	}

	// The terminator may straddle the retained bytes and the window.
	prev := len(f.buf)
	from := max(0, f.scanned-len(f.terminator)+1)
	f.buf = append(f.buf, window...)
	idx := bytes.Index(f.buf[from:], f.terminator)
	if idx < 0 {
		f.scanned = len(f.buf)
		return api.Decoded{Consumed: len(window)}, nil
	}
	idx += from
	frame := f.buf[:idx:idx]
	f.buf = nil
	return f.emit(frame, idx+len(f.terminator)-prev, window)
}

func (f *TerminatorFilter) emit(frame []byte, consumed int, window []byte) (api.Decoded, error) {
	f.scanned = 0
	pkg, err := f.resolve(frame)
	if err != nil {
		return f.fail(window, "terminated frame: %v", err)
	}
	return emitted(pkg, consumed, len(window)), nil
}

// Reset implements api.PipelineFilter.
func (f *TerminatorFilter) Reset() {
	f.reset()
	f.scanned = 0
}
