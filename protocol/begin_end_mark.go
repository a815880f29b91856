// File: protocol/begin_end_mark.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bytes"

	"github.com/momentics/hioload-srv/api"
)

// BeginEndMarkFilter emits frames enclosed by a begin mark and an end mark.
// Frames handed to the resolver include both marks. Bytes ahead of a begin
// mark are discarded.
type BeginEndMarkFilter struct {
	filterBase
	begin, end []byte
	resolve    FrameResolver
	found      bool
	scanned    int
}

// NewBeginEndMarkFilter creates a mark delimited filter. A nil resolve emits
// *BinaryPackage values with the marks stripped from Body.
func NewBeginEndMarkFilter(begin, end []byte, resolve FrameResolver) *BeginEndMarkFilter {
	if len(begin) == 0 || len(end) == 0 {
		panic("protocol: empty mark")
	}
	if resolve == nil {
		bl, el := len(begin), len(end)
		resolve = func(frame []byte) (api.Package, error) {
			return &BinaryPackage{Body: frame[bl : len(frame)-el]}, nil
		}
	}
	return &BeginEndMarkFilter{begin: bytes.Clone(begin), end: bytes.Clone(end), resolve: resolve}
}

// Filter implements api.PipelineFilter.
func (f *BeginEndMarkFilter) Filter(window []byte) (api.Decoded, error) {
	if len(f.buf) == 0 && !f.found {
		if d, ok, err := f.filterWindow(window); ok {
			return d, err
		}
	}
	prev := len(f.buf)
	f.buf = append(f.buf, window...)

	if !f.found {
		pos := bytes.Index(f.buf, f.begin)
		if pos < 0 {
			// Keep only a tail that may still grow into a begin mark.
			keep := min(len(f.buf), len(f.begin)-1)
			f.buf = append(f.buf[:0], f.buf[len(f.buf)-keep:]...)
			if len(f.buf) == 0 {
				f.buf = nil
			}
			return api.Decoded{Consumed: len(window)}, nil
		}
		if pos > 0 {
			f.buf = append(f.buf[:0], f.buf[pos:]...)
			prev -= pos
		}
		f.found = true
		f.scanned = len(f.begin)
	}

	from := max(len(f.begin), f.scanned-len(f.end)+1)
	idx := bytes.Index(f.buf[from:], f.end)
	if idx < 0 {
		f.scanned = len(f.buf)
		return api.Decoded{Consumed: len(window)}, nil
	}
	stop := from + idx + len(f.end)
	frame := f.buf[:stop:stop]
	f.buf = nil
	f.found, f.scanned = false, 0
	consumed := stop - prev
	pkg, err := f.resolve(frame)
	if err != nil {
		return f.fail(window, "marked frame: %v", err)
	}
	return emitted(pkg, consumed, len(window)), nil
}

// filterWindow decodes a frame lying entirely inside window without
// buffering it first.
func (f *BeginEndMarkFilter) filterWindow(window []byte) (api.Decoded, bool, error) {
	pos := bytes.Index(window, f.begin)
	if pos < 0 {
		return api.Decoded{}, false, nil
	}
	idx := bytes.Index(window[pos+len(f.begin):], f.end)
	if idx < 0 {
		return api.Decoded{}, false, nil
	}
	stop := pos + len(f.begin) + idx + len(f.end)
	pkg, err := f.resolve(bytes.Clone(window[pos:stop]))
	if err != nil {
		d, err := f.fail(window, "marked frame: %v", err)
		return d, true, err
	}
	return emitted(pkg, stop, len(window)), true, nil
}

// Reset implements api.PipelineFilter.
func (f *BeginEndMarkFilter) Reset() {
	f.reset()
	f.found, f.scanned = false, 0
}
