// File: protocol/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared state of all pipeline filters and the handshake chain helper.

package protocol

import (
	"fmt"

	"github.com/momentics/hioload-srv/api"
)

// filterBase keeps the bytes retained between Filter calls and the filter phase.
type filterBase struct {
	buf   []byte
	state api.FilterState
}

// LeftBufferSize reports the undecoded bytes held by the filter.
func (b *filterBase) LeftBufferSize() int { return len(b.buf) }

// State reports whether the filter is usable.
func (b *filterBase) State() api.FilterState { return b.state }

func (b *filterBase) reset() {
	b.buf = nil
	b.state = api.FilterNormal
}

// retain buffers the whole window and reports it as consumed.
func (b *filterBase) retain(window []byte) (api.Decoded, error) {
	b.buf = append(b.buf, window...)
	return api.Decoded{Consumed: len(window)}, nil
}

// fail moves the filter into FilterError. The window counts as consumed.
func (b *filterBase) fail(window []byte, format string, args ...any) (api.Decoded, error) {
	b.buf = nil
	b.state = api.FilterError
	return api.Decoded{Consumed: len(window)}, fmt.Errorf("%w: %s", api.ErrProtocol, fmt.Sprintf(format, args...))
}

// take hands out the retained bytes plus head as one fresh slice.
func (b *filterBase) take(head []byte) []byte {
	var frame []byte
	if len(b.buf) == 0 {
		frame = make([]byte, len(head))
		copy(frame, head)
	} else {
		frame = append(b.buf, head...)
	}
	b.buf = nil
	return frame
}

func emitted(pkg api.Package, consumed, window int) api.Decoded {
	return api.Decoded{Package: pkg, Consumed: consumed, Rest: window - consumed}
}

// chainFilter switches to another filter after the first package is decoded.
type chainFilter struct {
	api.PipelineFilter
	next func() api.PipelineFilter
}

// Chain wraps first so that, once it emits a package, the connection switches
// to the filter built by next. Bytes past the package stay in the window and
// are decoded by the new filter. A Next set by first itself takes precedence.
func Chain(first api.PipelineFilter, next func() api.PipelineFilter) api.PipelineFilter {
	return &chainFilter{PipelineFilter: first, next: next}
}

func (c *chainFilter) Filter(window []byte) (api.Decoded, error) {
	d, err := c.PipelineFilter.Filter(window)
	if err != nil || d.Package == nil {
		return d, err
	}
	if d.Next == nil && c.next != nil {
		d.Next = c.next()
	}
	return d, nil
}
