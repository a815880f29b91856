// File: protocol/fixed_header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header-then-body framing, including the common length prefixed variant.

package protocol

import (
	"encoding/binary"
	"errors"

	"github.com/momentics/hioload-srv/api"
)

// BodyLengthFunc reads the body length declared by a complete header.
type BodyLengthFunc func(header []byte) (int, error)

// HeaderBodyResolver converts a header and its body into a package.
type HeaderBodyResolver func(header, body []byte) (api.Package, error)

// FixedHeaderFilter decodes frames made of a fixed size header followed by a
// body whose length is declared in the header.
//
// The body is accumulated as it arrives and never preallocated from the
// declared length, so a hostile header cannot force a large allocation.
type FixedHeaderFilter struct {
	filterBase
	headerSize int
	bodyLength BodyLengthFunc
	resolve    HeaderBodyResolver

	header  []byte
	bodyLen int
}

// NewFixedHeaderFilter creates a header/body filter.
func NewFixedHeaderFilter(headerSize int, bodyLength BodyLengthFunc, resolve HeaderBodyResolver) *FixedHeaderFilter {
	if headerSize <= 0 {
		panic("protocol: header size must be positive")
	}
	if bodyLength == nil {
		panic("protocol: nil body length func")
	}
	if resolve == nil {
		resolve = func(header, body []byte) (api.Package, error) {
			return &BinaryPackage{Header: header, Body: body}, nil
		}
	}
	return &FixedHeaderFilter{headerSize: headerSize, bodyLength: bodyLength, resolve: resolve}
}

// LeftBufferSize includes a parsed header still waiting for its body.
func (f *FixedHeaderFilter) LeftBufferSize() int { return len(f.header) + len(f.buf) }

// Filter implements api.PipelineFilter.
func (f *FixedHeaderFilter) Filter(window []byte) (api.Decoded, error) {
	consumed := 0
	if f.header == nil {
		need := f.headerSize - len(f.buf)
		if len(window) < need {
			return f.retain(window)
		}
		header := f.take(window[:need])
		consumed = need
		n, err := f.bodyLength(header)
		if err != nil {
			return f.fail(window, "header: %v", err)
		}
		if n < 0 {
			return f.fail(window, "negative body length %d", n)
		}
		f.header, f.bodyLen = header, n
	}

	rem := window[consumed:]
	need := f.bodyLen - len(f.buf)
	if len(rem) < need {
		f.buf = append(f.buf, rem...)
		return api.Decoded{Consumed: len(window)}, nil
	}
	var body []byte
	if f.bodyLen > 0 {
		body = f.take(rem[:need])
	}
	header := f.header
	f.header, f.bodyLen = nil, 0
	pkg, err := f.resolve(header, body)
	if err != nil {
		return f.fail(window, "body: %v", err)
	}
	return emitted(pkg, consumed+need, len(window)), nil
}

// Reset implements api.PipelineFilter.
func (f *FixedHeaderFilter) Reset() {
	f.reset()
	f.header, f.bodyLen = nil, 0
}

var errPrefixSize = errors.New("length prefix must be 1, 2 or 4 bytes")

// NewLengthPrefixFilter decodes frames carrying a big or little endian
// unsigned length of lenBytes bytes ahead of the body. Packages are
// *BinaryPackage values with the prefix in Header.
func NewLengthPrefixFilter(lenBytes int, littleEndian bool) *FixedHeaderFilter {
	read, err := prefixReader(lenBytes, littleEndian)
	if err != nil {
		panic("protocol: " + err.Error())
	}
	return NewFixedHeaderFilter(lenBytes, func(header []byte) (int, error) {
		return int(read(header)), nil
	}, nil)
}

func prefixReader(lenBytes int, littleEndian bool) (func([]byte) uint32, error) {
	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}
	switch lenBytes {
	case 1:
		return func(b []byte) uint32 { return uint32(b[0]) }, nil
	case 2:
		return func(b []byte) uint32 { return uint32(order.Uint16(b)) }, nil
	case 4:
		return order.Uint32, nil
	}
	return nil, errPrefixSize
}
