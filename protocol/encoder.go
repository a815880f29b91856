// File: protocol/encoder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Outbound framing matching the inbound filters.

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/momentics/hioload-srv/api"
)

// LengthPrefixEncoder prepends an unsigned length to outbound payloads.
type LengthPrefixEncoder struct {
	LenBytes     int
	LittleEndian bool
	// MaxLength bounds the body length; zero means the prefix limit.
	MaxLength int
}

// Encode joins payload parts into one length prefixed frame.
func (e LengthPrefixEncoder) Encode(payload ...[]byte) ([]byte, error) {
	var limit int64
	switch e.LenBytes {
	case 1:
		limit = math.MaxUint8
	case 2:
		limit = math.MaxUint16
	case 4:
		limit = math.MaxUint32
	default:
		return nil, api.WrapError(api.ErrCodeInvalidArgument, "length prefix encoder", errPrefixSize)
	}
	if e.MaxLength > 0 && int64(e.MaxLength) < limit {
		limit = int64(e.MaxLength)
	}

	n := 0
	for _, p := range payload {
		n += len(p)
	}
	if int64(n) > limit {
		return nil, fmt.Errorf("%w: message of %d bytes exceeds %d", api.ErrInvalidArgument, n, limit)
	}

	msg := make([]byte, e.LenBytes+n)
	var order binary.ByteOrder = binary.BigEndian
	if e.LittleEndian {
		order = binary.LittleEndian
	}
	switch e.LenBytes {
	case 1:
		msg[0] = byte(n)
	case 2:
		order.PutUint16(msg, uint16(n))
	case 4:
		order.PutUint32(msg, uint32(n))
	}
	l := e.LenBytes
	for _, p := range payload {
		l += copy(msg[l:], p)
	}
	return msg, nil
}

// TerminatorEncoder appends a terminator to outbound payloads.
type TerminatorEncoder struct {
	Terminator []byte
}

// Encode joins payload parts and appends the terminator.
func (e TerminatorEncoder) Encode(payload ...[]byte) ([]byte, error) {
	if len(e.Terminator) == 0 {
		return nil, fmt.Errorf("%w: empty terminator", api.ErrInvalidArgument)
	}
	n := len(e.Terminator)
	for _, p := range payload {
		n += len(p)
	}
	msg := make([]byte, 0, n)
	for _, p := range payload {
		msg = append(msg, p...)
	}
	return append(msg, e.Terminator...), nil
}

var (
	_ api.Encoder = LengthPrefixEncoder{}
	_ api.Encoder = TerminatorEncoder{}
)
