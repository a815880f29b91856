// File: protocol/count_spliter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"bytes"
	"strings"

	"github.com/momentics/hioload-srv/api"
)

// CountSpliterFilter emits a frame each time count spliter bytes have been
// seen, for formats like "#part1#part2#part3#".
type CountSpliterFilter struct {
	filterBase
	spliter byte
	count   int
	seen    int
	resolve FrameResolver
}

// NewCountSpliterFilter creates a spliter counting filter. A nil resolve
// parses frames into *StringPackage values keyed by the first part.
func NewCountSpliterFilter(spliter byte, count int, resolve FrameResolver) *CountSpliterFilter {
	if count <= 0 {
		panic("protocol: spliter count must be positive")
	}
	if resolve == nil {
		resolve = SplitResolver(spliter, 0)
	}
	return &CountSpliterFilter{spliter: spliter, count: count, resolve: resolve}
}

// SplitResolver returns a resolver that drops the outer spliters of a frame,
// splits the remainder and uses the part at keyIndex as package key.
func SplitResolver(spliter byte, keyIndex int) FrameResolver {
	sep := string(spliter)
	return func(frame []byte) (api.Package, error) {
		body := string(bytes.TrimPrefix(bytes.TrimSuffix(frame, []byte{spliter}), []byte{spliter}))
		parts := strings.Split(body, sep)
		pkg := &StringPackage{Body: body, Params: parts}
		if keyIndex < len(parts) {
			pkg.Name = parts[keyIndex]
		}
		return pkg, nil
	}
}

// Filter implements api.PipelineFilter.
func (f *CountSpliterFilter) Filter(window []byte) (api.Decoded, error) {
	stop := -1
	for i, c := range window {
		if c != f.spliter {
			continue
		}
		f.seen++
		if f.seen == f.count {
			stop = i + 1
			break
		}
	}
	if stop < 0 {
		return f.retain(window)
	}
	f.seen = 0
	pkg, err := f.resolve(f.take(window[:stop]))
	if err != nil {
		return f.fail(window, "split frame: %v", err)
	}
	return emitted(pkg, stop, len(window)), nil
}

// Reset implements api.PipelineFilter.
func (f *CountSpliterFilter) Reset() {
	f.reset()
	f.seen = 0
}
