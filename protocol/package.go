// File: protocol/package.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package types produced by the built-in filters.

package protocol

import "strings"

// BinaryPackage is a raw frame. Header is empty for filters without one.
type BinaryPackage struct {
	Header []byte
	Body   []byte
}

// StringPackage is a text command: a key followed by its parameters.
type StringPackage struct {
	Name   string
	Body   string
	Params []string
}

// Key implements api.KeyedPackage.
func (p *StringPackage) Key() string { return p.Name }

// ParseCommandLine splits "KEY p1 p2" into a StringPackage. Body holds the
// text after the first delimiter, and Params holds Body split on delimiter
// with empty fields dropped.
func ParseCommandLine(line, delimiter string) *StringPackage {
	line = strings.TrimSpace(line)
	name, body, _ := strings.Cut(line, delimiter)
	body = strings.TrimSpace(body)
	var params []string
	for _, p := range strings.Split(body, delimiter) {
		if p != "" {
			params = append(params, p)
		}
	}
	return &StringPackage{Name: name, Body: body, Params: params}
}
