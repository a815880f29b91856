// Package protocol provides the stateful pipeline filters that cut an inbound
// byte stream into packages, and the matching outbound encoders.
//
// Every filter satisfies api.PipelineFilter. Filters copy the bytes of each
// package they emit, so the window handed to Filter may be reused by the
// caller as soon as the call returns.
package protocol
