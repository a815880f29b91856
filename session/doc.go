// Package session holds the per-connection application state, the registry
// of live sessions and the idle sweeper that evicts inactive ones.
//
// A Session is created Initialized around a started-but-not-yet-reading
// connection, becomes Connected once registered, and reaches Closed exactly
// once when its connection closes.
package session
