// Package policy decides whether a candidate tool invocation may run.
//
// The Engine is a pure function of its configuration, the invocation, and the
// usage counters supplied by the caller. It never performs I/O.
package policy
