// Package slots normalizes raw slot values into their canonical forms.
//
// Every canonical slot name has exactly one normalizer. A value that cannot
// be normalized returns an *InvalidError and must not be merged into state.
package slots
