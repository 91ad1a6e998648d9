// Package dedupe tracks which message ids have already been applied so that
// replayed or repeated deliveries are ignored.
package dedupe
