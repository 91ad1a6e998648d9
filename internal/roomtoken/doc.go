// Package roomtoken mints the short-lived tokens clients present to join an
// RTC room, and verifies them when the gateway relays room traffic itself.
package roomtoken
