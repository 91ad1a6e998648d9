// ABOUTME: Test-only access to Client internals for the external test package
// ABOUTME: Lets tests pin the clock used for signed timestamps

package cloudagent

import "time"

// SetClock replaces the clock used for request timestamps and agent ids.
func SetClock(c *Client, now func() time.Time) {
	c.now = now
}
