// Package rtc is the client side of the realtime room connection.
//
// A room carries JSON RoomMessage envelopes from the agent to the user:
// Cmd 3 for speech recognition results and Cmd 4 for streamed replies.
// WSTransport implements Transport against the gateway's websocket relay.
package rtc
