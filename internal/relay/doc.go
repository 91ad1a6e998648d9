// Package relay carries agent output to the clients in a room.
//
// The cloud agent service reports speech recognition and model output as HTTP
// callbacks. An Ingester turns those into room messages (Cmd 3 for
// transcripts, Cmd 4 for answers) and publishes them on a Hub, where each
// websocket member of the room has a buffered subscription.
package relay
