// Package agentapi is the chat client's view of solace-gateway: it starts and
// stops remote agent instances, forwards typed turns and fetches room tokens.
//
// Every call is JSON over HTTP. Gateway errors come back as {"error": "..."}
// and surface as *StatusError.
package agentapi
