// Package gateway serves the HTTP API behind the solace voice chat clients.
//
// # Overview
//
// The gateway holds the cloud agent credentials so clients never see them.
// It starts and stops hosted agent instances, forwards typed turns, mints
// room tokens and relays the agent's speech recognition and reply stream to
// room members over a websocket.
//
// # Endpoints
//
//	POST /api/start              start an agent instance in a room
//	POST /api/stop               stop an agent instance
//	POST /api/send-message       send a typed turn to an instance
//	GET  /api/token              mint a room token
//	POST /api/callbacks          receive agent events from the cloud service
//	GET  /api/instances          list instances started by this gateway
//	GET  /api/rooms/{id}/ws      websocket stream of room messages
//	GET  /health                 liveness and configuration report
//	GET  /health/ready           readiness
//	GET  /metrics                Prometheus metrics, when enabled
//
// Errors are returned as {"error": "..."}.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown stops every instance the gateway started before returning.
package gateway
