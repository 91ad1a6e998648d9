// Package agent tracks the cloud agent instances the gateway has started.
//
// Each Instance is a hosted agent that joined an RTC room for one user. The
// Manager indexes instances by id and by room so callbacks, health reporting
// and shutdown can find them:
//
//	mgr := agent.NewManager(logger)
//	_ = mgr.Register(&agent.Instance{ID: id, RoomID: room, UserID: user})
//	defer mgr.StopAll(ctx, client.DeleteInstance)
//
// The Manager does not talk to the vendor itself; StopAll takes the stop
// function so the registry stays usable in tests without a network.
package agent
