// Package interfaces defines the ports a call session controller depends on:
// the external real-time media engine and the platform permission authority.
//
// The engine is a black box that owns transport, codecs and network
// adaptation. This package only describes the command surface a controller
// drives and the callbacks the engine pushes back, so the same controller can
// run against a vendor SDK binding or the in-memory engine from the
// simulation package.
//
// # Engine
//
// [Engine] commands are fire-and-forget from the caller's point of view.
// Outcomes arrive asynchronously through the [EventHandler] registered with
// [Engine.RegisterEventHandler]:
//
//	if err := engine.Initialize(ctx, appID); err != nil {
//	    return err
//	}
//	_ = engine.RegisterEventHandler(handler)
//	_ = engine.SetClientRole(interfaces.ClientRoleBroadcaster)
//	_ = engine.StartPreview()
//	_ = engine.JoinChannel(token, "room1", interfaces.LocalParticipant, interfaces.ChannelMediaOptions{
//	    ChannelProfile: interfaces.ChannelProfileCommunication,
//	    ClientRole:     interfaces.ClientRoleBroadcaster,
//	})
//
// Handlers may be invoked from any goroutine owned by the engine. Consumers
// are expected to serialize them before touching shared state.
//
// # Permissions
//
// [PermissionAuthority] grants or denies runtime capabilities such as the
// microphone and the camera. Hosts that need no runtime grants simply do not
// provide one.
package interfaces
