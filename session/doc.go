// Package session implements the client-side call session state machine.
//
// A [Controller] owns one external media engine for its whole lifetime and
// reconciles the engine's asynchronous callbacks with an observable
// [Snapshot] that a rendering layer draws from. The engine itself (transport,
// codecs, network adaptation) is a black box behind [interfaces.Engine].
//
// # Lifecycle
//
// The controller moves through the phases of a single call attempt:
//
//	Uninitialized --Initialize--> Idle --Join--> Joining --join succeeded--> Joined
//	Joined --Leave--> Leaving --> Idle
//
// Initialize runs once. Join only issues the request; the session is
// joined when the engine confirms it. Leave updates the state immediately
// without waiting for the engine. Close releases the engine exactly once
// from any phase.
//
//	engine := simulation.NewSimulatedEngine(simulation.EngineConfig{AutoConfirm: true})
//	ctrl, err := session.NewController(engine, session.Config{
//	    Credentials: session.Credentials{
//	        ApplicationID: appID,
//	        AccessToken:   token,
//	        ChannelName:   "room1",
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer ctrl.Close()
//
//	if err := ctrl.Initialize(ctx); err != nil {
//	    return err
//	}
//	if err := ctrl.Join(ctx); err != nil {
//	    return err
//	}
//
// # Event Delivery
//
// Engine callbacks are queued in a bounded mailbox and applied by a single
// goroutine under the controller mutex, which commands also hold. An event
// generated while a command runs is applied after the command returns and
// observes its effects. Flush waits until queued events are applied, which
// keeps tests deterministic.
//
// # Remote Participants
//
// Remote participants are tracked as an ordered set. The primary
// participant, the one a two-party screen shows full size, is the most
// recently joined participant still present. Config.SingleRemoteSlot keeps
// a single slot instead: a second join overwrites the first and any leave
// clears it.
//
// Remote participants are only tracked while joined. Every transition out
// of the joined phase clears them.
//
// # Observing State
//
// Snapshot returns the latest state without blocking. Subscribe delivers a
// snapshot after every change; Layout turns a snapshot into what to render:
//
//	updates, cancel := ctrl.Subscribe()
//	defer cancel()
//	for snap := range updates {
//	    render(snap.Layout())
//	}
//
// # Error Handling
//
// Permission denials are logged and never block initialization. Engine
// initialization failures and engine runtime errors are logged as engine
// error events only. No operation is retried. Command precondition
// violations return sentinel errors such as [ErrNotInitialized] and
// [ErrClosed].
package session
