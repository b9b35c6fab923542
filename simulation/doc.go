// Package simulation provides in-memory implementations of the engine and
// permission ports.
//
// [SimulatedEngine] records every command it receives and lets a test or an
// operator push engine callbacks on demand. With AutoConfirm it answers join
// and leave requests with the matching success events, which is enough to
// drive a full call without a media stack:
//
//	engine := simulation.NewSimulatedEngine(simulation.EngineConfig{AutoConfirm: true})
//	ctrl, _ := session.NewController(engine, cfg)
//	_ = ctrl.Initialize(ctx)
//	_ = ctrl.Join(ctx)
//	_ = engine.EmitUserJoined(2000)
//
// [StaticAuthority] answers capability requests from a fixed deny list.
//
// Neither type performs real media or platform operations.
package simulation
