// Package screen serves the call screen over HTTP.
//
// The JSON API exposes the session snapshot together with its layout and
// accepts the user intents (set credentials, join, leave and switch camera).
// A websocket at /ws streams a state frame on connect and after every
// session change. When a RemoteSimulator is configured, /api/sim routes
// inject engine callbacks so the screen can be exercised without a media
// stack.
package screen
