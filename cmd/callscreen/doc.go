// Command callscreen serves a one-to-one call screen backed by a session
// controller.
//
// Settings come from CALLSCREEN_* environment variables; command-line
// flags override them. With the simulated engine the /api/sim routes let an
// operator inject remote participants and engine errors.
package main
