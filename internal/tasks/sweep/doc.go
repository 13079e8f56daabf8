// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package sweep implements the parameter-sweep periodic task (spec §4.5.3):
drive a named parameter through a fixed sequence of values, one per step,
broadcasting progress over the websocket hub as it goes.

It is a thin domain wrapper around supervisor.Sweep: this package supplies
the step function (write the parameter, wait a settle time, broadcast
progress) and the exhaustion behavior the generic helper intentionally
leaves to its caller — per spec §4.3, sweep sets running=false once every
value has been stepped through, but performs zero steps and leaves running
untouched if the session was already stopped at entry.
*/
package sweep
