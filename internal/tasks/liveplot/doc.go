// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package liveplot implements the live-plot periodic task (spec §4.5.2): on
start, register a FigureSpec describing one or more logged variables, then
refresh a rendered image of their recent history once per second for as
long as the owning session runs.

Two backends are supported:

  - in_process: this package renders the PNG itself via renderLinePlot, a
    minimal line-chart renderer built on image/png — the corpus carries no
    charting library, so this is the one ambient concern in the repo built
    directly on the standard library (see DESIGN.md).
  - external: a child process is spawned per spec §6's inter-process
    socket protocol and tracked through supervisor.Session so ask_exit
    terminates it; this package only manages its lifecycle; the child does
    its own rendering and exposes it over the documented TCP protocol.
*/
package liveplot
