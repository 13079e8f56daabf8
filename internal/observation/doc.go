// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package observation is the thin façade every task and HTTP handler uses to
read and write a session instead of calling internal/store directly.

It adds two ergonomic behaviors the store itself does not provide:

  - add_entry batches multiple named values under a single now_wall()
    snapshot, so they are comparable in time even though the store writes
    each one as a separate log row.
  - t0 resolves the session's creation timestamp, backfilling it for
    legacy sessions that predate the reserved parameter by taking the
    minimum first-log timestamp across every declared name and upserting
    it so later opens converge to a stable value.

Every write method returns apierr.ErrReadOnly immediately, without
touching the store, when the underlying session was opened read-only.
*/
package observation
