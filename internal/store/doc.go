// asyncsession - experiment monitoring and acquisition engine
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package store is the durable, indexed backend for one experiment session:
scalar logs, dataset blobs, parameters, metadata, and live-plot figure
specs, all embedded in a single DuckDB file.

Schema versions

The on-disk layout has evolved through v1, v3, v3.1, v4, and v4.1. Store
always creates new sessions at the latest schema (v4.1). Opening an older
file is read-only compatible: queries against tables a given version lacks
(metadata before v4, figures before v4.1) simply return empty results
instead of failing.

Delay-save

When delay_save is requested, Store opens a second, in-memory DuckDB
connection (the shadow) that serves every read and write for the lifetime
of the session. flush_to_disk copies the shadow's tables into the on-disk
file inside one transaction per table; if the process dies before that
happens, writes since the last flush are lost. This trades durability for
write throughput on fast-sampling sessions.

Timestamp collisions

insert_log enforces a UNIQUE(name, ts) constraint. Bursty callers on
coarse clocks can produce ties; on a constraint violation the writer
advances the timestamp by one microsecond and retries until it lands on a
free slot, recording each retry as a Prometheus counter increment.
*/
package store
