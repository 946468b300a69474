// Package rendezvous provides the coordination state machine behind the flashsync
// controller: barriers, broadcasts and exchanges for fixed-size groups of workers
// that call in concurrently and in no particular order.
//
// # Overview
//
// A distributed computation such as a multi-phase reduction needs a control plane
// that lets its workers line up between phases and agree on small values (a chosen
// root's parameters, connection records). This package keeps that state in memory,
// one Group per named worker group:
//
//	┌──────────────────────────────────────┐
//	│               Group                  │
//	├──────────────────────────────────────┤
//	│  mu: one mutex for all bookkeeping   │
//	│                                      │
//	│  epochs:   generation → arrivals     │
//	│  rounds:   round      → slot         │
//	│  cursors:  rank       → next round   │
//	│  sessions: session id → records      │
//	└──────────────────────────────────────┘
//
// # Barrier
//
// Barrier is a generation-counted counting barrier. Arrivals are counted against the
// single open generation. The caller that brings the count to num_workers fires the
// generation's release signal and opens the next generation in the same critical
// section, so two generations' counts are never conflated. Waiters depart after the
// release and the last one out deletes the epoch.
//
// # Broadcast
//
// Broadcast hands the root's value to every rank. The protocol carries no operation
// id: a rank's k-th broadcast joins round k, tracked by a per-rank cursor. Rounds are
// stored by number, so several rounds can be in flight at once without a rank still
// draining round k observing the value posted for round k+1.
//
//	rank 0 (root):  post V1 ─────── post V2 ────────────
//	rank 1:          ── read V1 ──────────── read V2 ───
//	rank 2:          ─────────────── read V1 ── read V2 ─
//
// A slot holds one bit per rank and is deleted when every bit is set.
//
// # Exchange
//
// Exchange is an all-gather keyed by an explicit session id: every rank posts a
// record and receives all of them. Workers use it to swap endpoint descriptions.
//
// # Concurrency Model
//
//   - One mutex per Group; it is held only for bookkeeping, never while waiting
//   - Release signals are closed channels created fresh for every epoch, slot and
//     session, so a stale signal from an earlier round can never be observed
//   - A release happens-before every waiter's wake; a root's post happens-before
//     every read of its value
//   - Values are copied on the way in and on the way out
//
// # Cancellation
//
// Every blocking call takes a context. A caller that gives up before its release
// fires has its contribution removed (barrier arrival, exchange record) or left
// unconsumed (broadcast bit), and the call returns ctx.Err(). With a background
// context a call whose group never completes blocks forever; nothing here detects
// that, though the controller's watchdog reports it.
//
// # Trust Model
//
// num_workers is taken from each call and is not cross-checked between callers of
// the same logical operation. The group size is expected to be fixed by external
// configuration of the job.
package rendezvous
