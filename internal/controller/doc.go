// Package controller implements the flashsync control plane that sits between
// the transports and the coordination store.
//
// # Overview
//
// Workers of a distributed job call Barrier, Broadcast and Exchange over gRPC or
// HTTP. Every transport decodes the call into a cluster request and hands it to
// the Controller:
//
//	┌──────────┐   ┌──────────┐
//	│  gRPC    │   │  HTTP    │
//	└────┬─────┘   └────┬─────┘
//	     └──────┬───────┘
//	            ▼
//	┌───────────────────────┐
//	│      Controller       │
//	│  - admission limiter  │
//	│  - group resolution   │
//	│  - call logging       │
//	└───────────┬───────────┘
//	            ▼
//	┌───────────────────────┐      ┌────────────┐
//	│       Registry        │◄─────│  Watchdog  │
//	│  name → Group         │      └────────────┘
//	└───────────────────────┘
//
// # Core Components
//
// Controller: Call dispatcher
//   - Admits calls through a weighted semaphore bounding in-flight calls
//   - Resolves the caller's group, creating it on first use
//   - Logs every completion or failure with zap
//
// Registry: Named groups
//   - One rendezvous.Group per name, each with its own lock
//   - The empty name is the default group used by callers that send none
//
// Watchdog: Stall reporting
//   - Scans every group on a ticker
//   - Logs objects whose callers have waited longer than a threshold
//   - Purely observational
//
// # Admission
//
// A barrier of N workers completes only while all N calls are being served, so
// the in-flight bound has to be at least the largest group size or the
// controller deadlocks. A caller waiting for admission honors its context.
//
// # Errors
//
// Engine errors are wrapped with the operation name and keep their identity
// for errors.Is. Transports map them to status codes.
package controller
