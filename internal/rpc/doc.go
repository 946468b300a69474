// Package rpc exposes the controller as the gRPC service flashsync.Sync.
//
// The service has three unary methods, Barrier, Broadcast and Exchange, whose
// messages are the cluster structs. They are registered with a hand-written
// ServiceDesc and travel under the "json" content-subtype; the standard health
// service on the same server keeps the proto codec.
//
// Status codes:
//
//	InvalidArgument   num_workers == 0, rank or root out of range
//	AlreadyExists     rank already posted into a live exchange session
//	Canceled          caller canceled while blocked
//	DeadlineExceeded  caller's deadline expired while blocked
//
// Calls block on the server until the rendezvous completes. A worker that wants
// to bound the wait sets a deadline on its context; the server then withdraws
// its contribution.
package rpc
