// Package cluster defines the messages exchanged between workers and the
// flashsync controller.
//
// The same structs travel over every transport: the gRPC Sync service encodes
// them with a JSON codec and the HTTP surface posts them as JSON bodies, so a
// worker can switch transports without changing its payloads.
//
// # Messages
//
//	Barrier:   {group, num_workers}                       → {generation}
//	Broadcast: {group, rank, root, num_workers, value}    → {value}
//	Exchange:  {group, session, rank, num_workers, value} → {values[rank]}
//
// Byte fields are base64 encoded in JSON. Group may be omitted; the empty name
// is the default group.
//
// # HTTP Helpers
//
// PostJSON and GetJSON wrap the HTTP surface. PostJSON sets no timeout of its
// own because rendezvous calls block until every member arrives; pass a context
// with a deadline to bound the wait.
package cluster
