// Package cluster holds the state a worker shares between its main path
// and its termination path once it has joined a cohort.
//
// # Group
//
// A [Group] is the ordered list of worker endpoints the coordinator sends
// during registration. A worker's rank is its 1-based position in the
// group; rank 0 is reserved for the coordinator itself.
//
// # Context
//
// A [Context] is created exactly once, by a successful handshake. It holds
// the final rank, the coordinator endpoint, the group, the two message tags
// issued by the coordinator and the merged configuration. The coordinator
// reference it owns is released by [Context.Close], at most once.
//
// # Registration
//
// [Registration] is the handle shared between the main path and the
// asynchronous termination handler. It is lock-free: an atomic flag plus an
// atomically published *Context. [Registration.Publish] is the only
// false→true transition and [Registration.Clear] the only true→false one.
//
// # Membership store
//
// Coordinators record the workers they admitted in a [Store]. Backends live
// under store/.
package cluster
