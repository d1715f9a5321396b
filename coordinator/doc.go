// Package coordinator implements the coordinator side of the cohort
// registration handshake.
//
// A Coordinator waits for a fixed number of workers to send a registration
// request, orders them into a process group, replies to each with the group,
// its configuration and a pair of freshly issued channel tags, then collects
// the confirmations and acknowledges them. After the group is formed, Serve
// tracks departures: deregistrations, error reports and lost links.
//
//	comm := mp.New(endpoint.MustParse(".:20000"))
//	coord := coordinator.New(comm, 4, coordinator.WithStore(memory.New()))
//	if err := comm.Start(ctx); err != nil { ... }
//	group, err := coord.Gather(ctx)
//	go coord.Serve(ctx)
//	coord.Broadcast(ctx, wire.Job{Name: "hello"})
//
// Membership is recorded in a [cluster.Store]; see the store packages for
// the in-memory and Redis backends.
package coordinator
