// Package store defines the persistence interface for coordinator
// membership.
//
// [cluster.Store] defines the membership contract; the composite [Store]
// adds a liveness check.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/redis: Redis backend for coordinators that share membership
//     with external tooling
//
// # Usage
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithNamespace("run-42"))
//	if err := s.Ping(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	c := coordinator.New(comm, 4, coordinator.WithStore(s))
package store
