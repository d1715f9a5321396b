// Package redis implements store.Store on Redis. Each member is a Hash and
// the member index is a Sorted Set scored by rank, so listing returns
// members in rank order without a client-side sort.
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithNamespace("run-42"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
