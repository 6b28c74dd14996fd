// Package redis implements history.Store on Redis. Each record is a Hash;
// Sorted Sets scored by recording time index records per job, per process
// instance and per outcome so listings come back oldest first without a
// scan.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	hist := redisstore.New(client, redisstore.WithRetention(7*24*time.Hour))
//	if err := hist.Ping(ctx); err != nil { ... }
package redis
