// Package worker executes acquired jobs.
//
// A [Pool] keeps a fixed number of core workers busy on a bounded queue of
// job groups and spawns extra workers, up to a maximum, only while that
// queue is full. Beyond that it rejects work with flowcore.ErrPoolFull so
// the acquisition loop backs off.
//
// Each job runs in its own unit of work through [ExecuteCmd]. A failure
// rolls that unit back and is then recorded by [FailureCmd] in a fresh
// unit: the retry budget shrinks, the lock is released and the due date
// is pushed back.
package worker
