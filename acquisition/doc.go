// Package acquisition selects due jobs and leases them to this engine node.
//
// [AcquireCmd] runs inside one unit of work. It locks non-exclusive jobs
// one by one, dropping any that another node locked first, and locks the
// exclusive jobs of each process instance together in a separate unit so
// that siblings are never executed by two nodes at once. The result is a
// [Batch] of groups ready for the execution pool.
//
// [Acquirer] runs AcquireCmd in a loop, hands the groups to a [Submitter]
// and backs off when there is nothing to do or the pool is saturated.
package acquisition
