package acquisition

import (
	"github.com/xraph/flowcore/id"
	"github.com/xraph/flowcore/job"
)

// Group is the unit handed to the execution pool. The jobs of an exclusive
// group belong to one process instance and run one after another.
type Group struct {
	ProcessInstanceID string
	Exclusive         bool
	Jobs              []*job.Job
}

// IDs returns the ids of the group's jobs in execution order.
func (g Group) IDs() []id.JobID {
	out := make([]id.JobID, len(g.Jobs))
	for i, j := range g.Jobs {
		out[i] = j.ID
	}
	return out
}

// Batch is the result of one acquisition cycle.
type Batch struct {
	// Found is the number of due candidates the query returned, locked or
	// not. A short result means the backlog is drained.
	Found  int
	Groups []Group
}

// Acquired returns the number of jobs locked by the cycle.
func (b Batch) Acquired() int {
	n := 0
	for _, g := range b.Groups {
		n += len(g.Jobs)
	}
	return n
}

// Jobs returns every locked job in group order.
func (b Batch) Jobs() []*job.Job {
	out := make([]*job.Job, 0, b.Acquired())
	for _, g := range b.Groups {
		out = append(out, g.Jobs...)
	}
	return out
}
