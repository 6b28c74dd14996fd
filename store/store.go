package store

import (
	"github.com/xraph/flowcore"
	"github.com/xraph/flowcore/history"
	"github.com/xraph/flowcore/job"
)

// Store is a backend that holds both jobs and their execution history.
// When its transactions also implement history.TxWriter, history rows
// commit together with the job mutation that produced them.
type Store interface {
	flowcore.Storer
	job.Store
	history.Store
}
