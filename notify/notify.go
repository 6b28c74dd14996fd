// Package notify wakes the acquisition loop when new jobs are committed,
// so it does not have to wait out its idle back-off.
//
// [Local] coalesces notifications within one process. [Redis] also
// publishes them on a pub/sub channel so every engine node sharing the job
// store wakes up.
package notify

import "context"

// Notifier is both ends of the wake-up signal.
type Notifier interface {
	// Notify signals that new work exists. It never blocks.
	Notify(ctx context.Context)
	// C receives a value after one or more Notify calls.
	C() <-chan struct{}
}

// Local is an in-process notifier. Notifications sent while one is already
// pending are merged into it.
type Local struct {
	ch chan struct{}
}

var _ Notifier = (*Local)(nil)

// NewLocal returns a Local notifier.
func NewLocal() *Local {
	return &Local{ch: make(chan struct{}, 1)}
}

// Notify implements Notifier.
func (l *Local) Notify(context.Context) {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// C implements Notifier.
func (l *Local) C() <-chan struct{} { return l.ch }
