package flowcore

import "context"

// Storer is the lifecycle surface shared by every backend. The job and
// history packages extend it with their own persistence contracts.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
