package domain

import (
	"context"
	"time"

	"stallwatch/internal/core/occupancy"
)

// ViewPort is the lock free read side the workers poll
type ViewPort interface {
	// View returns the published view of a lot
	View(id int64) (LotView, bool)
	// Views returns every published lot ordered by id
	Views() []LotView
	// Enter blocks while the lot's stalls are being replaced
	// ok is false once the lot is gone; call leave when the cycle is done
	Enter(id int64) (leave func(), ok bool)
}

// SupervisorPort is the lifecycle surface used by the HTTP layer and the CLI
type SupervisorPort interface {
	ViewPort
	AddLot(ctx context.Context, in AddLotInput) (LotView, error)
	RemoveLot(ctx context.Context, id int64) error
	UpdateLot(ctx context.Context, id int64, in UpdateLotInput) (LotView, error)
	SetFlip(ctx context.Context, id int64, flip bool) (LotView, error)
	ReplaceStalls(ctx context.Context, id int64, stalls []occupancy.Stall) (LotView, error)
	Retry(ctx context.Context, id int64) (LotView, error)
	HealthCheck(ctx context.Context)
	Live() int
}

// Worker is one long running per lot loop
// Run returns when ctx is done or on a fatal error; Heartbeat and Progress are safe to call concurrently
// Heartbeat moves on every loop iteration, Progress only after a successful unit of work
type Worker interface {
	Run(ctx context.Context) error
	Heartbeat() time.Time
	Progress() time.Time
}

// Reporter is implemented by workers that count their own failed cycles
type Reporter interface {
	Report() Report
}

// WorkerFactory builds workers for a lot
type WorkerFactory interface {
	NewWorker(kind WorkerKind, lotID int64) (Worker, error)
}

// WorkerFactoryFunc adapts a function to WorkerFactory
type WorkerFactoryFunc func(kind WorkerKind, lotID int64) (Worker, error)

// NewWorker calls f
func (f WorkerFactoryFunc) NewWorker(kind WorkerKind, lotID int64) (Worker, error) {
	return f(kind, lotID)
}

// Hooks lets other modules react to lifecycle changes without the supervisor importing them
type Hooks interface {
	StallsReplaced(ctx context.Context, lotID int64, stalls []occupancy.Stall)
	LotRemoved(ctx context.Context, lotID int64)
}
