package jobqueue

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("jobqueue",
	fx.Provide(
		NewQueue,
		func(q *Queue) Enqueuer { return q },
		NewRegistry,
	),
)

// WorkerModule runs the polling worker for the lifetime of the app.
var WorkerModule = fx.Module("jobqueue.worker",
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			go func() {
				defer close(done)
				worker.RunForever(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})
}
