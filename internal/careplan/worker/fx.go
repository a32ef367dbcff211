package worker

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("careplan.worker",
	fx.Provide(New),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go w.Run(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}
