package logger

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func registerHooks(lc fx.Lifecycle, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			_ = log.Sync()
			return nil
		},
	})
}

// Module wires the global zap logger for the application.
var Module = fx.Module("logger",
	fx.Provide(NewFromEnv),
	fx.Invoke(registerHooks),
)
