package session

import (
	"github.com/ronitlabs/talktime/internal/session/service"
	"github.com/ronitlabs/talktime/internal/session/store"
	"go.uber.org/fx"
)

var Module = fx.Module("session.service",
	fx.Provide(store.NewRedisStore),
	fx.Provide(store.NewRedisLocker),
	fx.Provide(service.NewPolicy),
	fx.Provide(service.New),
)
