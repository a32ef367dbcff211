package auth

import (
	"github.com/ronitlabs/talktime/internal/auth/service"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(service.NewGoogleVerifier),
	fx.Provide(service.New),
)
