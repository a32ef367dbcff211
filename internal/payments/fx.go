package payments

import (
	"github.com/ronitlabs/talktime/internal/payments/repository"
	"github.com/ronitlabs/talktime/internal/payments/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payments.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
