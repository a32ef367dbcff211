package ledger

import (
	"github.com/ronitlabs/talktime/internal/ledger/repository"
	"github.com/ronitlabs/talktime/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
