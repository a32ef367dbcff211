package careplan

import (
	"github.com/ronitlabs/talktime/internal/careplan/repository"
	"github.com/ronitlabs/talktime/internal/careplan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("careplan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewGemini),
	fx.Provide(service.New),
)
