package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/ronitlabs/talktime/internal/admin"
	"github.com/ronitlabs/talktime/internal/auth"
	"github.com/ronitlabs/talktime/internal/careplan"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	"github.com/ronitlabs/talktime/internal/ledger"
	"github.com/ronitlabs/talktime/internal/logger"
	"github.com/ronitlabs/talktime/internal/migration"
	"github.com/ronitlabs/talktime/internal/observability/metrics"
	"github.com/ronitlabs/talktime/internal/payments"
	"github.com/ronitlabs/talktime/internal/providers/email"
	"github.com/ronitlabs/talktime/internal/ratelimit"
	"github.com/ronitlabs/talktime/internal/server"
	"github.com/ronitlabs/talktime/internal/session"
	"github.com/ronitlabs/talktime/internal/voicetoken"
	"github.com/ronitlabs/talktime/pkg/db"
	"github.com/ronitlabs/talktime/pkg/redis"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		redis.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		// Functional domains
		ledger.Module,
		auth.Module,
		session.Module,
		payments.Module,
		careplan.Module,
		voicetoken.Module,
		email.Module,
		ratelimit.Module,
		admin.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
