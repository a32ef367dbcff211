package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/ronitlabs/talktime/internal/careplan"
	"github.com/ronitlabs/talktime/internal/careplan/worker"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	"github.com/ronitlabs/talktime/internal/ledger"
	"github.com/ronitlabs/talktime/internal/logger"
	"github.com/ronitlabs/talktime/internal/migration"
	"github.com/ronitlabs/talktime/internal/providers/email"
	"github.com/ronitlabs/talktime/pkg/db"
	"go.uber.org/fx"
)

// The worker binary drains the care-plan task queue. It shares the
// database with the API but needs neither Redis nor an HTTP listener.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		ledger.Module,
		careplan.Module,
		email.Module,
		worker.Module,
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
