package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/voxguard/voxguard/internal/attest"
	"github.com/voxguard/voxguard/internal/attest/purge"
	"github.com/voxguard/voxguard/internal/broker"
	"github.com/voxguard/voxguard/internal/config"
	"github.com/voxguard/voxguard/internal/ledger"
	"github.com/voxguard/voxguard/internal/migration"
	"github.com/voxguard/voxguard/internal/observability"
	"github.com/voxguard/voxguard/internal/pricing"
	"github.com/voxguard/voxguard/internal/ratelimit"
	"github.com/voxguard/voxguard/internal/server"
	"github.com/voxguard/voxguard/internal/usage"
	"github.com/voxguard/voxguard/pkg/db"
	"github.com/voxguard/voxguard/pkg/redisconn"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(newSnowflake),
		db.Module,
		redisconn.Module,
		migration.Module,

		pricing.Module,
		attest.Module,
		purge.Module,
		ratelimit.Module,
		ledger.Module,
		usage.Module,
		broker.Module,

		server.Module,
	)
	app.Run()
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
