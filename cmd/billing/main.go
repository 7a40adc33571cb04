package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/matinoplay/billing/internal/charging"
	"github.com/matinoplay/billing/internal/clock"
	"github.com/matinoplay/billing/internal/config"
	"github.com/matinoplay/billing/internal/keystore"
	"github.com/matinoplay/billing/internal/logger"
	"github.com/matinoplay/billing/internal/migration"
	obsmetrics "github.com/matinoplay/billing/internal/observability/metrics"
	"github.com/matinoplay/billing/internal/partner"
	"github.com/matinoplay/billing/internal/ratelimit"
	"github.com/matinoplay/billing/internal/server"
	"github.com/matinoplay/billing/internal/webcharge"
	"github.com/matinoplay/billing/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		obsmetrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		keystore.Module,
		partner.Module,
		charging.Module,
		webcharge.Module,
		ratelimit.Module,

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
