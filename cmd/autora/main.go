package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/autora/internal/analysis"
	"github.com/smallbiznis/autora/internal/audit"
	"github.com/smallbiznis/autora/internal/clock"
	"github.com/smallbiznis/autora/internal/comprehensive"
	"github.com/smallbiznis/autora/internal/config"
	"github.com/smallbiznis/autora/internal/credit"
	"github.com/smallbiznis/autora/internal/evaluator"
	"github.com/smallbiznis/autora/internal/logger"
	"github.com/smallbiznis/autora/internal/migration"
	"github.com/smallbiznis/autora/internal/observability"
	"github.com/smallbiznis/autora/internal/providers"
	"github.com/smallbiznis/autora/internal/ratelimit"
	"github.com/smallbiznis/autora/internal/report"
	"github.com/smallbiznis/autora/internal/server"
	"github.com/smallbiznis/autora/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		audit.Module,
		credit.Module,
		report.Module,
		evaluator.Module,
		analysis.Module,
		comprehensive.Module,
		ratelimit.Module,
		providers.Module,

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
