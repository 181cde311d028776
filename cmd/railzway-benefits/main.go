package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/audit"
	"github.com/smallbiznis/railzway-benefits/internal/benefit"
	"github.com/smallbiznis/railzway-benefits/internal/benefitgrant"
	"github.com/smallbiznis/railzway-benefits/internal/benefitstrategy/strategies"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/config"
	"github.com/smallbiznis/railzway-benefits/internal/customer"
	"github.com/smallbiznis/railzway-benefits/internal/eventstream"
	"github.com/smallbiznis/railzway-benefits/internal/grantevent"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/lock"
	"github.com/smallbiznis/railzway-benefits/internal/migration"
	"github.com/smallbiznis/railzway-benefits/internal/observability"
	"github.com/smallbiznis/railzway-benefits/internal/order"
	"github.com/smallbiznis/railzway-benefits/internal/product"
	"github.com/smallbiznis/railzway-benefits/internal/server"
	"github.com/smallbiznis/railzway-benefits/internal/subscription"
	"github.com/smallbiznis/railzway-benefits/internal/webhook"
	"github.com/smallbiznis/railzway-benefits/pkg/db"
	"go.uber.org/fx"
)

// Runs the HTTP surface and the job worker in one process.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		lock.Module,
		eventstream.Module,
		jobqueue.Module,
		jobqueue.WorkerModule,

		// Functional Domains
		audit.Module,
		webhook.Module,
		customer.Module,
		benefit.Module,
		product.Module,
		subscription.Module,
		order.Module,
		strategies.Module,
		grantevent.Module,
		grantevent.JobsModule,
		benefitgrant.Module,
		benefitgrant.JobsModule,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
