package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/railzway-benefits/internal/clock"
	"github.com/smallbiznis/railzway-benefits/internal/config"
	"github.com/smallbiznis/railzway-benefits/internal/customer"
	"github.com/smallbiznis/railzway-benefits/internal/eventstream"
	"github.com/smallbiznis/railzway-benefits/internal/jobqueue"
	"github.com/smallbiznis/railzway-benefits/internal/lock"
	"github.com/smallbiznis/railzway-benefits/internal/observability"
	"github.com/smallbiznis/railzway-benefits/internal/server"
	"github.com/smallbiznis/railzway-benefits/pkg/db"
	"go.uber.org/fx"
)

// Serves health, metrics and the customer event stream. Grant events reach
// this process through the Redis relay.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		eventstream.Module,
		jobqueue.Module,

		customer.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
