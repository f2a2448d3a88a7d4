package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/usagelab/netpulse/internal/config"
	"github.com/usagelab/netpulse/internal/migration"
	"github.com/usagelab/netpulse/internal/observability"
	"github.com/usagelab/netpulse/internal/server"
	"github.com/usagelab/netpulse/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
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
