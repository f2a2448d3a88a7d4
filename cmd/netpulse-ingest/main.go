// netpulse-ingest loads a usage CSV into the record store without going
// through the HTTP upload endpoint. Intended for seeding and backfills.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/usagelab/netpulse/internal/config"
	"github.com/usagelab/netpulse/internal/ingest"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	"github.com/usagelab/netpulse/internal/migration"
	"github.com/usagelab/netpulse/internal/observability"
	"github.com/usagelab/netpulse/internal/usage"
	"github.com/usagelab/netpulse/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	var (
		filePath  = flag.String("file", "", "path to the csv file to ingest")
		clear     = flag.Bool("clear", true, "clear existing records before inserting")
		batchSize = flag.Int("batch-size", 0, "records per insert batch, 0 uses the configured default")
	)
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: netpulse-ingest -file <path.csv> [-clear=false] [-batch-size N]")
		os.Exit(2)
	}

	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		usage.Module,
		ingest.Module,
		fx.Invoke(func(lc fx.Lifecycle, sh fx.Shutdowner, svc ingestdomain.Service, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						code := 0
						if err := runIngest(svc, log, *filePath, *clear, *batchSize); err != nil {
							log.Error("ingest failed", zap.Error(err))
							code = 1
						}
						_ = sh.Shutdown(fx.ExitCode(code))
					}()
					return nil
				},
			})
		}),
	)
	// Run exits the process with the code passed to Shutdown.
	app.Run()
}

func runIngest(svc ingestdomain.Service, log *zap.Logger, path string, clear bool, batchSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	result, err := svc.Ingest(context.Background(), ingestdomain.IngestRequest{
		Reader:        f,
		Source:        "cli",
		Filename:      path,
		ClearExisting: clear,
		BatchSize:     batchSize,
	})
	if err != nil {
		return err
	}

	log.Info("ingest complete",
		zap.Int64("records_ingested", result.RecordsIngested),
		zap.Bool("cleared_existing", result.ClearedExisting),
		zap.Int("batch_size", result.BatchSize),
	)
	return nil
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
