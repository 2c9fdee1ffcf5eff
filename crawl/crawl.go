package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"

	extr "github.com/nci/nightlights/crawl/extractor"
	"github.com/nci/nightlights/mas"
	"github.com/nci/nightlights/utils"
	"go.uber.org/zap"
)

func ensure(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	driver := flag.String("driver", mas.DriverSQLite, "catalogue driver: sqlite or postgres")
	dsn := flag.String("dsn", "mas.db", "catalogue data source name")
	conc := flag.Int("conc", runtime.NumCPU(), "number of concurrent directory readers")
	pattern := flag.String("pattern", "", "crawl filter expression over path and type, e.g. type == 'd' || path =~ 'harmonized'")
	followSymlink := flag.Bool("follow_symlink", false, "follow symbolic links")
	dryRun := flag.Bool("dry_run", false, "report without writing to the catalogue")
	logLevel := flag.String("log_level", "info", "log level")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("Please provide the store root to index")
	}
	root := flag.Arg(0)

	logger, err := utils.NewLogger(*logLevel)
	ensure(err)
	defer logger.Sync()

	cat, err := mas.Open(*driver, *dsn, mas.WithLogger(logger))
	ensure(err)
	defer cat.Close()
	ensure(cat.Migrate())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := extr.Index(ctx, cat, root, extr.IndexOptions{
		Concurrency:   *conc,
		Pattern:       *pattern,
		FollowSymlink: *followSymlink,
		DryRun:        *dryRun,
	}, logger)
	if err != nil {
		logger.Error("crawl finished with errors", zap.Error(err))
	}

	out, err := json.Marshal(&summary)
	ensure(err)
	_, err = os.Stdout.Write(append(out, '\n'))
	ensure(err)
	if summary.Errors > 0 {
		os.Exit(1)
	}
}
