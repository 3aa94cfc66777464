package main

import (
	"log"
	"os"

	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
	logsvc "github.com/trezcool/bilan/services/logger"
	"github.com/trezcool/bilan/storage/database"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
	sqlxrepos "github.com/trezcool/bilan/storage/database/sqlx"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	conf := core.NewConfig()
	svcLogger := logsvc.NewRollbarLogger(logger, conf)
	svcLogger.Enable(!conf.Debug)

	cli := commandLine{engine: conf.Database.Engine, out: os.Stdout}

	// set up DB
	var src bpf.RecordSource
	if conf.Database.Engine == database.EngineMemory {
		mem, _ := dummydb.Open()
		src = dummydb.NewRecordSource(mem)
	} else {
		db, err := database.Open(conf)
		errAndDie(err)
		defer func() { _ = db.Close() }()
		cli.db = db
		src = sqlxrepos.NewRecordSource(db)
	}
	cli.svc = bpf.NewService(src, conf, svcLogger)

	// start CLI
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("\nerror: %s\n", err)
		}
		if cli.db != nil {
			_ = cli.db.Close()
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
