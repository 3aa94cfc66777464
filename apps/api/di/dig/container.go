package dig_container

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/bilan/apps/api/echo"
	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
	logsvc "github.com/trezcool/bilan/services/logger"
	"github.com/trezcool/bilan/storage/database"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
	sqlxrepos "github.com/trezcool/bilan/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage is the record source along with the database backing it. DB is nil on the memory engine.
type Storage struct {
	dig.Out
	Source bpf.RecordSource
	DB     core.DB
}

func newLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "API : ", log.LstdFlags)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDBLogger(conf *core.Config) core.Logger {
	stdLogger := log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) Storage {
	if conf.Database.Engine == database.EngineMemory {
		mem, _ := dummydb.Open()
		return Storage{Source: dummydb.NewRecordSource(mem)}
	}

	db, err := database.Setup(conf)
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return Storage{Source: sqlxrepos.NewRecordSource(db), DB: db}
}

func newValidator() *validator.Validate {
	return validator.New()
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newServerDeps(
	conf *core.Config,
	logger core.Logger,
	svc bpf.ServiceInterface,
	validate *validator.Validate,
	translator ut.Translator,
	metrics *echoapi.Metrics,
) echoapi.ServerDeps {
	return echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		BPFSvc:     svc,
		Validate:   validate,
		Translator: translator,
		Metrics:    metrics,
	}
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newValidator))
	must(c.Provide(newTranslator))
	must(c.Provide(bpf.NewService, dig.As(new(bpf.ServiceInterface))))
	must(c.Provide(echoapi.NewMetrics))
	must(c.Provide(newServerDeps))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
