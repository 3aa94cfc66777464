package main

import (
	"bytes"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/bilan/core"
	"github.com/trezcool/bilan/core/bpf"
	"github.com/trezcool/bilan/storage/database"
	dummydb "github.com/trezcool/bilan/storage/database/dummy"
	"github.com/trezcool/bilan/tests"
)

const year = 2023

func setup(t *testing.T) (*commandLine, *bytes.Buffer) {
	_, src := testutil.NewMemorySource(
		testutil.ReferenceDataset("acme", year),
		testutil.CleanDataset("clean", year),
	)
	var out bytes.Buffer
	return &commandLine{
		db:     testutil.PrepareDB(t),
		engine: database.EngineSQLite,
		svc:    bpf.NewService(src, core.NewTestConfig(), testutil.NewLogger()),
		out:    &out,
	}, &out
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func runCLI(t *testing.T, cli *commandLine, tt cliTest) {
	t.Helper()
	args := append([]string{"admin"}, tt.args...)
	err := cli.run(args)
	switch {
	case err == nil:
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() expected an error")
		}
	case tt.wantErr != nil:
		if errors.Cause(err) != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_root(t *testing.T) {
	cli, _ := setup(t)
	runCLI(t, cli, cliTest{name: "no command", wantErr: errHelp})
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		if dir != database.MigrationsDir {
			return fmt.Errorf("unexpected dir %q", dir)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}
	defer func() { gooseRunFunc = goose.Run }()

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "invoices", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCLI(t, cli, tt)
		})
	}

	t.Run("memory engine", func(t *testing.T) {
		memCLI := &commandLine{engine: database.EngineMemory, out: &bytes.Buffer{}}
		runCLI(t, memCLI, cliTest{args: []string{"migrate", "up"}, wantErr: errNoSQLDatabase})
	})
}

func Test_commandLine_export(t *testing.T) {
	cli, out := setup(t)

	var written struct {
		path    string
		content []byte
	}
	writeFileFunc = func(name string, data []byte, perm os.FileMode) error {
		written.path, written.content = name, data
		return nil
	}
	defer func() { writeFileFunc = os.WriteFile }()

	tests := []cliTest{
		{name: "no flags", args: []string{"export"}, wantErr: errHelp},
		{name: "no year", args: []string{"export", "--tenant", "acme"}, wantErr: errHelp},
		{name: "unknown tenant", args: []string{"export", "--tenant", "nobody", "--year", "2023"}, wantErr: bpf.ErrTenantNotFound},
		{name: "final with critical issues", args: []string{"export", "--tenant", "acme", "--year", "2023", "--final"}, wantErr: bpf.ErrCriticalIssues},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runCLI(t, cli, tt)
		})
	}

	t.Run("draft csv", func(t *testing.T) {
		out.Reset()
		runCLI(t, cli, cliTest{args: []string{"export", "--tenant", "acme", "--year", "2023"}})
		assert.Equal(t, "bpf_2023_acme.csv", written.path)
		assert.Contains(t, string(written.content), "2023;TOTAL;total;Total;3;1750.00;100.00")
		assert.Contains(t, out.String(), "bpf_2023_acme.csv written (sha256 ")
		assert.Contains(t, out.String(), "2 critical issue(s), 3 warning(s)")
	})

	t.Run("final pdf", func(t *testing.T) {
		out.Reset()
		runCLI(t, cli, cliTest{args: []string{"export", "--tenant", "clean", "--year", "2023", "--format", "pdf", "--final", "--out", "/tmp/bpf.pdf"}})
		assert.Equal(t, "/tmp/bpf.pdf", written.path)
		assert.True(t, bytes.HasPrefix(written.content, []byte("%PDF-")))
	})
}

func Test_commandLine_check(t *testing.T) {
	cli, out := setup(t)

	runCLI(t, cli, cliTest{args: []string{"check"}, wantErr: errHelp})

	out.Reset()
	runCLI(t, cli, cliTest{args: []string{"check", "--tenant", "clean", "--year", "2023"}})
	assert.Equal(t, "no inconsistency found\n", out.String())

	out.Reset()
	runCLI(t, cli, cliTest{args: []string{"check", "--tenant", "acme", "--year", "2023"}})
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "SEVERITY"))
	assert.True(t, strings.HasPrefix(lines[1], "critical"))
	assert.Contains(t, lines[1], "missing_category")

	runCLI(t, cli, cliTest{args: []string{"check", "--tenant", "acme", "--year", "2023", "--fail-on-critical"}, wantErr: bpf.ErrCriticalIssues})
}

func Test_commandLine_check_failedChecks(t *testing.T) {
	db, src := testutil.NewMemorySource(testutil.CleanDataset("clean", year))
	db.Fail(dummydb.OpPayments, errors.New("connection reset"))
	var out bytes.Buffer
	cli := &commandLine{
		engine: database.EngineMemory,
		svc:    bpf.NewService(src, core.NewTestConfig(), testutil.NewLogger()),
		out:    &out,
	}

	runCLI(t, cli, cliTest{args: []string{"check", "--tenant", "clean", "--year", "2023"}})
	assert.Contains(t, out.String(), "check_failed")

	runCLI(t, cli, cliTest{args: []string{"check", "--tenant", "clean", "--year", "2023", "--fail-on-critical"}, wantErr: bpf.ErrFailedChecks})
}
