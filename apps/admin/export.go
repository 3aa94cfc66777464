package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/bilan/core/bpf"
)

var writeFileFunc = os.WriteFile // mockable

type exportFlags struct {
	tenant string
	year   int
	format string
	out    string
	final  bool
}

func (cli *commandLine) exportCmd() *cobra.Command {
	var flags exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render the BPF of a tenant to a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.tenant == "" || flags.year == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.export(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "tenant id")
	cmd.Flags().IntVar(&flags.year, "year", 0, "reporting year")
	cmd.Flags().StringVar(&flags.format, "format", string(bpf.ShapeCSV), "csv | pdf")
	cmd.Flags().StringVar(&flags.out, "out", "", "output path (default: the artifact file name in the current directory)")
	cmd.Flags().BoolVar(&flags.final, "final", false, "refuse to export when critical issues remain")
	return cmd
}

func (cli *commandLine) export(ctx context.Context, flags exportFlags) error {
	artifact, err := cli.svc.Export(ctx, flags.tenant, flags.year, bpf.Shape(flags.format), flags.final)
	if err != nil {
		return errors.Wrap(err, "exporting report")
	}

	path := flags.out
	if path == "" {
		path = artifact.Filename()
	}
	if err = writeFileFunc(filepath.Clean(path), artifact.Content(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}

	_, _ = fmt.Fprintf(cli.out, "%s written (sha256 %s)\n", path, artifact.Checksum())
	_, _ = fmt.Fprintf(cli.out, "%d critical issue(s), %d warning(s)\n", artifact.CriticalIssues(), artifact.WarningIssues())
	return nil
}

type checkFlags struct {
	tenant         string
	year           int
	failOnCritical bool
}

func (cli *commandLine) checkCmd() *cobra.Command {
	var flags checkFlags
	cmd := &cobra.Command{
		Use:   "check",
		Short: "List the inconsistencies of a tenant's BPF",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.tenant == "" || flags.year == 0 {
				_ = cmd.Usage()
				return errHelp
			}
			return cli.check(cmd.Context(), flags)
		},
	}
	cmd.Flags().StringVar(&flags.tenant, "tenant", "", "tenant id")
	cmd.Flags().IntVar(&flags.year, "year", 0, "reporting year")
	cmd.Flags().BoolVar(&flags.failOnCritical, "fail-on-critical", false, "exit with an error when critical issues are found or checks could not run")
	return cmd
}

func (cli *commandLine) check(ctx context.Context, flags checkFlags) error {
	incs, err := cli.svc.Detect(ctx, flags.tenant, flags.year)
	if err != nil {
		return errors.Wrap(err, "detecting inconsistencies")
	}

	if len(incs) == 0 {
		_, _ = fmt.Fprintln(cli.out, "no inconsistency found")
		return nil
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEVERITY\tTYPE\tAFFECTED\tDESCRIPTION")
	for _, inc := range incs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", inc.Severity, inc.Type, inc.AffectedCount, inc.Description)
	}
	if err = w.Flush(); err != nil {
		return err
	}

	if flags.failOnCritical {
		switch {
		case incs.HasCritical():
			return bpf.ErrCriticalIssues
		case incs.HasFailedChecks():
			return bpf.ErrFailedChecks
		}
	}
	return nil
}
