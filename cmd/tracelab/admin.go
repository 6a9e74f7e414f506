package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/Strob0t/TraceLab/internal/adapter/postgres"
	"github.com/Strob0t/TraceLab/internal/config"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
	"github.com/Strob0t/TraceLab/internal/service"
)

// runAdmin dispatches admin subcommands (migrate, rollback, version, counts, export).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "version":
		return runAdminVersion(args[1:])
	case "counts":
		return runAdminCounts(args[1:])
	case "export":
		return runAdminExport(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tracelab admin <command> [options]

Commands:
  migrate    Apply pending database migrations
  rollback   Roll back the most recent migrations
  version    Print the current migration version
  counts     Print a participant's action counts
  export     Write an experiment's CSV report
  help       Show this help message

Examples:
  tracelab admin migrate
  tracelab admin rollback --steps 2
  tracelab admin counts --experiment 3 --user 17
  tracelab admin export --experiment 3 --out experiment_3.csv
`)
}

func loadAdminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("admin commands need storage.driver %q, got %q", config.DriverPostgres, cfg.Storage.Driver)
	}
	return cfg, nil
}

// loadAdminServices connects to the database and builds the read services.
func loadAdminServices(ctx context.Context) (*service.CountsService, *service.ExportService, func(), error) {
	cfg, err := loadAdminConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewEventStore(pool)
	counts := postgres.NewCounter(pool)
	return service.NewCountsService(counts, store),
		service.NewExportService(store, counts, cfg.Export.Timeout, nil),
		pool.Close, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Migrations applied, version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return errors.New("--steps must be at least 1")
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s), version %d\n", *steps, v)
	return nil
}

func runAdminVersion(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Println(v)
	return nil
}

func runAdminCounts(args []string) error {
	fs := flag.NewFlagSet("counts", flag.ContinueOnError)
	experiment := fs.Int64("experiment", 0, "experiment id (required)")
	user := fs.Int64("user", 0, "participant id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *experiment <= 0 || *user <= 0 {
		return errors.New("--experiment and --user are required")
	}

	ctx := context.Background()
	counts, _, cleanup, err := loadAdminServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	sum, err := counts.CountsFor(ctx, *experiment, *user)
	if err != nil {
		return fmt.Errorf("counts: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KIND\tEVENT\tCOUNT")
	for _, kind := range taxonomy.Kinds() {
		for _, e := range sum.ByKind[kind] {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", kind, e.Action, e.Count)
		}
	}
	return w.Flush()
}

func runAdminExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	experiment := fs.Int64("experiment", 0, "experiment id (required)")
	out := fs.String("out", "", "output file (stdout if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *experiment <= 0 {
		return errors.New("--experiment is required")
	}

	ctx := context.Background()
	_, export, cleanup, err := loadAdminServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	render := func(w io.Writer) error { return export.Export(ctx, *experiment, w) }
	if *out == "" {
		var buf bytes.Buffer
		if err := render(&buf); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		_, err := buf.WriteTo(os.Stdout)
		return err
	}
	if err := writeFileAtomic(*out, render); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// writeFileAtomic renders into a temporary file next to path and renames it
// into place only after every byte reached the disk. On any failure path is
// left untouched and the temporary file is removed.
func writeFileAtomic(path string, render func(io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err := render(bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil { //nolint:gosec // G302: reports are meant to be shared
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
