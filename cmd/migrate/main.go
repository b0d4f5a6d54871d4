package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/lib/pq"

	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/config"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/db/migrations"
	"github.com/AVRAMENKOSEMEN/mayak-finder/internal/logger"
)

// openDB is replaced in tests
var openDB = func(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log, closeLog, err := logger.Setup("migrate", cfg.Log)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(os.Args[1:], cfg.DBConnStr, os.Stdout, log); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			closeLog()
			os.Exit(2)
		}
		log.Error("migration failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

// run parses args and applies, rolls back or lists migrations
func run(args []string, defaultDSN string, out io.Writer, log *slog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	dbURL := fs.String("db", defaultDSN, "Database connection string")
	rollback := fs.Bool("rollback", false, "Rollback the last migration")
	status := fs.Bool("status", false, "List migrations and whether they are applied")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *rollback && *status {
		return errors.New("-rollback and -status are mutually exclusive")
	}

	db, err := openDB(*dbURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	migrator := migrations.New(db).WithLogger(log)
	all := migrations.All()

	switch {
	case *status:
		statuses, err := migrator.Status(all)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Fprintf(out, "%-24s %s\n", s.Name, state)
		}
	case *rollback:
		m, err := migrator.Rollback(all)
		if errors.Is(err, migrations.ErrNothingToRollback) {
			fmt.Fprintln(out, "nothing to roll back")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back %s\n", m.Name)
	default:
		n, err := migrator.Migrate(all)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "applied %d migration(s)\n", n)
	}
	return nil
}
