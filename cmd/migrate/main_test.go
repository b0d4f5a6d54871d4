package main

import (
	"bytes"
	"database/sql"
	"errors"
	"flag"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// withMockDB swaps openDB for a sqlmock connection
func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	prev := openDB
	openDB = func(string) (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { openDB = prev })
	return mock
}

func TestRun_Migrate(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name FROM migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_initial_schema"))
	mock.ExpectBegin()
	mock.ExpectExec("apply_retention").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO migrations").WithArgs("002_retention").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	var out bytes.Buffer
	if err := run(nil, "postgres://test", &out, discard); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	if got := out.String(); got != "applied 1 migration(s)\n" {
		t.Errorf("Unexpected output %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRun_Rollback(t *testing.T) {
	tests := []struct {
		name    string
		applied []string
		want    string
	}{
		{"last applied", []string{"001_initial_schema", "002_retention"}, "rolled back 002_retention\n"},
		{"nothing applied", nil, "nothing to roll back\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := withMockDB(t)
			rows := sqlmock.NewRows([]string{"name"})
			for _, name := range tt.applied {
				rows.AddRow(name)
			}
			mock.ExpectQuery("SELECT name FROM migrations").WillReturnRows(rows)
			if len(tt.applied) > 0 {
				mock.ExpectBegin()
				mock.ExpectExec("DROP").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM migrations").WithArgs("002_retention").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			}

			var out bytes.Buffer
			if err := run([]string{"-rollback"}, "postgres://test", &out, discard); err != nil {
				t.Fatalf("run() failed: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("Output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestRun_Status(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name FROM migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_initial_schema"))

	var out bytes.Buffer
	if err := run([]string{"-status"}, "postgres://test", &out, discard); err != nil {
		t.Fatalf("run() failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 status lines, got %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "001_initial_schema") || !strings.HasSuffix(lines[0], "applied") {
		t.Errorf("Unexpected line %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "pending") {
		t.Errorf("Unexpected line %q", lines[1])
	}
}

func TestRun_Errors(t *testing.T) {
	var out bytes.Buffer
	if err := run([]string{"-h"}, "", &out, discard); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("Expected flag.ErrHelp, got %v", err)
	}
	if err := run([]string{"-rollback", "-status"}, "", &out, discard); err == nil {
		t.Error("Expected conflicting flags to fail")
	}

	prev := openDB
	openDB = func(string) (*sql.DB, error) { return nil, errors.New("connection refused") }
	defer func() { openDB = prev }()
	if err := run(nil, "postgres://down", &out, discard); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Expected connection error, got %v", err)
	}
}

func TestRun_MigrationFailure(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name FROM migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("telemetry_readings").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	var out bytes.Buffer
	if err := run(nil, "postgres://test", &out, discard); err == nil {
		t.Error("Expected run() to fail")
	}
}
