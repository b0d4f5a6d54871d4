package migrations

import (
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	migrator := New(db)
	if migrator == nil {
		t.Fatal("Expected migrator to be created, got nil")
	}
	if migrator.db != db {
		t.Error("Expected migrator to have the provided DB connection")
	}
}

func TestAll(t *testing.T) {
	all := All()
	if len(all) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(all))
	}
	if all[0].Name != "001_initial_schema" || all[1].Name != "002_retention" {
		t.Errorf("Unexpected migration order: %s, %s", all[0].Name, all[1].Name)
	}
	for _, m := range all {
		if m.ID != m.Name {
			t.Errorf("Migration %s has ID %s", m.Name, m.ID)
		}
		if strings.TrimSpace(m.UpSQL) == "" || strings.TrimSpace(m.DownSQL) == "" {
			t.Errorf("Migration %s must have up and down SQL", m.Name)
		}
	}
	if !strings.Contains(InitialSchema.UpSQL, "telemetry_readings") || !strings.Contains(InitialSchema.UpSQL, "pipeline_stats") {
		t.Error("Initial schema must create the archive tables")
	}
	if !strings.Contains(Retention.UpSQL, "apply_retention") {
		t.Error("Retention migration must define apply_retention")
	}
}

func TestMigratorInitialize(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "successful initialization",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).
					WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()
			tt.setupMock(mock)

			err = New(db).Initialize()
			if tt.expectError && err == nil {
				t.Error("Expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestMigratorGetAppliedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name"}).
		AddRow("001_initial_schema").
		AddRow("002_retention")
	mock.ExpectQuery(`SELECT name FROM migrations ORDER BY id`).WillReturnRows(rows)

	applied, err := New(db).GetAppliedMigrations()
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || !applied["001_initial_schema"] || !applied["002_retention"] {
		t.Errorf("Unexpected applied set %v", applied)
	}
}

func TestMigratorApplyMigration(t *testing.T) {
	migration := &Migration{ID: "test", Name: "test", UpSQL: "CREATE TABLE t (id INT)", DownSQL: "DROP TABLE t"}

	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "successful apply",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE t`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WithArgs("test").WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "migration SQL fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE t`).WillReturnError(errors.New("syntax error"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "recording fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`CREATE TABLE t`).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec(`INSERT INTO migrations`).WillReturnError(errors.New("duplicate key"))
				mock.ExpectRollback()
			},
			expectError: true,
		},
		{
			name: "begin fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin().WillReturnError(sql.ErrConnDone)
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("Failed to create mock DB: %v", err)
			}
			defer db.Close()
			tt.setupMock(mock)

			err = New(db).ApplyMigration(migration)
			if tt.expectError && err == nil {
				t.Error("Expected error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestMigratorMigrate_AppliesOnlyPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name FROM migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_initial_schema"))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE OR REPLACE FUNCTION apply_retention`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO migrations`).WithArgs("002_retention").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	count, err := New(db).Migrate(All())
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 applied migration, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestMigratorRollback(t *testing.T) {
	t.Run("rolls back the last applied", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock DB: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT name FROM migrations`).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_initial_schema").AddRow("002_retention"))
		mock.ExpectBegin()
		mock.ExpectExec(`DROP VIEW IF EXISTS pipeline_stats_daily`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM migrations`).WithArgs("002_retention").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		last, err := New(db).Rollback(All())
		if err != nil {
			t.Fatalf("Rollback() failed: %v", err)
		}
		if last.Name != "002_retention" {
			t.Errorf("Rolled back %s, want 002_retention", last.Name)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("Unmet expectations: %v", err)
		}
	})

	t.Run("nothing applied", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("Failed to create mock DB: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`SELECT name FROM migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
		if _, err := New(db).Rollback(All()); !errors.Is(err, ErrNothingToRollback) {
			t.Errorf("Expected ErrNothingToRollback, got %v", err)
		}
	})
}

func TestMigratorStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name FROM migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_initial_schema"))

	status, err := New(db).Status(All())
	if err != nil {
		t.Fatalf("Status() failed: %v", err)
	}
	if len(status) != 2 || !status[0].Applied || status[1].Applied {
		t.Errorf("Unexpected status %+v", status)
	}
}
