package registry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// TestUpdateStatusIssuesExpectedSQL asserts the exact statement
// UpdateStatus issues, without a real database file.
func TestUpdateStatusIssuesExpectedSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE thread_registry SET status = ?, updated_at = ? WHERE thread_id = ?").
		WithArgs("running", sqlmock.AnyArg(), "thread-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := &Registry{db: db}
	if err := r.UpdateStatus(context.Background(), "thread-1", "running"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestUpdateStatusNoRowsAffectedFails asserts an update matching no row
// surfaces as an error rather than silently succeeding.
func TestUpdateStatusNoRowsAffectedFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE thread_registry SET status = ?, updated_at = ? WHERE thread_id = ?").
		WithArgs("running", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	r := &Registry{db: db}
	if err := r.UpdateStatus(context.Background(), "missing", "running"); err == nil {
		t.Fatal("expected error for zero rows affected")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
