package storage

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// TestBlobRepo_Create_SQL asserts the exact statement shape against a
// mocked driver, for cases where spinning up a real sqlite file is
// unnecessary overhead.
func TestBlobRepo_Create_SQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := &BlobRepo{exec: db}
	mock.ExpectExec("INSERT INTO blobs").
		WithArgs("h1", []byte(`{}`), 2, 0, "2026-01-01T00:00:00Z").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Create(context.Background(), Blob{
		ContentHash: "h1",
		PayloadJSON: []byte(`{}`),
		ByteSize:    2,
		CreatedAt:   "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
