package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/adaptive-retrieval/internal/core/domain"
)

func TestGetMaterialsDecodesKeywords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "course_id", "content", "keywords"}).
		AddRow("m1", "cs101", "Binary trees", []byte(`["binary tree","traversal"]`)).
		AddRow("m2", "cs101", "Heaps", nil)
	mock.ExpectQuery("FROM course_materials").
		WithArgs("cs101").
		WillReturnRows(rows)

	materials, err := NewMaterialRepository(db).GetMaterials(context.Background(), "cs101")
	if err != nil {
		t.Fatalf("GetMaterials() error = %v", err)
	}
	if len(materials) != 2 {
		t.Fatalf("expected 2 materials, got %d", len(materials))
	}
	if len(materials[0].Keywords) != 2 || materials[0].Keywords[0] != "binary tree" {
		t.Fatalf("unexpected keywords %v", materials[0].Keywords)
	}
	if materials[1].Keywords == nil {
		t.Fatalf("expected empty keyword slice for NULL column")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertMaterialRejectsMissingCourse(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	err = NewMaterialRepository(db).Upsert(context.Background(), domain.Material{ID: "m1"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertMaterial(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO course_materials").
		WithArgs("m1", "cs101", "text", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewMaterialRepository(db).Upsert(context.Background(), domain.Material{ID: "m1", CourseID: "cs101", Content: "text"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	repo := NewQueryHistoryRepository(db)
	repo.now = func() time.Time { return fixed }

	mock.ExpectExec("INSERT INTO query_history").
		WithArgs(sqlmock.AnyArg(), "u-1", "cs101", "binary tree", 0.8, 3, true, fixed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.Record(context.Background(), domain.HistoricalQuery{
		UserID:       "u-1",
		CourseID:     "cs101",
		Query:        "binary tree",
		AvgRelevance: 0.8,
		ResultCount:  3,
		Successful:   true,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordRequiresUser(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	if err := NewQueryHistoryRepository(db).Record(context.Background(), domain.HistoricalQuery{Query: "q"}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListRecentDefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "course_id", "query", "avg_relevance", "result_count", "successful", "created_at"}).
		AddRow("h1", "u-1", "cs101", "binary tree", 0.7, 4, true, now)
	mock.ExpectQuery("FROM query_history").
		WithArgs("u-1", "", 50).
		WillReturnRows(rows)

	history, err := NewQueryHistoryRepository(db).ListRecent(context.Background(), "u-1", "", 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(history) != 1 || !history[0].Successful || history[0].ResultCount != 4 {
		t.Fatalf("unexpected history %+v", history)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS course_materials").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
