package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/school-portal-api/internal/models"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
)

var enrollmentRowColumns = []string{
	"id", "student_id", "academic_year", "semester", "program_id", "year_level", "status", "version",
	"id_photo_submitted", "id_photo_ref", "birth_certificate_submitted", "birth_certificate_ref",
	"form137_submitted", "form137_ref", "created_at", "updated_at",
}

func enrollmentRows(id, studentID string, status models.EnrollmentStatus, version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(enrollmentRowColumns).
		AddRow(id, studentID, "2025-2026", 1, "bsit", 1, string(status), version, false, nil, false, nil, false, nil, now, now)
}

func TestEnrollmentRepositoryCreateDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Enrollment{ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusRegistered})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryListByStudent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE student_id = $1 ORDER BY academic_year DESC")).
		WithArgs("stu-1").
		WillReturnRows(enrollmentRows("enr-1", "stu-1", models.EnrollmentStatusPending, 2))

	enrollments, err := repo.ListByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, enrollments, 1)
	assert.Equal(t, models.EnrollmentStatusPending, enrollments[0].Status)
	assert.Equal(t, int64(2), enrollments[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEnrollmentRepositoryAttachDocument(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1 FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows("enr-1", "stu-1", models.EnrollmentStatusRegistered, 1))
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE enrollments SET form137_submitted = TRUE, form137_ref = $2, updated_at = $3 WHERE id = $1 RETURNING")).
		WithArgs("enr-1", "enrollments/enr-1/form137.pdf", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).
			AddRow("enr-1", "stu-1", "2025-2026", 1, "bsit", 1, "Registered", 1, false, nil, false, nil, true, "enrollments/enr-1/form137.pdf", now, now))
	mock.ExpectCommit()

	var seen models.EnrollmentStatus
	updated, err := repo.AttachDocument(context.Background(), "enr-1", models.DocumentForm137, "enrollments/enr-1/form137.pdf", func(e *models.Enrollment) error {
		seen = e.Status
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusRegistered, seen)
	assert.True(t, updated.Form137Submitted)
	require.NotNil(t, updated.Form137Ref)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAttachDocumentVetoed(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnRows(enrollmentRows("enr-1", "stu-1", models.EnrollmentStatusVerified, 3))
	mock.ExpectRollback()

	veto := errors.New("documents are locked")
	_, err := repo.AttachDocument(context.Background(), "enr-1", models.DocumentIDPhoto, "ref", func(*models.Enrollment) error { return veto })
	assert.ErrorIs(t, err, veto)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryAttachDocumentLockTimeout(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("enr-1").
		WillReturnError(&pq.Error{Code: "55P03"})
	mock.ExpectRollback()

	_, err := repo.AttachDocument(context.Background(), "enr-1", models.DocumentIDPhoto, "ref", nil)
	assert.True(t, appErrors.Is(err, appErrors.ErrConcurrencyConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryBalance(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_fees WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"assessed_cents", "paid_cents"}).AddRow(1500000, 1450000))

	balance, err := repo.Balance(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), balance.OutstandingCents())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryPeekSnapshotReportsDocuments(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows(enrollmentRowColumns).
			AddRow("enr-1", "stu-1", "2025-2026", 1, "bsit", 1, "Registered", 2, true, "a", true, "b", true, "c", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM enrollment_fees WHERE enrollment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"assessed_cents", "paid_cents"}).AddRow(1500000, 500000))

	snap, err := repo.PeekSnapshot(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.True(t, snap.DocumentsComplete)
	assert.Equal(t, int64(1000000), snap.BalanceCents)
	assert.Equal(t, "stu-1", snap.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
