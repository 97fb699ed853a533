package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lifeflow-request/internal/models"
)

func setupMockRequestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RequestRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewRequestRepository(db, logger)

	return db, mock, repo
}

func requestRows(requestID string, status models.RequestStatus, deadline time.Time) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"request_id", "hospital_id", "blood_type_needed", "units_required",
		"urgency_level", "urgency_numeric_score", "patient_age", "patient_condition",
		"procedure_type", "deadline_minutes", "deadline_timestamp", "status",
		"stock_checked", "donor_search_initiated", "gps_location_hospital",
		"units_delivered", "fulfilled_at", "cancelled_at", "cancellation_reason",
		"created_at", "updated_at",
	}).AddRow(
		requestID, "hosp-001", "O_NEGATIVE", 2.0,
		"CRITICAL", 100, nil, nil,
		nil, 60, deadline, status,
		false, false, "13.0827,80.2707",
		nil, nil, nil, nil,
		now, now,
	)
}

func TestGetRequest_Success(t *testing.T) {
	db, mock, repo := setupMockRequestDB(t)
	defer db.Close()

	ctx := context.Background()
	deadline := time.Now().Add(time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs("req-ABC12345").
		WillReturnRows(requestRows("req-ABC12345", models.StatusPending, deadline))

	request, err := repo.GetRequest(ctx, "req-ABC12345")

	require.NoError(t, err)
	assert.Equal(t, "req-ABC12345", request.RequestID)
	assert.Equal(t, models.ONegative, request.BloodTypeNeeded)
	assert.Equal(t, models.UrgencyCritical, request.UrgencyLevel)
	assert.Equal(t, models.StatusPending, request.Status)
	assert.Nil(t, request.PatientAge)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRequest_NotFound(t *testing.T) {
	db, mock, repo := setupMockRequestDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("req-MISSING1").
		WillReturnError(sql.ErrNoRows)

	request, err := repo.GetRequest(context.Background(), "req-MISSING1")

	require.Error(t, err)
	assert.Nil(t, request)
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRequest_Success(t *testing.T) {
	db, mock, repo := setupMockRequestDB(t)
	defer db.Close()

	now := time.Now()
	request := &models.BloodRequest{
		RequestID:           "req-ABC12345",
		HospitalID:          "hosp-001",
		BloodTypeNeeded:     models.ONegative,
		UnitsRequired:       2,
		UrgencyLevel:        models.UrgencyCritical,
		UrgencyNumericScore: 100,
		DeadlineMinutes:     60,
		DeadlineTimestamp:   now.Add(time.Hour),
		Status:              models.StatusPending,
		GPSLocationHospital: "13.0827,80.2707",
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	mock.ExpectExec(`INSERT INTO blood_requests`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.CreateRequest(context.Background(), request))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRequest_OptimisticCheckFails(t *testing.T) {
	db, mock, repo := setupMockRequestDB(t)
	defer db.Close()

	request := &models.BloodRequest{
		RequestID: "req-ABC12345",
		Status:    models.StatusCancelled,
	}

	// 期望状态不匹配：0 行受影响
	mock.ExpectExec(`UPDATE blood_requests`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateRequest(context.Background(), request, models.StatusPending)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListOverdue(t *testing.T) {
	db, mock, repo := setupMockRequestDB(t)
	defer db.Close()

	now := time.Now()
	rows := requestRows("req-OLD00001", models.StatusPending, now.Add(-5*time.Minute))

	mock.ExpectQuery(`SELECT`).
		WithArgs(string(models.StatusPending), string(models.StatusMatched), string(models.StatusAccepted), sqlmock.AnyArg()).
		WillReturnRows(rows)

	overdue, err := repo.ListOverdue(context.Background(), now)

	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "req-OLD00001", overdue[0].RequestID)

	require.NoError(t, mock.ExpectationsWereMet())
}
