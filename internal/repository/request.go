package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// RequestRepository 血液请求仓库（对应 blood_requests 表）
// 只负责持久化；状态转换规则由 lifecycle 层把关
type RequestRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRequestRepository 创建血液请求仓库
func NewRequestRepository(db *sql.DB, logger *zap.Logger) *RequestRepository {
	return &RequestRepository{
		db:     db,
		logger: logger,
	}
}

const requestColumns = `
			request_id,
			hospital_id,
			blood_type_needed,
			units_required,
			urgency_level,
			urgency_numeric_score,
			patient_age,
			patient_condition,
			procedure_type,
			deadline_minutes,
			deadline_timestamp,
			status,
			stock_checked,
			donor_search_initiated,
			gps_location_hospital,
			units_delivered,
			fulfilled_at,
			cancelled_at,
			cancellation_reason,
			created_at,
			updated_at`

// CreateRequest 插入新的血液请求
func (r *RequestRepository) CreateRequest(ctx context.Context, request *models.BloodRequest) error {
	if request.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	query := `
		INSERT INTO blood_requests (
			request_id, hospital_id, blood_type_needed, units_required,
			urgency_level, urgency_numeric_score, patient_age, patient_condition,
			procedure_type, deadline_minutes, deadline_timestamp, status,
			stock_checked, donor_search_initiated, gps_location_hospital,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`

	_, err := r.db.ExecContext(ctx, query,
		request.RequestID,
		request.HospitalID,
		request.BloodTypeNeeded,
		request.UnitsRequired,
		request.UrgencyLevel,
		request.UrgencyNumericScore,
		request.PatientAge,
		request.PatientCondition,
		request.ProcedureType,
		request.DeadlineMinutes,
		request.DeadlineTimestamp,
		request.Status,
		request.StockChecked,
		request.DonorSearchInitiated,
		request.GPSLocationHospital,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert blood request: %w", err)
	}

	r.logger.Info("Blood request persisted",
		zap.String("request_id", request.RequestID),
		zap.String("hospital_id", request.HospitalID),
	)
	return nil
}

// GetRequest 根据 request_id 获取血液请求
func (r *RequestRepository) GetRequest(ctx context.Context, requestID string) (*models.BloodRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `SELECT ` + requestColumns + `
		FROM blood_requests
		WHERE request_id = $1
	`

	request, err := scanRequest(r.db.QueryRowContext(ctx, query, requestID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("blood request not found: request_id=%s: %w", requestID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get blood request: %w", err)
	}

	return request, nil
}

// UpdateRequest 按期望状态更新请求（乐观检查）
// WHERE status = expected 保证并发转换在存储层也被串行化；
// 竞争失败（0 行受影响）返回 ErrInvalidStateTransition
func (r *RequestRepository) UpdateRequest(ctx context.Context, request *models.BloodRequest, expected models.RequestStatus) error {
	query := `
		UPDATE blood_requests
		SET status = $1,
		    stock_checked = $2,
		    donor_search_initiated = $3,
		    units_delivered = $4,
		    fulfilled_at = $5,
		    cancelled_at = $6,
		    cancellation_reason = $7,
		    updated_at = $8
		WHERE request_id = $9
		  AND status = $10
	`

	request.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		request.Status,
		request.StockChecked,
		request.DonorSearchInitiated,
		request.UnitsDelivered,
		request.FulfilledAt,
		request.CancelledAt,
		request.CancellationReason,
		request.UpdatedAt,
		request.RequestID,
		expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update blood request: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("blood request %s no longer in status %s: %w",
			request.RequestID, expected, models.ErrInvalidStateTransition)
	}

	return nil
}

// ListActive 列出所有活跃请求（PENDING / MATCHED / ACCEPTED）
func (r *RequestRepository) ListActive(ctx context.Context) ([]*models.BloodRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM blood_requests
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.StatusPending, models.StatusMatched, models.StatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("failed to list active requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// ListOverdue 列出截止时间已过且仍处于非终态的请求（供后台清扫使用）
func (r *RequestRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.BloodRequest, error) {
	query := `SELECT ` + requestColumns + `
		FROM blood_requests
		WHERE status IN ($1, $2, $3)
		  AND deadline_timestamp < $4
		ORDER BY deadline_timestamp
	`

	rows, err := r.db.QueryContext(ctx, query,
		models.StatusPending, models.StatusMatched, models.StatusAccepted, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue requests: %w", err)
	}
	defer rows.Close()

	return collectRequests(rows)
}

// rowScanner QueryRow 和 Rows 的公共扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRequest 扫描单行血液请求
func scanRequest(row rowScanner) (*models.BloodRequest, error) {
	var request models.BloodRequest
	var patientAge sql.NullInt64
	var patientCondition, procedureType, cancellationReason sql.NullString
	var unitsDelivered sql.NullFloat64
	var fulfilledAt, cancelledAt sql.NullTime

	err := row.Scan(
		&request.RequestID,
		&request.HospitalID,
		&request.BloodTypeNeeded,
		&request.UnitsRequired,
		&request.UrgencyLevel,
		&request.UrgencyNumericScore,
		&patientAge,
		&patientCondition,
		&procedureType,
		&request.DeadlineMinutes,
		&request.DeadlineTimestamp,
		&request.Status,
		&request.StockChecked,
		&request.DonorSearchInitiated,
		&request.GPSLocationHospital,
		&unitsDelivered,
		&fulfilledAt,
		&cancelledAt,
		&cancellationReason,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if patientAge.Valid {
		age := int(patientAge.Int64)
		request.PatientAge = &age
	}
	if patientCondition.Valid {
		request.PatientCondition = &patientCondition.String
	}
	if procedureType.Valid {
		request.ProcedureType = &procedureType.String
	}
	if unitsDelivered.Valid {
		request.UnitsDelivered = &unitsDelivered.Float64
	}
	if fulfilledAt.Valid {
		request.FulfilledAt = &fulfilledAt.Time
	}
	if cancelledAt.Valid {
		request.CancelledAt = &cancelledAt.Time
	}
	if cancellationReason.Valid {
		request.CancellationReason = &cancellationReason.String
	}

	return &request, nil
}

// collectRequests 扫描多行血液请求
func collectRequests(rows *sql.Rows) ([]*models.BloodRequest, error) {
	var requests []*models.BloodRequest
	for rows.Next() {
		request, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan blood request: %w", err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blood requests: %w", err)
	}
	return requests, nil
}
