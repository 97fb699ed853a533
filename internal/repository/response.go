package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lifeflow-request/internal/models"

	"go.uber.org/zap"
)

// ResponseRepository 捐献者响应仓库（对应 request_responses 表）
type ResponseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewResponseRepository 创建捐献者响应仓库
func NewResponseRepository(db *sql.DB, logger *zap.Logger) *ResponseRepository {
	return &ResponseRepository{
		db:     db,
		logger: logger,
	}
}

const responseColumns = `
			response_id,
			request_id,
			donor_id,
			hospital_id,
			response_status,
			eta_minutes,
			scheduled_pickup_time,
			confirmed_by_donor_at,
			confirmation_code,
			rejection_reason,
			match_score,
			points_offered,
			created_at,
			updated_at`

// CreateResponse 插入捐献者响应
func (r *ResponseRepository) CreateResponse(ctx context.Context, response *models.RequestResponse) error {
	if response.ResponseID == "" {
		return fmt.Errorf("response_id is required")
	}
	if response.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	query := `
		INSERT INTO request_responses (
			response_id, request_id, donor_id, hospital_id, response_status,
			eta_minutes, scheduled_pickup_time, confirmed_by_donor_at,
			confirmation_code, rejection_reason, match_score, points_offered,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.ExecContext(ctx, query,
		response.ResponseID,
		response.RequestID,
		response.DonorID,
		response.HospitalID,
		response.ResponseStatus,
		response.EtaMinutes,
		response.ScheduledPickupTime,
		response.ConfirmedByDonorAt,
		response.ConfirmationCode,
		response.RejectionReason,
		response.MatchScore,
		response.PointsOffered,
		response.CreatedAt,
		response.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert request response: %w", err)
	}

	r.logger.Info("Request response persisted",
		zap.String("response_id", response.ResponseID),
		zap.String("request_id", response.RequestID),
		zap.String("donor_id", response.DonorID),
	)
	return nil
}

// GetResponse 根据 response_id 获取捐献者响应
func (r *ResponseRepository) GetResponse(ctx context.Context, responseID string) (*models.RequestResponse, error) {
	if responseID == "" {
		return nil, fmt.Errorf("response_id is required")
	}

	query := `SELECT ` + responseColumns + `
		FROM request_responses
		WHERE response_id = $1
	`

	response, err := scanResponse(r.db.QueryRowContext(ctx, query, responseID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("request response not found: response_id=%s: %w", responseID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get request response: %w", err)
	}

	return response, nil
}

// ListPendingByRequest 列出请求下仍处于 PENDING 的响应
func (r *ResponseRepository) ListPendingByRequest(ctx context.Context, requestID string) ([]*models.RequestResponse, error) {
	query := `SELECT ` + responseColumns + `
		FROM request_responses
		WHERE request_id = $1
		  AND response_status = $2
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, requestID, models.ResponsePending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending responses: %w", err)
	}
	defer rows.Close()

	var responses []*models.RequestResponse
	for rows.Next() {
		response, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request response: %w", err)
		}
		responses = append(responses, response)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending responses: %w", err)
	}
	return responses, nil
}

// scanResponse 扫描单行捐献者响应
func scanResponse(row rowScanner) (*models.RequestResponse, error) {
	var response models.RequestResponse
	var etaMinutes, matchScore sql.NullInt64
	var scheduledPickupTime, confirmedByDonorAt sql.NullTime
	var confirmationCode, rejectionReason sql.NullString

	err := row.Scan(
		&response.ResponseID,
		&response.RequestID,
		&response.DonorID,
		&response.HospitalID,
		&response.ResponseStatus,
		&etaMinutes,
		&scheduledPickupTime,
		&confirmedByDonorAt,
		&confirmationCode,
		&rejectionReason,
		&matchScore,
		&response.PointsOffered,
		&response.CreatedAt,
		&response.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// 处理可空字段
	if etaMinutes.Valid {
		eta := int(etaMinutes.Int64)
		response.EtaMinutes = &eta
	}
	if matchScore.Valid {
		score := int(matchScore.Int64)
		response.MatchScore = &score
	}
	if scheduledPickupTime.Valid {
		response.ScheduledPickupTime = &scheduledPickupTime.Time
	}
	if confirmedByDonorAt.Valid {
		response.ConfirmedByDonorAt = &confirmedByDonorAt.Time
	}
	if confirmationCode.Valid {
		response.ConfirmationCode = &confirmationCode.String
	}
	if rejectionReason.Valid {
		response.RejectionReason = &rejectionReason.String
	}

	return &response, nil
}

// UpdateResponse 更新捐献者响应
func (r *ResponseRepository) UpdateResponse(ctx context.Context, response *models.RequestResponse) error {
	query := `
		UPDATE request_responses
		SET response_status = $1,
		    eta_minutes = $2,
		    scheduled_pickup_time = $3,
		    confirmed_by_donor_at = $4,
		    confirmation_code = $5,
		    rejection_reason = $6,
		    updated_at = $7
		WHERE response_id = $8
	`

	response.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		response.ResponseStatus,
		response.EtaMinutes,
		response.ScheduledPickupTime,
		response.ConfirmedByDonorAt,
		response.ConfirmationCode,
		response.RejectionReason,
		response.UpdatedAt,
		response.ResponseID,
	)
	if err != nil {
		return fmt.Errorf("failed to update request response: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("request response not found: response_id=%s: %w", response.ResponseID, models.ErrNotFound)
	}

	return nil
}
