package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
)

type AdmissionLogRepository struct {
	db *storage.Postgres
}

func NewAdmissionLogRepository(db *storage.Postgres) *AdmissionLogRepository {
	return &AdmissionLogRepository{db: db}
}

type CallerCount struct {
	CallerKey string `json:"caller_key"`
	Count     int64  `json:"count"`
}

type TierCount struct {
	TierLimit int   `json:"tier_limit"`
	Allowed   int64 `json:"allowed"`
	Denied    int64 `json:"denied"`
}

type HourlyCount struct {
	Hour           time.Time `json:"hour"`
	Allowed        int64     `json:"allowed"`
	Denied         int64     `json:"denied"`
	AvgActiveCount float64   `json:"avg_active_count"`
}

// Inserts multiple logs (for batch insertion)
func (r *AdmissionLogRepository) CreateBatch(ctx context.Context, logs []models.AdmissionLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// Counts logs in a time range
func (r *AdmissionLogRepository) CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Where("timestamp BETWEEN ? AND ?", from, to).
		Count(&count).Error

	return count, err
}

// Counts rejected requests in a time range
func (r *AdmissionLogRepository) CountDenied(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Where("allowed = ? AND timestamp BETWEEN ? AND ?", false, from, to).
		Count(&count).Error

	return count, err
}

// Returns the callers rejected most often
func (r *AdmissionLogRepository) TopDeniedCallers(ctx context.Context, from, to time.Time, limit int) ([]CallerCount, error) {
	var results []CallerCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Select("caller_key, COUNT(*) as count").
		Where("allowed = ? AND timestamp BETWEEN ? AND ?", false, from, to).
		Group("caller_key").
		Order("count DESC").
		Limit(limit).
		Scan(&results).Error

	return results, err
}

func (r *AdmissionLogRepository) CountByTier(ctx context.Context, from, to time.Time) ([]TierCount, error) {
	var results []TierCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Select("tier_limit, " +
			"SUM(CASE WHEN allowed THEN 1 ELSE 0 END) as allowed, " +
			"SUM(CASE WHEN allowed THEN 0 ELSE 1 END) as denied").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("tier_limit").
		Order("tier_limit DESC").
		Scan(&results).Error

	return results, err
}

// Returns decisions grouped by hour
func (r *AdmissionLogRepository) GetHourlyDecisions(ctx context.Context, from, to time.Time) ([]HourlyCount, error) {
	var results []HourlyCount

	err := r.db.DB.WithContext(ctx).
		Model(&models.AdmissionLog{}).
		Select("DATE_TRUNC('hour', timestamp) as hour, " +
			"SUM(CASE WHEN allowed THEN 1 ELSE 0 END) as allowed, " +
			"SUM(CASE WHEN allowed THEN 0 ELSE 1 END) as denied, " +
			"AVG(active_count) as avg_active_count").
		Where("timestamp BETWEEN ? AND ?", from, to).
		Group("hour").
		Order("hour ASC").
		Scan(&results).Error

	return results, err
}

// Deletes logs older than the specified time
func (r *AdmissionLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AdmissionLog{})

	return result.RowsAffected, result.Error
}
