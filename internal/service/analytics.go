package service

import (
	"context"
	"errors"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/repository"
)

var ErrHistoryDisabled = errors.New("admission history is not configured")

// Read side of the admission log store
type AdmissionLogReader interface {
	CountByTimeRange(ctx context.Context, from, to time.Time) (int64, error)
	CountDenied(ctx context.Context, from, to time.Time) (int64, error)
	TopDeniedCallers(ctx context.Context, from, to time.Time, limit int) ([]repository.CallerCount, error)
	CountByTier(ctx context.Context, from, to time.Time) ([]repository.TierCount, error)
	GetHourlyDecisions(ctx context.Context, from, to time.Time) ([]repository.HourlyCount, error)
	DeleteOldLogs(ctx context.Context, before time.Time) (int64, error)
}

type AnalyticsService struct {
	repository AdmissionLogReader
}

// repo may be nil when no database is configured; every call then returns
// ErrHistoryDisabled.
func NewAnalyticsService(repo AdmissionLogReader) *AnalyticsService {
	return &AnalyticsService{repository: repo}
}

type AdmissionSummary struct {
	TotalRequests    int64                    `json:"total_requests"`
	DeniedRequests   int64                    `json:"denied_requests"`
	DenialRate       float64                  `json:"denial_rate"`
	ByTier           []repository.TierCount   `json:"by_tier"`
	TopDeniedCallers []repository.CallerCount `json:"top_denied_callers"`
}

func (s *AnalyticsService) Enabled() bool {
	return s != nil && s.repository != nil
}

// Retrieves the admission summary for a time range
func (s *AnalyticsService) GetSummary(ctx context.Context, from, to time.Time) (*AdmissionSummary, error) {
	if !s.Enabled() {
		return nil, ErrHistoryDisabled
	}

	summary := &AdmissionSummary{
		ByTier:           []repository.TierCount{},
		TopDeniedCallers: []repository.CallerCount{},
	}

	total, err := s.repository.CountByTimeRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.TotalRequests = total

	if total == 0 {
		return summary, nil
	}

	denied, err := s.repository.CountDenied(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.DeniedRequests = denied
	summary.DenialRate = (float64(denied) / float64(total)) * 100

	byTier, err := s.repository.CountByTier(ctx, from, to)
	if err != nil {
		return nil, err
	}
	summary.ByTier = byTier

	top, err := s.repository.TopDeniedCallers(ctx, from, to, 10)
	if err != nil {
		return nil, err
	}
	summary.TopDeniedCallers = top

	return summary, nil
}

func (s *AnalyticsService) GetTimeSeries(ctx context.Context, from, to time.Time) ([]repository.HourlyCount, error) {
	if !s.Enabled() {
		return nil, ErrHistoryDisabled
	}

	return s.repository.GetHourlyDecisions(ctx, from, to)
}

// Deletes logs older than the retention period
func (s *AnalyticsService) CleanupOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	if !s.Enabled() {
		return 0, ErrHistoryDisabled
	}

	return s.repository.DeleteOldLogs(ctx, time.Now().Add(-retention))
}
