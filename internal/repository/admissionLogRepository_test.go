package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Hourly bucketing uses DATE_TRUNC and is only exercised against Postgres.
func newTestRepository(t *testing.T) *AdmissionLogRepository {
	t.Helper()

	dsn := fmt.Sprintf("file:admission-logs-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.AdmissionLog{}))

	return NewAdmissionLogRepository(&storage.Postgres{DB: db})
}

func entry(key string, allowed bool, tier int, at time.Time) models.AdmissionLog {
	return models.AdmissionLog{
		Timestamp: at,
		RequestID: uuid.New(),
		CallerKey: key,
		Method:    "GET",
		Path:      "/api/bank",
		Allowed:   allowed,
		TierLimit: tier,
	}
}

func seed(t *testing.T, repo *AdmissionLogRepository) {
	t.Helper()

	logs := []models.AdmissionLog{
		entry("alice", true, 600, t0),
		entry("alice", false, 600, t0.Add(time.Minute)),
		entry("bob", false, 300, t0.Add(2*time.Minute)),
		entry("bob", false, 300, t0.Add(3*time.Minute)),
		entry("carol", true, 300, t0.Add(4*time.Minute)),
		entry("old", false, 100, t0.Add(-48*time.Hour)),
	}
	require.NoError(t, repo.CreateBatch(context.Background(), logs))
}

func TestCreateBatchEmpty(t *testing.T) {
	repo := newTestRepository(t)
	assert.NoError(t, repo.CreateBatch(context.Background(), nil))
}

func TestCounts(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()

	from, to := t0.Add(-time.Hour), t0.Add(time.Hour)

	total, err := repo.CountByTimeRange(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	denied, err := repo.CountDenied(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, int64(3), denied)
}

func TestTopDeniedCallers(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)

	top, err := repo.TopDeniedCallers(context.Background(), t0.Add(-time.Hour), t0.Add(time.Hour), 1)
	require.NoError(t, err)

	require.Len(t, top, 1)
	assert.Equal(t, CallerCount{CallerKey: "bob", Count: 2}, top[0])
}

func TestCountByTier(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)

	tiers, err := repo.CountByTier(context.Background(), t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, []TierCount{
		{TierLimit: 600, Allowed: 1, Denied: 1},
		{TierLimit: 300, Allowed: 1, Denied: 2},
	}, tiers)
}

func TestDeleteOldLogs(t *testing.T) {
	repo := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()

	deleted, err := repo.DeleteOldLogs(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	total, err := repo.CountByTimeRange(ctx, t0.Add(-72*time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}
