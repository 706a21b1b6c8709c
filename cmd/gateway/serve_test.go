package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu   sync.Mutex
	rows []models.AdmissionLog
}

func (s *memorySink) CreateBatch(_ context.Context, logs []models.AdmissionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, logs...)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Finishes one in-flight request while draining
type drainingServer struct {
	log *middleware.AdmissionLogger
	err error
}

func (s drainingServer) Shutdown(context.Context) error {
	s.log.Enqueue(models.AdmissionLog{CallerKey: "late"})
	return s.err
}

func TestShutdownPersistsRowsFromDrainingRequests(t *testing.T) {
	sink := &memorySink{}
	requestLog := middleware.NewAdmissionLogger(sink, 10, zap.NewNop(), middleware.WithFlushInterval(time.Hour))

	logCtx, stopLog := context.WithCancel(context.Background())
	defer stopLog()
	requestLog.Start(logCtx)

	require.True(t, requestLog.Enqueue(models.AdmissionLog{CallerKey: "early"}))

	err := shutdown(context.Background(), drainingServer{log: requestLog}, requestLog, stopLog)
	require.NoError(t, err)

	assert.Equal(t, 2, sink.count())
	assert.False(t, requestLog.Enqueue(models.AdmissionLog{}), "nothing is accepted after the final flush")
}

func TestShutdownReturnsServerErrorAfterFlushing(t *testing.T) {
	sink := &memorySink{}
	requestLog := middleware.NewAdmissionLogger(sink, 10, zap.NewNop(), middleware.WithFlushInterval(time.Hour))

	logCtx, stopLog := context.WithCancel(context.Background())
	defer stopLog()
	requestLog.Start(logCtx)

	boom := errors.New("context deadline exceeded")
	err := shutdown(context.Background(), drainingServer{log: requestLog, err: boom}, requestLog, stopLog)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sink.count())
}

func TestShutdownWithoutRequestLog(t *testing.T) {
	called := false
	err := shutdown(context.Background(), shutdownFunc(func(context.Context) error {
		called = true
		return nil
	}), nil, func() {})

	assert.NoError(t, err)
	assert.True(t, called)
}

type shutdownFunc func(context.Context) error

func (f shutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }
