package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBatchSize  = 100
	defaultFlushEvery = 5 * time.Second
	flushTimeout      = 5 * time.Second
)

type LogSink interface {
	CreateBatch(ctx context.Context, logs []models.AdmissionLog) error
}

// Persists one row per admission decision. Rows are queued on a buffered
// channel and inserted in batches by a background worker; when the buffer is
// full the row is dropped rather than blocking the request.
type AdmissionLogger struct {
	sink       LogSink
	entries    chan models.AdmissionLog
	logger     *zap.Logger
	batchSize  int
	flushEvery time.Duration

	done chan struct{}
	once sync.Once
}

type AdmissionLoggerOption func(*AdmissionLogger)

func WithBatchSize(n int) AdmissionLoggerOption {
	return func(l *AdmissionLogger) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) AdmissionLoggerOption {
	return func(l *AdmissionLogger) {
		if d > 0 {
			l.flushEvery = d
		}
	}
}

func NewAdmissionLogger(sink LogSink, bufferSize int, logger *zap.Logger, opts ...AdmissionLoggerOption) *AdmissionLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &AdmissionLogger{
		sink:       sink,
		entries:    make(chan models.AdmissionLog, bufferSize),
		logger:     logger,
		batchSize:  defaultBatchSize,
		flushEvery: defaultFlushEvery,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Starts the batch worker. It flushes whatever is queued when ctx is
// cancelled; Wait blocks until that final flush is done. Cancel ctx only
// after the HTTP server has drained, or rows from the last requests are lost.
func (l *AdmissionLogger) Start(ctx context.Context) {
	l.once.Do(func() {
		go l.run(ctx)
	})
}

func (l *AdmissionLogger) Wait() {
	<-l.done
}

func (l *AdmissionLogger) run(ctx context.Context) {
	defer close(l.done)

	batch := make([]models.AdmissionLog, 0, l.batchSize)
	ticker := time.NewTicker(l.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case entry := <-l.entries:
			batch = append(batch, entry)

			// Insert when batch is full
			if len(batch) >= l.batchSize {
				l.insertBatch(batch)
				batch = make([]models.AdmissionLog, 0, l.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.insertBatch(batch)
				batch = make([]models.AdmissionLog, 0, l.batchSize)
			}
		case <-ctx.Done():
			for {
				select {
				case entry := <-l.entries:
					batch = append(batch, entry)
				default:
					l.insertBatch(batch)
					return
				}
			}
		}
	}
}

func (l *AdmissionLogger) insertBatch(batch []models.AdmissionLog) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := l.sink.CreateBatch(ctx, batch); err != nil {
		l.logger.Warn("failed to insert admission logs",
			zap.Int("count", len(batch)),
			zap.Error(err),
		)
	}
}

// Queues entry without blocking. Reports false when the buffer is full or
// the worker has already made its final flush.
func (l *AdmissionLogger) Enqueue(entry models.AdmissionLog) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.entries <- entry:
		return true
	default:
		return false
	}
}

// Logs every request that reached the rate limiter
func (l *AdmissionLogger) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		d, ok := DecisionFrom(c)
		if !ok {
			return
		}

		requestID, _ := uuid.Parse(c.GetString(RequestIDKey))

		entry := models.AdmissionLog{
			Timestamp:      start,
			RequestID:      requestID,
			CallerKey:      d.Key,
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			Allowed:        d.Allowed,
			TierLimit:      d.TierLimit,
			ActiveCount:    d.ActiveCount,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
		}

		if !l.Enqueue(entry) {
			l.logger.Debug("admission log buffer full, dropping entry",
				zap.String("request_id", requestID.String()),
			)
		}
	}
}
