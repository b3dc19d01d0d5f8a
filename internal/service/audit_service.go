package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/audit"
)

// Auditor receives audit records. Record must not block the caller for long.
type Auditor interface {
	Record(rec audit.Record)
}

// AuditService writes audit records through a buffered channel and a
// background worker, so decisions never wait on the audit store.
type AuditService struct {
	store         audit.Store
	records       chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // percent of channel capacity
	lastWarning      atomic.Int64 // unix nanos

	// closeMu guards the channel against sends after Stop.
	closeMu sync.RWMutex
	stopped bool
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the record buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.records = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 = drop immediately (no blocking), >0 = block up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
// Zero disables the warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewAuditService creates an AuditService writing to store.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	const defaultChannelSize = 1000
	s := &AuditService{
		store:            store,
		records:          make(chan audit.Record, defaultChannelSize),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		sendTimeout:      10 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker. Records are flushed every flush
// interval, when a batch fills, and on Stop.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues rec for writing. When the buffer stays full for sendTimeout
// the record is dropped and counted.
func (s *AuditService) Record(rec audit.Record) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.stopped {
		s.recordDrop(rec)
		return
	}

	if s.warningThreshold > 0 {
		if depth := len(s.records); depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.records <- rec:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(rec)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- rec:
	case <-timer.C:
		s.recordDrop(rec)
	}
}

func (s *AuditService) recordDrop(rec audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"event", rec.Event,
		"request_id", rec.RequestID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the number of dropped records.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued records.
func (s *AuditService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the record buffer size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop flushes queued records and waits for the worker to exit.
// Records sent after Stop are dropped. Stop is idempotent.
func (s *AuditService) Stop() {
	s.closeMu.Lock()
	if s.stopped {
		s.closeMu.Unlock()
		return
	}
	s.stopped = true
	close(s.records)
	s.closeMu.Unlock()

	s.wg.Wait()
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Flush(flushCtx); err != nil {
		s.logger.Error("failed to flush audit store", "error", err)
	}
}

// worker batches queued records until the channel is closed. Cancelling ctx
// only bounds individual store writes.
func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.records:
			if !ok {
				if len(batch) > 0 {
					flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.flush(flushCtx, batch)
					cancel()
				}
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// flush writes a batch. Errors are logged, never propagated to callers.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if ctx.Err() != nil {
		// Parent cancelled: write with a bounded deadline instead.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch",
			"error", err,
			"count", len(batch),
		)
	}
}
