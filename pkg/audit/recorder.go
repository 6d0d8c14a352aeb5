package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RecorderConfig contains configuration for the audit recorder.
type RecorderConfig struct {
	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int

	// WriteTimeout bounds a single storage write and how long Record waits
	// for buffer space.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// DefaultRecorderConfig returns the default recorder configuration.
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		AsyncBuffer:  1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes audit records asynchronously so screening calls never
// block on storage.
type Recorder struct {
	storage    Storage
	config     RecorderConfig
	recordChan chan *Record
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	logger     *slog.Logger
}

// NewRecorder creates a recorder and starts its background writer.
func NewRecorder(storage Storage, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	def := DefaultRecorderConfig()
	if cfg.AsyncBuffer <= 0 {
		cfg.AsyncBuffer = def.AsyncBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		storage:    storage,
		config:     cfg,
		recordChan: make(chan *Record, cfg.AsyncBuffer),
		done:       make(chan struct{}),
		logger:     logger.With("component", "audit.recorder"),
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("audit recorder initialized",
		"async_buffer", cfg.AsyncBuffer,
		"write_timeout", cfg.WriteTimeout,
	)
	return r
}

// Record enqueues rec for writing. It returns a RecorderError when the
// buffer stays full for WriteTimeout or the recorder is closed.
func (r *Recorder) Record(ctx context.Context, rec *Record) error {
	select {
	case <-r.done:
		return &RecorderError{RecordID: rec.ID, Cause: context.Canceled}
	default:
	}

	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.recordChan <- rec:
		r.logger.Debug("audit record enqueued", "record_id", rec.ID, "request_id", rec.RequestID)
		return nil
	case <-timer.C:
		r.logger.Error("audit record channel full, dropping record",
			"record_id", rec.ID,
			"request_id", rec.RequestID,
			"channel_capacity", r.config.AsyncBuffer,
		)
		return &RecorderError{RecordID: rec.ID, Cause: context.DeadlineExceeded}
	case <-ctx.Done():
		return &RecorderError{RecordID: rec.ID, Cause: ctx.Err()}
	case <-r.done:
		r.logger.Warn("recorder shutting down, dropping record", "record_id", rec.ID)
		return &RecorderError{RecordID: rec.ID, Cause: context.Canceled}
	}
}

// Close stops accepting records, drains the buffer and waits for pending writes.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down audit recorder")
		close(r.done)
		r.wg.Wait()
		r.logger.Info("audit recorder shut down complete")
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for {
		select {
		case rec := <-r.recordChan:
			r.write(rec)
		case <-r.done:
			r.logger.Info("draining audit channel before shutdown", "pending_count", len(r.recordChan))
			for {
				select {
				case rec := <-r.recordChan:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.storage.Store(ctx, rec); err != nil {
		r.logger.Error("failed to store audit record",
			"record_id", rec.ID,
			"request_id", rec.RequestID,
			"error", err,
		)
		return
	}

	duration := time.Since(start)
	r.logger.Debug("audit record stored",
		"record_id", rec.ID,
		"verdict", rec.Verdict,
		"duration_ms", duration.Milliseconds(),
	)
	if duration > r.config.WriteTimeout/2 {
		r.logger.Warn("slow audit write",
			"record_id", rec.ID,
			"duration_ms", duration.Milliseconds(),
			"threshold_ms", (r.config.WriteTimeout / 2).Milliseconds(),
		)
	}
}
