// Package audit writes the verification attempt trail off the request path.
package audit

import (
	"context"
	"sync"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/pkg/logger"

	"golang.org/x/sync/semaphore"
)

// AttemptStore persists attempts.
type AttemptStore interface {
	Create(ctx context.Context, attempt *domain.VerificationAttempt) error
}

// Observer counts write results.
type Observer interface {
	AttemptRecorded(ok bool)
}

const (
	writeTimeout   = 5 * time.Second
	maxConcurrency = 16
)

// Recorder writes attempts asynchronously. When every writer slot is busy the attempt
// is dropped and counted as a failed write; the verify call never waits on the store.
type Recorder struct {
	store    AttemptStore
	logger   logger.Logger
	observer Observer
	slots    *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder creates a Recorder. observer may be nil.
func NewRecorder(store AttemptStore, log logger.Logger, observer Observer) *Recorder {
	return &Recorder{
		store:    store,
		logger:   log,
		observer: observer,
		slots:    semaphore.NewWeighted(maxConcurrency),
	}
}

// Record queues the attempt for writing.
func (r *Recorder) Record(attempt *domain.VerificationAttempt) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if !r.slots.TryAcquire(1) {
		r.mu.Unlock()
		r.logger.Warn("Audit writers saturated, dropping attempt", map[string]interface{}{
			"attempt_id":   attempt.ID.String(),
			"predicate_id": attempt.PredicateID,
		})
		r.recorded(false)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer r.slots.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := r.store.Create(ctx, attempt); err != nil {
			r.logger.Error("Failed to record verification attempt", map[string]interface{}{
				"attempt_id":   attempt.ID.String(),
				"predicate_id": attempt.PredicateID,
				"error":        err.Error(),
			})
			r.recorded(false)
			return
		}
		r.recorded(true)
	}()
}

// Close stops accepting attempts and waits for in-flight writes until ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) recorded(ok bool) {
	if r.observer != nil {
		r.observer.AttemptRecorded(ok)
	}
}
