package quote

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const DefaultPersistTimeout = 15 * time.Second

// Recorder writes quotes in the background. Callers never wait on the
// write and never see its errors.
type Recorder struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewRecorder(store Store, timeout time.Duration, logger *slog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger}
}

// Record schedules q for persistence and returns immediately. The write is
// detached from any request context.
func (r *Recorder) Record(q Quote) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		started := time.Now()
		if err := r.store.SaveQuote(ctx, q); err != nil {
			var partial *PartialSaveError
			if errors.As(err, &partial) {
				r.logger.Error("quote persisted partially; unsaved rates are not bookable",
					"quote_id", q.Request.ID,
					"client_id", q.Request.ClientID,
					"rates", len(q.Rates),
					"rates_saved", partial.Saved,
					"error", err)
				return
			}
			r.logger.Error("quote persistence failed; quote is not bookable",
				"quote_id", q.Request.ID,
				"client_id", q.Request.ClientID,
				"rates", len(q.Rates),
				"error", err)
			return
		}
		r.logger.Debug("quote persisted",
			"quote_id", q.Request.ID,
			"rates", len(q.Rates),
			"duration", time.Since(started))
	}()
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
