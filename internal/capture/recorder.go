package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/thermal.capture/internal/db"
	"github.com/banshee-data/thermal.capture/internal/timeutil"
)

// Store persists captures. *db.DB implements it.
type Store interface {
	RecordCapture(c db.Capture) error
	PruneCaptures(keep int) (int64, error)
}

var _ Store = (*db.DB)(nil)

// RecorderConfig contains configuration for Recorder.
type RecorderConfig struct {
	// Interval between captures (default: 1s)
	Interval time.Duration
	// Retain is how many captures to keep; 0 keeps everything
	Retain int
	// Clock drives the capture ticker (default: timeutil.RealClock)
	Clock timeutil.Clock
}

// Recorder periodically captures a frame and stores it.
type Recorder struct {
	c        *Capturer
	store    Store
	interval time.Duration
	retain   int
	clock    timeutil.Clock
}

// NewRecorder creates a Recorder that stores frames from c in store.
func NewRecorder(c *Capturer, store Store, config RecorderConfig) *Recorder {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	return &Recorder{
		c:        c,
		store:    store,
		interval: config.Interval,
		retain:   config.Retain,
		clock:    config.Clock,
	}
}

// RecordOnce captures one frame, stores it and prunes old captures.
func (r *Recorder) RecordOnce(ctx context.Context) (db.Capture, error) {
	frame, err := r.c.AcquireFrame(ctx)
	if err != nil {
		return db.Capture{}, err
	}

	rec := db.NewCapture(frame, r.c.DecodeOptions().Format, r.clock.Now())
	rec.Resyncs = r.c.Stats().Resyncs
	_, asm := r.c.LinkStats()
	rec.SyncLosses = asm.SyncLosses
	rec.CRCErrors = asm.CRCErrors

	if err := r.store.RecordCapture(rec); err != nil {
		return db.Capture{}, fmt.Errorf("record capture: %w", err)
	}
	if r.retain > 0 {
		if _, err := r.store.PruneCaptures(r.retain); err != nil {
			return rec, fmt.Errorf("prune captures: %w", err)
		}
	}
	return rec, nil
}

// Run records a frame every interval until ctx is cancelled. Capture
// failures are logged and the next tick tries again; it returns early only
// if the receiver stops.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	logf("recording every %s, keeping %d", r.interval, r.retain)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.c.rx.Done():
			return fmt.Errorf("recorder: %w", r.c.rx.Err())
		case <-ticker.C():
		}

		_, err := r.RecordOnce(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrBusy):
			// an API snapshot holds the frame buffer; skip this tick
		case ctx.Err() != nil:
			return nil
		default:
			logf("recording failed: %v", err)
		}
	}
}
