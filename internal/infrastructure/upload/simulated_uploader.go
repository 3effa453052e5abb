package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"coachroom/internal/core/domain"
	"coachroom/internal/core/ports"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrSimulatedFailure is returned when FailAfter is reached.
var ErrSimulatedFailure = errors.New("simulated upload failure")

type SimulatedConfig struct {
	// Step is the percentage added on each interval.
	Step     int
	Interval time.Duration
	// FailAfter makes the upload fail once progress reaches this percentage.
	// Zero never fails.
	FailAfter int
	Clock     clockwork.Clock
}

// SimulatedUploader consumes the document and reports progress in fixed
// steps. Nothing is stored.
type SimulatedUploader struct {
	cfg    SimulatedConfig
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

func NewSimulatedUploader(cfg SimulatedConfig, logger *zap.SugaredLogger) *SimulatedUploader {
	if cfg.Step <= 0 || cfg.Step > 100 {
		cfg.Step = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 200 * time.Millisecond
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SimulatedUploader{cfg: cfg, clock: clock, logger: logger}
}

var _ ports.Uploader = (*SimulatedUploader)(nil)

func (u *SimulatedUploader) Upload(ctx context.Context, file domain.UploadFile, r io.Reader, progress func(domain.UploadProgress)) error {
	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return fmt.Errorf("read %s: %w", file.Name, err)
	}

	ticker := u.clock.NewTicker(u.cfg.Interval)
	defer ticker.Stop()

	percent := 0
	for percent < 100 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}

		percent = min(percent+u.cfg.Step, 100)
		if u.cfg.FailAfter > 0 && percent >= u.cfg.FailAfter {
			return ErrSimulatedFailure
		}
		if progress != nil {
			progress(domain.UploadProgress{Percent: percent, At: u.clock.Now()})
		}
	}

	u.logger.Debugw("simulated upload complete", "file", file.Name, "bytes", n)
	return nil
}
