package fullscreen

import (
	"context"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/proctord/internal/logging"
	"github.com/fyrsmithlabs/proctord/internal/violation"
	"go.uber.org/zap"
)

// DisplayProbe reports how many displays the candidate device has attached.
type DisplayProbe interface {
	DisplayCount(ctx context.Context) (int, error)
}

// ScreenWatcher polls a DisplayProbe and records MULTI_SCREEN for every probe
// that sees more than one display.
type ScreenWatcher struct {
	probe    DisplayProbe
	recorder violation.Recorder
	interval time.Duration
	logger   *logging.Logger
}

func NewScreenWatcher(probe DisplayProbe, recorder violation.Recorder, interval time.Duration, logger *logging.Logger) *ScreenWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &ScreenWatcher{
		probe:    probe,
		recorder: recorder,
		interval: interval,
		logger:   logger,
	}
}

// Check runs one probe and returns the display count.
func (w *ScreenWatcher) Check(ctx context.Context) (int, error) {
	count, err := w.probe.DisplayCount(ctx)
	if err != nil {
		return 0, err
	}
	if count > 1 {
		w.recorder.Record(ctx, "Multiple displays detected", violation.CategoryMultiScreen,
			map[string]string{"displays": strconv.Itoa(count)})
	}
	return count, nil
}

// Run probes immediately and then every interval until ctx is done.
// Probe errors are logged and do not stop the watcher.
func (w *ScreenWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn(ctx, "display probe failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
