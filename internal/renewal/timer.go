package renewal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Timer runs the scanner on a cron schedule ("@hourly", "0 6 * * *", ...).
type Timer struct {
	scanner  *Scanner
	schedule string
	logger   *slog.Logger
	running  atomic.Bool
}

// NewTimer creates a renewal timer.
func NewTimer(scanner *Scanner, schedule string, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{scanner: scanner, schedule: schedule, logger: logger}
}

// ValidateSchedule checks a standard five-field cron expression or descriptor.
func ValidateSchedule(schedule string) error {
	_, err := cron.ParseStandard(schedule)
	return err
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs scans until ctx is cancelled, then waits for an in-flight scan
// to finish. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{t.logger})),
	)
	if _, err := c.AddFunc(t.schedule, func() { t.safeRun(ctx) }); err != nil {
		return fmt.Errorf("renewal: invalid schedule %q: %w", t.schedule, err)
	}

	t.running.Store(true)
	defer t.running.Store(false)

	c.Start()
	t.logger.Info("renewal timer started", "schedule", t.schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in renewal timer", "panic", fmt.Sprint(r))
		}
	}()

	if _, err := t.scanner.Scan(ctx); err != nil {
		t.logger.Warn("renewal scan had errors", "error", err)
	}
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
