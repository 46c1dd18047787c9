package memory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically purges messages past the retention window.
type Janitor struct {
	conv          *Conversation
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger
}

// NewJanitor creates a janitor that keeps retentionDays of history and
// sweeps every interval (default one hour).
func NewJanitor(conv *Conversation, retentionDays int, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{conv: conv, retentionDays: retentionDays, interval: interval, logger: logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		j.logger.Info("retention disabled, janitor idle")
		<-ctx.Done()
		return nil
	}

	j.logger.Info("janitor started",
		zap.Int("retention_days", j.retentionDays),
		zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one purge and returns the number of deleted messages.
func (j *Janitor) Sweep(ctx context.Context) int64 {
	return j.conv.Purge(ctx, j.retentionDays)
}
