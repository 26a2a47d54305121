package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

const defaultWarningWindow = 72 * time.Hour

type expiryNotifier interface {
	NotifyExpiring(ctx context.Context, within time.Duration) (int, error)
}

type ExpiryWarningJobParams struct {
	Logger   *logger.Logger
	Notifier expiryNotifier
	Window   time.Duration
}

// NewExpiryWarningJob queues allocation_expiring for allocations that lapse
// within the window. Each allocation is warned about once.
func NewExpiryWarningJob(params ExpiryWarningJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("expiry notifier required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultWarningWindow
	}
	return &expiryWarningJob{logg: params.Logger, notifier: params.Notifier, window: window}, nil
}

type expiryWarningJob struct {
	logg     *logger.Logger
	notifier expiryNotifier
	window   time.Duration
}

func (j *expiryWarningJob) Name() string { return "credit-expiry-warning" }

func (j *expiryWarningJob) Run(ctx context.Context) error {
	queued, err := j.notifier.NotifyExpiring(ctx, j.window)
	if err != nil {
		return fmt.Errorf("notify expiring: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"window": j.window.String(),
		"warned": queued,
	}), "expiry warnings queued")
	return nil
}
