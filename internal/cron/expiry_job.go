package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/Cdineshreddy12/Wrapper-sub013/internal/expiry"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/enums"
	"github.com/Cdineshreddy12/Wrapper-sub013/pkg/logger"
)

type expiryProcessor interface {
	ProcessExpiries(ctx context.Context, creditTypes ...enums.CreditType) (expiry.Report, error)
}

type ExpiryJobParams struct {
	Logger    *logger.Logger
	Processor expiryProcessor
}

// NewExpiryJob sweeps every expired allocation and free sub-balance.
func NewExpiryJob(params ExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("expiry processor required")
	}
	return &expiryJob{logg: params.Logger, processor: params.Processor}, nil
}

type expiryJob struct {
	logg      *logger.Logger
	processor expiryProcessor
}

func (j *expiryJob) Name() string { return "credit-expiry" }

func (j *expiryJob) Run(ctx context.Context) error {
	report, err := j.processor.ProcessExpiries(ctx)
	if err != nil {
		return fmt.Errorf("process expiries: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"processed": report.ProcessedCount,
		"failures":  len(report.Failures),
	}), "expiry sweep complete")

	var errs error
	for _, failure := range report.Failures {
		errs = multierr.Append(errs, fmt.Errorf("%s: %s", failure.ID, failure.Error))
	}
	if errs != nil {
		return fmt.Errorf("%d rows failed to expire: %w", len(report.Failures), errs)
	}
	return nil
}
