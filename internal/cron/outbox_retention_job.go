package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/pkg/logger"
)

const (
	defaultRetentionDays = 30
	defaultParkAttempts  = 10
)

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

// OutboxRetentionJobParams configures outbox pruning. Rows published more
// than Retention days ago are removed, as are unpublished rows parked at
// MinAttempts or more that were created before the same cutoff.
type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPruner
	Retention   int
	MinAttempts int
	Clock       func() time.Time
}

type outboxRetentionJob struct {
	OutboxRetentionJobParams
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	if params.Retention <= 0 {
		params.Retention = defaultRetentionDays
	}
	if params.MinAttempts <= 0 {
		params.MinAttempts = defaultParkAttempts
	}
	if params.Clock == nil {
		params.Clock = time.Now
	}
	return &outboxRetentionJob{params}, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.Clock().UTC().AddDate(0, 0, -j.Retention)
	var pruned int64
	if err := j.DB.WithTx(ctx, func(tx *gorm.DB) (err error) {
		pruned, err = j.Repository.DeletePublishedBefore(ctx, tx, cutoff, j.MinAttempts)
		return err
	}); err != nil {
		return fmt.Errorf("prune outbox before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	j.Logger.Info(j.Logger.WithFields(ctx, map[string]any{
		"cutoff":      cutoff,
		"rows_pruned": pruned,
	}), "outbox rows pruned")
	return nil
}
