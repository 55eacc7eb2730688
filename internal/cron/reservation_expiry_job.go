package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/internal/inventory"
	"github.com/angelmondragon/walamarket/pkg/enums"
	"github.com/angelmondragon/walamarket/pkg/logger"
	"github.com/angelmondragon/walamarket/pkg/metrics"
	"github.com/angelmondragon/walamarket/pkg/outbox"
	"github.com/angelmondragon/walamarket/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ReservationExpiryJobParams configures the expired-hold sweep.
type ReservationExpiryJobParams struct {
	Logger  *logger.Logger
	DB      txRunner
	Store   inventory.Store
	Outbox  outboxEmitter
	Metrics *metrics.ReservationMetrics
	Clock   func() time.Time
}

// NewReservationExpiryJob returns the job that returns lapsed holds to the
// available pool.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("inventory store required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &reservationExpiryJob{
		logg:    params.Logger,
		db:      params.DB,
		store:   params.Store,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		now:     clock,
	}, nil
}

type reservationExpiryJob struct {
	logg    *logger.Logger
	db      txRunner
	store   inventory.Store
	outbox  outboxEmitter
	metrics *metrics.ReservationMetrics
	now     func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

// Run releases every hold whose deadline is before the cycle's clock reading.
// Failures on one product do not stop the sweep.
func (j *reservationExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	held, err := j.store.ScanReserved(ctx)
	if err != nil {
		return fmt.Errorf("scan reserved products: %w", err)
	}

	var (
		errs     error
		released int
		skipped  int
	)
	for _, product := range held {
		if product.ReservationExpiry == nil || !product.ReservationExpiry.Before(now) {
			skipped++
			continue
		}
		ok, err := j.expire(ctx, product.ID.String(), func(tx *gorm.DB) (bool, error) {
			ok, err := j.store.WithTx(tx).ReleaseExpired(ctx, product.ID, now)
			if err != nil || !ok {
				return ok, err
			}
			holder := ""
			if product.ReservedBy != nil {
				holder = *product.ReservedBy
			}
			return true, j.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReservationExpired,
				AggregateType: enums.AggregateProduct,
				AggregateID:   product.ID,
				Actor:         &outbox.ActorRef{SessionID: holder},
				Data: payloads.ReservationExpiredEvent{
					ProductID:  product.ID,
					SessionID:  holder,
					ExpiredAt:  product.ReservationExpiry.UTC(),
					ReleasedAt: now,
				},
				OccurredAt: now,
			})
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			released++
			j.metrics.IncRelease(metrics.ReleaseExpired)
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":  len(held),
		"released": released,
		"live":     skipped,
		"as_of":    now,
	})
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return errs
}

func (j *reservationExpiryJob) expire(ctx context.Context, productID string, fn func(tx *gorm.DB) (bool, error)) (bool, error) {
	var released bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := fn(tx)
		if err != nil {
			return err
		}
		released = ok
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("expire product %s: %w", productID, err)
	}
	return released, nil
}
