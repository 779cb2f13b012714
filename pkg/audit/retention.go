package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/loanadmin/pkg/observability"
	"github.com/robfig/cron/v3"
)

// DefaultRetentionBatchSize bounds how many rows one export holds
const DefaultRetentionBatchSize = 5000

// Archiver stores an exported batch. postgres.S3Client satisfies it.
type Archiver interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// RetentionStore is the slice of DBLogger the retention job needs
type RetentionStore interface {
	EventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*AuditEvent, error)
	DeleteThrough(ctx context.Context, cutoff time.Time, maxID int64) (int64, error)
}

// Retention exports audit rows older than the retention window, optionally
// archives them, then deletes them. A batch is deleted only after its archive
// upload succeeds.
type Retention struct {
	store     RetentionStore
	archiver  Archiver
	days      int
	batchSize int
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewRetention creates a retention job. archiver and metrics may be nil;
// days <= 0 disables purging.
func NewRetention(store RetentionStore, archiver Archiver, days int, logger *observability.Logger, metrics *observability.Metrics) *Retention {
	return &Retention{
		store:     store,
		archiver:  archiver,
		days:      days,
		batchSize: DefaultRetentionBatchSize,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run purges every expired batch and returns the number of rows removed
func (r *Retention) Run(ctx context.Context) (int, error) {
	if r.days <= 0 {
		return 0, nil
	}

	cutoff := r.now().UTC().AddDate(0, 0, -r.days)
	total := 0

	for {
		events, err := r.store.EventsBefore(ctx, cutoff, r.batchSize)
		if err != nil {
			r.metrics.RecordAuditArchive(total, err)
			return total, err
		}
		if len(events) == 0 {
			break
		}

		maxID := events[len(events)-1].ID
		if r.archiver != nil {
			data, err := ExportNDJSON(events)
			if err != nil {
				r.metrics.RecordAuditArchive(total, err)
				return total, err
			}
			key := fmt.Sprintf("%s/%d-%d.ndjson", cutoff.Format("2006/01/02"), events[0].ID, maxID)
			if err := r.archiver.PutObject(ctx, key, data, NDJSONContentType); err != nil {
				r.metrics.RecordAuditArchive(total, err)
				return total, fmt.Errorf("failed to archive audit batch: %w", err)
			}
		}

		deleted, err := r.store.DeleteThrough(ctx, cutoff, maxID)
		if err != nil {
			r.metrics.RecordAuditArchive(total, err)
			return total, err
		}
		total += int(deleted)

		if len(events) < r.batchSize {
			break
		}
	}

	r.metrics.RecordAuditArchive(total, nil)
	return total, nil
}

// Schedule registers Run on c using a standard five-field cron spec
func (r *Retention) Schedule(c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		r.logger.Info("starting audit retention run")
		purged, err := r.Run(ctx)
		if err != nil {
			r.logger.WithError(err).Error("audit retention run failed")
			return
		}
		r.logger.WithField("purged", purged).Info("audit retention run completed")
	})
}
