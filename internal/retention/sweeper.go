// Package retention prunes report data past its configured age.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarceye/internal/config"
	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/store"
	"github.com/sirupsen/logrus"
)

type CleanupResult struct {
	AggregateDeleted int64
	ForensicDeleted  int64
	TLSDeleted       int64
	Errors           []string
}

func (r CleanupResult) Total() int64 {
	return r.AggregateDeleted + r.ForensicDeleted + r.TLSDeleted
}

type Sweeper struct {
	store *store.Store
	cfg   config.RetentionConfig
	now   func() time.Time
}

func NewSweeper(st *store.Store, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{store: st, cfg: cfg, now: time.Now}
}

type policy struct {
	kind   models.ReportKind
	days   int
	delete func(context.Context, time.Time) (int64, error)
	count  *int64
}

func (s *Sweeper) policies(res *CleanupResult) []policy {
	return []policy{
		{models.ReportKindAggregate, s.cfg.AggregateDays, s.store.DeleteAggregateBefore, &res.AggregateDeleted},
		{models.ReportKindForensic, s.cfg.ForensicDays, s.store.DeleteForensicBefore, &res.ForensicDeleted},
		{models.ReportKindTLS, s.cfg.TLSDays, s.store.DeleteTLSBefore, &res.TLSDeleted},
	}
}

func (s *Sweeper) cutoff(days int) time.Time {
	return s.now().UTC().AddDate(0, 0, -days)
}

// IsCleanupNeeded reports whether any type with retention enabled has rows
// older than its cutoff.
func (s *Sweeper) IsCleanupNeeded(ctx context.Context) (bool, error) {
	for _, p := range s.policies(&CleanupResult{}) {
		if p.days <= 0 {
			continue
		}
		older, err := s.store.HasOlder(ctx, p.kind, s.cutoff(p.days))
		if err != nil {
			return false, err
		}
		if older {
			return true, nil
		}
	}
	return false, nil
}

// CleanupOldReports deletes each type's expired rows in its own transaction.
// A row whose end timestamp equals the cutoff is kept. A failure for one type
// is recorded and does not stop the others.
func (s *Sweeper) CleanupOldReports(ctx context.Context) CleanupResult {
	log := logging.FromContext(ctx)
	var res CleanupResult

	for _, p := range s.policies(&res) {
		if p.days <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.kind, err))
			continue
		}
		cutoff := s.cutoff(p.days)
		n, err := p.delete(ctx, cutoff)
		if err != nil {
			log.WithError(err).WithField("kind", p.kind).Error("Retention cleanup failed")
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", p.kind, err))
			continue
		}
		*p.count = n
		log.WithFields(logrus.Fields{
			"kind":    p.kind,
			"cutoff":  cutoff.Format(time.RFC3339),
			"deleted": n,
		}).Info("Retention cleanup done")
	}
	return res
}

func (s *Sweeper) StorageStats(ctx context.Context) (store.StorageStats, error) {
	return s.store.Stats(ctx)
}
