package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarceye/internal/models"
	"gorm.io/gorm"
)

// TypeStats describes the stored rows of one report type.
type TypeStats struct {
	Count  int64
	Oldest *time.Time
	Newest *time.Time
}

type StorageStats struct {
	Aggregate   TypeStats
	Forensic    TypeStats
	TLS         TypeStats
	Incidents   int64
	Generations int64
	Schedules   int64
	Digests     int64
}

// DeleteAggregateBefore removes aggregate reports whose period ended strictly
// before cutoff, records first.
func (s *Store) DeleteAggregateBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.AggregateReport{}).Select("id").Where("date_end < ?", cutoff.UTC())
		if err := tx.Where("aggregate_report_id IN (?)", old).Delete(&models.AggregateRecord{}).Error; err != nil {
			return err
		}
		res := tx.Where("date_end < ?", cutoff.UTC()).Delete(&models.AggregateReport{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete aggregate reports before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return deleted, nil
}

func (s *Store) DeleteForensicBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("arrival_date < ?", cutoff.UTC()).Delete(&models.ForensicReport{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete forensic reports before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return deleted, nil
}

func (s *Store) DeleteTLSBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := tx.Model(&models.TLSReport{}).Select("id").Where("date_end < ?", cutoff.UTC())
		if err := tx.Where("tls_report_id IN (?)", old).Delete(&models.TLSPolicy{}).Error; err != nil {
			return err
		}
		res := tx.Where("date_end < ?", cutoff.UTC()).Delete(&models.TLSReport{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete tls reports before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	return deleted, nil
}

// HasOlder reports whether any row of kind has its end timestamp strictly
// before cutoff.
func (s *Store) HasOlder(ctx context.Context, kind models.ReportKind, cutoff time.Time) (bool, error) {
	model, column, err := retentionColumn(kind)
	if err != nil {
		return false, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Where(column+" < ?", cutoff.UTC()).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check %s reports before cutoff: %w", kind, err)
	}
	return n > 0, nil
}

func retentionColumn(kind models.ReportKind) (interface{}, string, error) {
	switch kind {
	case models.ReportKindAggregate:
		return &models.AggregateReport{}, "date_end", nil
	case models.ReportKindForensic:
		return &models.ForensicReport{}, "arrival_date", nil
	case models.ReportKindTLS:
		return &models.TLSReport{}, "date_end", nil
	}
	return nil, "", fmt.Errorf("unknown report kind %q", kind)
}

func (s *Store) typeStats(ctx context.Context, kind models.ReportKind) (TypeStats, error) {
	model, column, err := retentionColumn(kind)
	if err != nil {
		return TypeStats{}, err
	}
	var st TypeStats
	db := s.db.WithContext(ctx)
	if err := db.Model(model).Count(&st.Count).Error; err != nil {
		return st, err
	}
	if st.Count == 0 {
		return st, nil
	}

	// Plucked rather than MIN/MAX so sqlite hands back typed timestamps.
	var oldest, newest []time.Time
	if err := db.Model(model).Order(column+" ASC").Limit(1).Pluck(column, &oldest).Error; err != nil {
		return st, err
	}
	if err := db.Model(model).Order(column+" DESC").Limit(1).Pluck(column, &newest).Error; err != nil {
		return st, err
	}
	if len(oldest) == 1 {
		t := oldest[0].UTC()
		st.Oldest = &t
	}
	if len(newest) == 1 {
		t := newest[0].UTC()
		st.Newest = &t
	}
	return st, nil
}

func (s *Store) Stats(ctx context.Context) (StorageStats, error) {
	var out StorageStats
	var err error
	if out.Aggregate, err = s.typeStats(ctx, models.ReportKindAggregate); err != nil {
		return out, fmt.Errorf("aggregate stats: %w", err)
	}
	if out.Forensic, err = s.typeStats(ctx, models.ReportKindForensic); err != nil {
		return out, fmt.Errorf("forensic stats: %w", err)
	}
	if out.TLS, err = s.typeStats(ctx, models.ReportKindTLS); err != nil {
		return out, fmt.Errorf("tls stats: %w", err)
	}

	counts := []struct {
		model interface{}
		dst   *int64
	}{
		{&models.AlertIncident{}, &out.Incidents},
		{&models.ReportGeneration{}, &out.Generations},
		{&models.ReportSchedule{}, &out.Schedules},
		{&models.DigestSubscription{}, &out.Digests},
	}
	for _, c := range counts {
		if err := s.db.WithContext(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			return out, fmt.Errorf("count rows: %w", err)
		}
	}
	return out, nil
}
