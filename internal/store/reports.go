package store

import (
	"context"
	"fmt"

	"github.com/dmarceye/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const recordBatchSize = 200

var onDedupConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "dedup_key"}},
	DoNothing: true,
}

// SaveAggregate inserts the report and its records unless a report with the
// same natural key is already stored. It reports whether a row was inserted.
func (s *Store) SaveAggregate(ctx context.Context, r *models.AggregateReport) (bool, error) {
	r.DedupKey = r.NaturalKey()
	records := r.Records
	r.Records = nil
	defer func() { r.Records = records }()

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(onDedupConflict).Create(r)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true

		for i := range records {
			records[i].AggregateReportID = r.ID
		}
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, recordBatchSize).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save aggregate report %s: %w", r.ReportID, err)
	}
	return inserted, nil
}

func (s *Store) SaveForensic(ctx context.Context, r *models.ForensicReport) (bool, error) {
	r.DedupKey = r.NaturalKey()
	res := s.db.WithContext(ctx).Clauses(onDedupConflict).Create(r)
	if res.Error != nil {
		return false, fmt.Errorf("save forensic report for %s: %w", r.Domain, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SaveTLS(ctx context.Context, r *models.TLSReport) (bool, error) {
	r.DedupKey = r.NaturalKey()
	policies := r.Policies
	r.Policies = nil
	defer func() { r.Policies = policies }()

	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(onDedupConflict).Create(r)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true

		for i := range policies {
			policies[i].TLSReportID = r.ID
		}
		if len(policies) > 0 {
			if err := tx.Create(&policies).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("save tls report %s: %w", r.ReportID, err)
	}
	return inserted, nil
}

func (s *Store) CountAggregate(ctx context.Context, dedupKey string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AggregateReport{}).Where("dedup_key = ?", dedupKey).Count(&n).Error
	return n, err
}
