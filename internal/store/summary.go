package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmarceye/internal/models"
	"gorm.io/gorm"
)

// DomainSummary rolls up everything received for one domain in a period.
type DomainSummary struct {
	Domain       string
	Reports      int64
	Messages     int64
	DmarcPass    int64
	SpfPass      int64
	DkimPass     int64
	Quarantined  int64
	Rejected     int64
	TLSSuccess   int64
	TLSFailure   int64
	ForensicSeen int64
}

func (d DomainSummary) PassRate() float64 {
	if d.Messages == 0 {
		return 0
	}
	return float64(d.DmarcPass) / float64(d.Messages) * 100
}

func (d DomainSummary) TLSFailureRate() float64 {
	return failureRate(d.TLSSuccess+d.TLSFailure, d.TLSSuccess)
}

// SourceSummary is the traffic of one sending IP in a period.
type SourceSummary struct {
	SourceIP string
	Messages int64
	Passed   int64
	Failed   int64
}

func withDomain(q *gorm.DB, column, domain string) *gorm.DB {
	if domain == "" {
		return q
	}
	return q.Where(column+" = ?", domain)
}

// DomainSummaries aggregates aggregate, TLS and forensic reports whose
// reporting period starts within [start, end). domain may be empty for all.
func (s *Store) DomainSummaries(ctx context.Context, domain string, start, end time.Time) ([]DomainSummary, error) {
	start, end = start.UTC(), end.UTC()
	byDomain := map[string]*DomainSummary{}
	get := func(d string) *DomainSummary {
		if ds, ok := byDomain[d]; ok {
			return ds
		}
		ds := &DomainSummary{Domain: d}
		byDomain[d] = ds
		return ds
	}

	var agg []DomainSummary
	q := s.db.WithContext(ctx).Table("aggregate_records AS r").
		Select(`a.domain AS domain,
			COUNT(DISTINCT a.id) AS reports,
			COALESCE(SUM(r.count), 0) AS messages,
			COALESCE(SUM(CASE WHEN LOWER(r.dkim_result) = 'pass' OR LOWER(r.spf_result) = 'pass' THEN r.count ELSE 0 END), 0) AS dmarc_pass,
			COALESCE(SUM(CASE WHEN LOWER(r.spf_result) = 'pass' THEN r.count ELSE 0 END), 0) AS spf_pass,
			COALESCE(SUM(CASE WHEN LOWER(r.dkim_result) = 'pass' THEN r.count ELSE 0 END), 0) AS dkim_pass,
			COALESCE(SUM(CASE WHEN LOWER(r.disposition) = 'quarantine' THEN r.count ELSE 0 END), 0) AS quarantined,
			COALESCE(SUM(CASE WHEN LOWER(r.disposition) = 'reject' THEN r.count ELSE 0 END), 0) AS rejected`).
		Joins("JOIN aggregate_reports AS a ON a.id = r.aggregate_report_id").
		Where("a.date_begin >= ? AND a.date_begin < ?", start, end)
	if err := withDomain(q, "a.domain", domain).Group("a.domain").Scan(&agg).Error; err != nil {
		return nil, fmt.Errorf("summarize aggregate reports: %w", err)
	}
	for _, a := range agg {
		ds := get(a.Domain)
		a.TLSSuccess, a.TLSFailure, a.ForensicSeen = ds.TLSSuccess, ds.TLSFailure, ds.ForensicSeen
		*ds = a
	}

	var tls []struct {
		Domain  string
		Success int64
		Failure int64
	}
	q = s.db.WithContext(ctx).Model(&models.TLSReport{}).
		Select("domain, COALESCE(SUM(total_success), 0) AS success, COALESCE(SUM(total_failure), 0) AS failure").
		Where("date_begin >= ? AND date_begin < ?", start, end)
	if err := withDomain(q, "domain", domain).Group("domain").Scan(&tls).Error; err != nil {
		return nil, fmt.Errorf("summarize tls reports: %w", err)
	}
	for _, t := range tls {
		ds := get(t.Domain)
		ds.TLSSuccess, ds.TLSFailure = t.Success, t.Failure
	}

	var forensic []struct {
		Domain string
		Total  int64
	}
	q = s.db.WithContext(ctx).Model(&models.ForensicReport{}).
		Select("domain, COUNT(*) AS total").
		Where("arrival_date >= ? AND arrival_date < ?", start, end)
	if err := withDomain(q, "domain", domain).Group("domain").Scan(&forensic).Error; err != nil {
		return nil, fmt.Errorf("summarize forensic reports: %w", err)
	}
	for _, f := range forensic {
		get(f.Domain).ForensicSeen = f.Total
	}

	out := make([]DomainSummary, 0, len(byDomain))
	for _, ds := range byDomain {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Domain < out[j].Domain
	})
	return out, nil
}

// TopSources returns the sending IPs with the most messages in the period.
func (s *Store) TopSources(ctx context.Context, domain string, start, end time.Time, limit int) ([]SourceSummary, error) {
	var out []SourceSummary
	q := s.db.WithContext(ctx).Table("aggregate_records AS r").
		Select(`r.source_ip AS source_ip,
			COALESCE(SUM(r.count), 0) AS messages,
			COALESCE(SUM(CASE WHEN LOWER(r.dkim_result) = 'pass' OR LOWER(r.spf_result) = 'pass' THEN r.count ELSE 0 END), 0) AS passed`).
		Joins("JOIN aggregate_reports AS a ON a.id = r.aggregate_report_id").
		Where("a.date_begin >= ? AND a.date_begin < ?", start.UTC(), end.UTC())
	q = withDomain(q, "a.domain", domain).Group("r.source_ip").Order("messages DESC, source_ip ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("top sources: %w", err)
	}
	for i := range out {
		out[i].Failed = out[i].Messages - out[i].Passed
	}
	return out, nil
}

// ForensicSamples returns the most recent failure reports in the period.
func (s *Store) ForensicSamples(ctx context.Context, domain string, start, end time.Time, limit int) ([]models.ForensicReport, error) {
	var out []models.ForensicReport
	q := s.db.WithContext(ctx).
		Where("arrival_date >= ? AND arrival_date < ?", start.UTC(), end.UTC()).
		Order("arrival_date DESC, id DESC")
	q = withDomain(q, "domain", domain)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("forensic samples: %w", err)
	}
	return out, nil
}
