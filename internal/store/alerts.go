package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarceye/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetricSample is a metric value over a window plus the volume it was
// computed from (messages, sessions or reports depending on the metric).
type MetricSample struct {
	Value  float64
	Volume int64
}

func (s *Store) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

func (s *Store) CountRules(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.AlertRule{}).Count(&n).Error
	return n, err
}

func (s *Store) ListRules(ctx context.Context, enabled *bool) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	query := s.db.WithContext(ctx).Order("id ASC")
	if enabled != nil {
		query = query.Where("is_enabled = ?", *enabled)
	}
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *Store) MarkRuleChecked(ctx context.Context, ruleID uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.AlertRule{}).Where("id = ?", ruleID).
		Update("last_checked", at.UTC()).Error
}

// AlertScopes lists the domains that received data for metric within
// [since, until], by ingestion time.
func (s *Store) AlertScopes(ctx context.Context, metric models.Metric, since, until time.Time) ([]string, error) {
	var table string
	switch metric {
	case models.MetricTLSFailureRate:
		table = "tls_reports"
	case models.MetricForensicCount:
		table = "forensic_reports"
	default:
		table = "aggregate_reports"
	}

	var domains []string
	err := s.db.WithContext(ctx).Table(table).
		Where("created_at >= ? AND created_at <= ?", since.UTC(), until.UTC()).
		Distinct().Order("domain ASC").Pluck("domain", &domains).Error
	if err != nil {
		return nil, fmt.Errorf("list scopes for %s: %w", metric, err)
	}
	return domains, nil
}

type aggregateTotals struct {
	Total     int64
	DmarcPass int64
	SpfPass   int64
	DkimPass  int64
	Reports   int64
}

func (s *Store) aggregateTotals(ctx context.Context, domain string, since, until time.Time) (aggregateTotals, error) {
	var t aggregateTotals
	err := s.db.WithContext(ctx).Table("aggregate_records AS r").
		Select(`COALESCE(SUM(r.count), 0) AS total,
			COALESCE(SUM(CASE WHEN LOWER(r.dkim_result) = 'pass' OR LOWER(r.spf_result) = 'pass' THEN r.count ELSE 0 END), 0) AS dmarc_pass,
			COALESCE(SUM(CASE WHEN LOWER(r.spf_result) = 'pass' THEN r.count ELSE 0 END), 0) AS spf_pass,
			COALESCE(SUM(CASE WHEN LOWER(r.dkim_result) = 'pass' THEN r.count ELSE 0 END), 0) AS dkim_pass,
			COUNT(DISTINCT a.id) AS reports`).
		Joins("JOIN aggregate_reports AS a ON a.id = r.aggregate_report_id").
		Where("a.domain = ? AND a.created_at >= ? AND a.created_at <= ?", domain, since.UTC(), until.UTC()).
		Scan(&t).Error
	return t, err
}

func failureRate(total, ok int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(total-ok) / float64(total) * 100
}

// Sample computes metric for domain over data ingested within [since, until].
func (s *Store) Sample(ctx context.Context, metric models.Metric, domain string, since, until time.Time) (MetricSample, error) {
	switch metric {
	case models.MetricDMARCFailureRate, models.MetricSPFFailureRate, models.MetricDKIMFailureRate, models.MetricMessageVolume:
		t, err := s.aggregateTotals(ctx, domain, since, until)
		if err != nil {
			return MetricSample{}, fmt.Errorf("sample %s for %s: %w", metric, domain, err)
		}
		sample := MetricSample{Volume: t.Total}
		switch metric {
		case models.MetricDMARCFailureRate:
			sample.Value = failureRate(t.Total, t.DmarcPass)
		case models.MetricSPFFailureRate:
			sample.Value = failureRate(t.Total, t.SpfPass)
		case models.MetricDKIMFailureRate:
			sample.Value = failureRate(t.Total, t.DkimPass)
		default:
			sample.Value = float64(t.Total)
		}
		return sample, nil

	case models.MetricTLSFailureRate:
		var t struct {
			Success int64
			Failure int64
		}
		err := s.db.WithContext(ctx).Model(&models.TLSReport{}).
			Select("COALESCE(SUM(total_success), 0) AS success, COALESCE(SUM(total_failure), 0) AS failure").
			Where("domain = ? AND created_at >= ? AND created_at <= ?", domain, since.UTC(), until.UTC()).
			Scan(&t).Error
		if err != nil {
			return MetricSample{}, fmt.Errorf("sample %s for %s: %w", metric, domain, err)
		}
		sessions := t.Success + t.Failure
		return MetricSample{Value: failureRate(sessions, t.Success), Volume: sessions}, nil

	case models.MetricForensicCount:
		var n int64
		err := s.db.WithContext(ctx).Model(&models.ForensicReport{}).
			Where("domain = ? AND created_at >= ? AND created_at <= ?", domain, since.UTC(), until.UTC()).
			Count(&n).Error
		if err != nil {
			return MetricSample{}, fmt.Errorf("sample %s for %s: %w", metric, domain, err)
		}
		return MetricSample{Value: float64(n), Volume: n}, nil
	}
	return MetricSample{}, fmt.Errorf("unknown metric %q", metric)
}

// FireIncident records inc unless the same (rule, scope) already fired less
// than cooldown before inc.FiredAt. The cool-down check and the insert happen
// in one transaction against the rule state row, so concurrent evaluators
// cannot both fire. It reports whether the incident was recorded.
func (s *Store) FireIncident(ctx context.Context, inc *models.AlertIncident, cooldown time.Duration) (bool, error) {
	firedAt := inc.FiredAt.UTC()
	inc.FiredAt = firedAt
	fired := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := models.AlertRuleState{RuleID: inc.RuleID, Scope: inc.Scope}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error; err != nil {
			return fmt.Errorf("ensure rule state: %w", err)
		}

		res := tx.Model(&models.AlertRuleState{}).
			Where("rule_id = ? AND scope = ?", inc.RuleID, inc.Scope).
			Where("(last_fired_at IS NULL OR last_fired_at <= ?)", firedAt.Add(-cooldown)).
			Updates(map[string]interface{}{
				"last_fired_at": firedAt,
				"fire_count":    gorm.Expr("fire_count + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("update rule state: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if inc.CreatedAt.IsZero() {
			inc.CreatedAt = firedAt
		}
		if err := tx.Create(inc).Error; err != nil {
			return fmt.Errorf("create incident: %w", err)
		}
		if err := tx.Model(&models.AlertRule{}).Where("id = ?", inc.RuleID).
			Updates(map[string]interface{}{
				"last_triggered": firedAt,
				"trigger_count":  gorm.Expr("trigger_count + 1"),
			}).Error; err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		fired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return fired, nil
}

func (s *Store) SetIncidentNotifyError(ctx context.Context, id uint, msg string) error {
	return s.db.WithContext(ctx).Model(&models.AlertIncident{}).Where("id = ?", id).
		Update("notify_error", msg).Error
}

func (s *Store) Incidents(ctx context.Context, ruleID uint, scope string) ([]models.AlertIncident, error) {
	var out []models.AlertIncident
	err := s.db.WithContext(ctx).Where("rule_id = ? AND scope = ?", ruleID, scope).
		Order("fired_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (s *Store) GetRule(ctx context.Context, id uint) (*models.AlertRule, error) {
	var rule models.AlertRule
	if err := s.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Store) SetRuleEnabled(ctx context.Context, id uint, enabled bool) error {
	return setEnabled(s.db.WithContext(ctx).Model(&models.AlertRule{}), id, "is_enabled", enabled)
}
