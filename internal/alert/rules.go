package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/store"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// RuleManager maintains alert rule definitions.
type RuleManager struct {
	store    *store.Store
	validate *validator.Validate
}

func NewRuleManager(st *store.Store) *RuleManager {
	return &RuleManager{
		store:    st,
		validate: validator.New(),
	}
}

func (rm *RuleManager) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := rm.validate.Struct(rule); err != nil {
		return faults.Invalid("validate rule "+rule.Name, err)
	}
	return rm.store.CreateRule(ctx, rule)
}

func (rm *RuleManager) GetRule(ctx context.Context, id uint) (*models.AlertRule, error) {
	return rm.store.GetRule(ctx, id)
}

func (rm *RuleManager) ListRules(ctx context.Context, enabled *bool) ([]models.AlertRule, error) {
	return rm.store.ListRules(ctx, enabled)
}

func (rm *RuleManager) EnableRule(ctx context.Context, id uint) error {
	return rm.store.SetRuleEnabled(ctx, id, true)
}

func (rm *RuleManager) DisableRule(ctx context.Context, id uint) error {
	return rm.store.SetRuleEnabled(ctx, id, false)
}

// DefaultRules is the starter rule set for a fresh installation.
func DefaultRules() []models.AlertRule {
	return []models.AlertRule{
		{
			Name:           "High DMARC Failure Rate",
			Description:    "Alert when more than 10% of messages fail DMARC over a day",
			Metric:         models.MetricDMARCFailureRate,
			Operator:       models.OperatorGT,
			Threshold:      10,
			Window:         86400,
			MinMessages:    100,
			CooldownPeriod: 86400, // 24 hours
			Level:          models.AlertLevelWarning,
			IsEnabled:      true,
		},
		{
			Name:           "Critical DMARC Failure Rate",
			Description:    "Alert when more than half of messages fail DMARC over a day",
			Metric:         models.MetricDMARCFailureRate,
			Operator:       models.OperatorGT,
			Threshold:      50,
			Window:         86400,
			MinMessages:    100,
			CooldownPeriod: 43200, // 12 hours
			Level:          models.AlertLevelCritical,
			IsEnabled:      true,
		},
		{
			Name:           "TLS Delivery Failures",
			Description:    "Alert when more than 5% of TLS sessions fail",
			Metric:         models.MetricTLSFailureRate,
			Operator:       models.OperatorGT,
			Threshold:      5,
			Window:         86400,
			MinMessages:    50,
			CooldownPeriod: 86400, // 24 hours
			Level:          models.AlertLevelWarning,
			IsEnabled:      true,
		},
		{
			Name:           "Forensic Report Burst",
			Description:    "Alert when more than 20 failure reports arrive within an hour",
			Metric:         models.MetricForensicCount,
			Operator:       models.OperatorGT,
			Threshold:      20,
			Window:         3600,
			CooldownPeriod: 7200, // 2 hours
			Level:          models.AlertLevelCritical,
			IsEnabled:      true,
		},
	}
}

// CreateDefaultRules installs DefaultRules when no rule exists yet. It
// reports how many rules were created.
func (rm *RuleManager) CreateDefaultRules(ctx context.Context) (int, error) {
	n, err := rm.store.CountRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	rules := DefaultRules()
	for i := range rules {
		if err := rm.CreateRule(ctx, &rules[i]); err != nil {
			return i, fmt.Errorf("failed to create default rule %s: %w", rules[i].Name, err)
		}
	}
	return len(rules), nil
}

// ImportRulesFromFile creates every rule in a JSON array file, all or none.
func (rm *RuleManager) ImportRulesFromFile(ctx context.Context, filename string) (int, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	var rules []models.AlertRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return 0, faults.Parse("parse rules", err)
	}
	for i := range rules {
		rules[i].ID = 0
		if err := rm.validate.Struct(&rules[i]); err != nil {
			return 0, faults.Invalid("validate rule "+rules[i].Name, err)
		}
	}

	err = rm.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rules {
			if err := tx.Create(&rules[i]).Error; err != nil {
				return fmt.Errorf("failed to import rule '%s': %w", rules[i].Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(rules), nil
}

func (rm *RuleManager) ExportRulesToFile(ctx context.Context, filename string) error {
	rules, err := rm.ListRules(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch rules: %w", err)
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
