package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/store"
	"github.com/sirupsen/logrus"
)

// RuleEvaluator checks enabled alert rules against recently ingested data
// and fires incidents, at most once per cool-down per (rule, domain).
type RuleEvaluator struct {
	store    *store.Store
	notifier Notifier
	now      func() time.Time
}

func NewRuleEvaluator(st *store.Store, notifier Notifier) *RuleEvaluator {
	return &RuleEvaluator{
		store:    st,
		notifier: notifier,
		now:      time.Now,
	}
}

// RunAlertChecks evaluates every enabled rule in id order and returns the
// incidents fired by this run. A failing rule is logged and skipped.
func (e *RuleEvaluator) RunAlertChecks(ctx context.Context) ([]models.AlertIncident, error) {
	log := logging.FromContext(ctx)

	enabled := true
	rules, err := e.store.ListRules(ctx, &enabled)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rules: %w", err)
	}

	var fired []models.AlertIncident
	for i := range rules {
		if err := ctx.Err(); err != nil {
			log.WithError(err).Warn("Stopping alert checks early")
			break
		}
		rule := &rules[i]
		rlog := log.WithFields(logrus.Fields{"rule_id": rule.ID, "rule": rule.Name})

		incidents, err := e.evaluateRule(ctx, rlog, rule)
		fired = append(fired, incidents...)
		if err != nil {
			rlog.WithError(err).Error("Failed to evaluate rule")
			continue
		}
	}
	return fired, nil
}

func (e *RuleEvaluator) evaluateRule(ctx context.Context, log logrus.FieldLogger, rule *models.AlertRule) (incidents []models.AlertIncident, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating rule %d: %v", rule.ID, r)
		}
	}()

	now := e.now().UTC()
	since := now.Add(-time.Duration(rule.Window) * time.Second)

	scopes := []string{rule.Domain}
	if rule.Domain == "" {
		if scopes, err = e.store.AlertScopes(ctx, rule.Metric, since, now); err != nil {
			return nil, err
		}
	}

	for _, scope := range scopes {
		sample, err := e.store.Sample(ctx, rule.Metric, scope, since, now)
		if err != nil {
			return incidents, err
		}
		if sample.Volume < int64(rule.MinMessages) {
			log.WithFields(logrus.Fields{"domain": scope, "volume": sample.Volume}).Debug("Not enough data to evaluate")
			continue
		}
		if !e.evaluateCondition(rule.Operator, sample.Value, rule.Threshold) {
			continue
		}

		inc := &models.AlertIncident{
			RuleID:       rule.ID,
			RuleName:     rule.Name,
			Scope:        scope,
			Metric:       rule.Metric,
			Operator:     rule.Operator,
			Threshold:    rule.Threshold,
			CurrentValue: sample.Value,
			Level:        rule.Level,
			Message:      e.formatAlertMessage(rule, scope, sample.Value),
			Status:       models.IncidentStatusActive,
			FiredAt:      now,
		}
		ok, err := e.store.FireIncident(ctx, inc, time.Duration(rule.CooldownPeriod)*time.Second)
		if err != nil {
			return incidents, err
		}
		if !ok {
			log.WithField("domain", scope).Debug("Rule in cool-down, not firing")
			continue
		}
		log.WithFields(logrus.Fields{"domain": scope, "value": sample.Value}).Warn("Alert fired")

		if e.notifier != nil {
			if nerr := e.notifier.Notify(ctx, rule, inc); nerr != nil {
				log.WithError(nerr).Warn("Failed to deliver alert notification")
				inc.NotifyError = nerr.Error()
				if err := e.store.SetIncidentNotifyError(context.WithoutCancel(ctx), inc.ID, inc.NotifyError); err != nil {
					log.WithError(err).Warn("Failed to record notification error")
				}
			}
		}
		incidents = append(incidents, *inc)
	}

	if err := e.store.MarkRuleChecked(context.WithoutCancel(ctx), rule.ID, now); err != nil {
		return incidents, err
	}
	return incidents, nil
}

func (e *RuleEvaluator) evaluateCondition(operator models.Operator, current, threshold float64) bool {
	switch operator {
	case models.OperatorGT:
		return current > threshold
	case models.OperatorLT:
		return current < threshold
	case models.OperatorGTE:
		return current >= threshold
	case models.OperatorLTE:
		return current <= threshold
	case models.OperatorEQ:
		return current == threshold
	default:
		return false
	}
}

func (e *RuleEvaluator) formatAlertMessage(rule *models.AlertRule, domain string, currentValue float64) string {
	return fmt.Sprintf("%s: %s for %s is %.2f (threshold %s %.2f) over the last %s",
		rule.Name,
		rule.Metric,
		domain,
		currentValue,
		rule.Operator,
		rule.Threshold,
		time.Duration(rule.Window)*time.Second)
}
