package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/schedule"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Completion is the outcome written back when a claimed item finishes.
type Completion struct {
	RanAt     time.Time
	Status    models.RunStatus
	Error     string
	NextRunAt *time.Time
}

// CreateSchedule stores a new report schedule. An enabled schedule without a
// next run gets the first occurrence after its creation time.
func (s *Store) CreateSchedule(ctx context.Context, rs *models.ReportSchedule, now time.Time) error {
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now.UTC()
	}
	if rs.NextRunAt == nil {
		freq, err := schedule.ParseFrequency(rs.Frequency)
		if err != nil {
			return err
		}
		first := freq.First(rs.CreatedAt)
		rs.NextRunAt = &first
	}
	if rs.LastStatus == "" {
		rs.LastStatus = models.RunStatusPending
	}
	return s.db.WithContext(ctx).Create(rs).Error
}

func (s *Store) CreateDigest(ctx context.Context, d *models.DigestSubscription, now time.Time) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now.UTC()
	}
	if d.NextRunAt == nil {
		freq, err := schedule.ParseFrequency(d.Cadence)
		if err != nil {
			return err
		}
		first := freq.First(d.CreatedAt)
		d.NextRunAt = &first
	}
	if d.LastStatus == "" {
		d.LastStatus = models.RunStatusPending
	}
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *Store) ListSchedules(ctx context.Context) ([]models.ReportSchedule, error) {
	var out []models.ReportSchedule
	err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

func (s *Store) ListDigests(ctx context.Context) ([]models.DigestSubscription, error) {
	var out []models.DigestSubscription
	err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

func (s *Store) GetSchedule(ctx context.Context, id uint) (*models.ReportSchedule, error) {
	var rs models.ReportSchedule
	if err := s.db.WithContext(ctx).First(&rs, id).Error; err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *Store) GetDigest(ctx context.Context, id uint) (*models.DigestSubscription, error) {
	var d models.DigestSubscription
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id uint, enabled bool) error {
	return setEnabled(s.db.WithContext(ctx).Model(&models.ReportSchedule{}), id, "enabled", enabled)
}

func (s *Store) SetDigestEnabled(ctx context.Context, id uint, enabled bool) error {
	return setEnabled(s.db.WithContext(ctx).Model(&models.DigestSubscription{}), id, "enabled", enabled)
}

// setEnabled flips a row's enabled column and reports a missing row as
// gorm.ErrRecordNotFound.
func setEnabled(q *gorm.DB, id uint, column string, enabled bool) error {
	res := q.Where("id = ?", id).Update(column, enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// dueScope selects enabled rows whose next run has passed and that nobody
// holds a live claim on, oldest first.
func (s *Store) dueScope(ctx context.Context, now time.Time, limit int) *gorm.DB {
	q := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now.UTC()).
		Where("(claim_token = '' OR claim_token IS NULL OR claimed_at < ?)", now.UTC().Add(-s.lease)).
		Order("next_run_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

func (s *Store) DueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ReportSchedule, error) {
	var out []models.ReportSchedule
	if err := s.dueScope(ctx, now, limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("select due schedules: %w", err)
	}
	return out, nil
}

func (s *Store) DueDigests(ctx context.Context, now time.Time, limit int) ([]models.DigestSubscription, error) {
	var out []models.DigestSubscription
	if err := s.dueScope(ctx, now, limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("select due digests: %w", err)
	}
	return out, nil
}

// ClaimSchedule marks the schedule as in progress for this run. It succeeds
// only if the row still has the version the caller read and no live claim,
// so of two overlapping runs that selected the same occurrence exactly one
// wins. The returned token must be passed to CompleteSchedule.
func (s *Store) ClaimSchedule(ctx context.Context, rs *models.ReportSchedule, now time.Time) (string, bool, error) {
	return s.claim(ctx, &models.ReportSchedule{}, rs.ID, rs.Version, now)
}

func (s *Store) ClaimDigest(ctx context.Context, d *models.DigestSubscription, now time.Time) (string, bool, error) {
	return s.claim(ctx, &models.DigestSubscription{}, d.ID, d.Version, now)
}

func (s *Store) claim(ctx context.Context, model interface{}, id uint, version int, now time.Time) (string, bool, error) {
	token := uuid.NewString()
	now = now.UTC()
	res := s.db.WithContext(ctx).Model(model).
		Where("id = ? AND version = ?", id, version).
		Where("(claim_token = '' OR claim_token IS NULL OR claimed_at < ?)", now.Add(-s.lease)).
		Updates(map[string]interface{}{
			"claim_token": token,
			"claimed_at":  now,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return "", false, fmt.Errorf("claim %d: %w", id, res.Error)
	}
	return token, res.RowsAffected == 1, nil
}

// CompleteSchedule appends the generation record (if any), writes the outcome
// and the next run, and releases the claim, all in one transaction.
func (s *Store) CompleteSchedule(ctx context.Context, id uint, token string, c Completion, gen *models.ReportGeneration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		extra := map[string]interface{}{}
		if gen != nil {
			if err := tx.Create(gen).Error; err != nil {
				return fmt.Errorf("record generation: %w", err)
			}
			extra["last_generation_id"] = gen.ID
		}
		return complete(tx, &models.ReportSchedule{}, id, token, c, extra)
	})
}

func (s *Store) CompleteDigest(ctx context.Context, id uint, token string, c Completion) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return complete(tx, &models.DigestSubscription{}, id, token, c, nil)
	})
}

func complete(tx *gorm.DB, model interface{}, id uint, token string, c Completion, extra map[string]interface{}) error {
	ranAt := c.RanAt.UTC()
	var next interface{}
	if c.NextRunAt != nil {
		next = c.NextRunAt.UTC()
	}
	updates := map[string]interface{}{
		"next_run_at": next,
		"last_run_at": ranAt,
		"last_status": c.Status,
		"last_error":  c.Error,
		"claim_token": "",
		"claimed_at":  nil,
		"version":     gorm.Expr("version + 1"),
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(model).Where("id = ? AND claim_token = ?", id, token).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("complete %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete %d: %w", id, ErrClaimLost)
	}
	return nil
}

// Generations returns the run history of a schedule, newest first.
func (s *Store) Generations(ctx context.Context, scheduleID uint) ([]models.ReportGeneration, error) {
	var out []models.ReportGeneration
	err := s.db.WithContext(ctx).Where("schedule_id = ?", scheduleID).Order("id DESC").Find(&out).Error
	return out, err
}
