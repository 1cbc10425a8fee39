package schedule

import (
	"testing"
	"time"

	"github.com/dmarceye/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestParseFrequency(t *testing.T) {
	for _, spec := range []string{"daily", "Weekly", " monthly ", "0 6 * * 1", "*/15 * * * *"} {
		_, err := ParseFrequency(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "fortnightly", "61 * * * *"} {
		_, err := ParseFrequency(spec)
		assert.Error(t, err, spec)
	}
}

func TestNextAdvancesOneStep(t *testing.T) {
	tests := []struct {
		spec string
		prev time.Time
		want time.Time
	}{
		{"daily", utc(2024, 1, 1, 0, 0), utc(2024, 1, 2, 0, 0)},
		{"weekly", utc(2024, 1, 1, 0, 0), utc(2024, 1, 8, 0, 0)},
		{"monthly", utc(2024, 1, 31, 0, 0), utc(2024, 2, 29, 0, 0)},
		{"monthly", utc(2023, 1, 31, 6, 0), utc(2023, 2, 28, 6, 0)},
		{"monthly", utc(2024, 3, 31, 0, 0), utc(2024, 4, 30, 0, 0)},
		{"monthly", utc(2024, 12, 31, 0, 0), utc(2025, 1, 31, 0, 0)},
		{"monthly", utc(2024, 2, 1, 8, 0), utc(2024, 3, 1, 8, 0)},
		{"0 6 * * *", utc(2024, 1, 1, 6, 0), utc(2024, 1, 2, 6, 0)},
		{"30 * * * *", utc(2024, 1, 1, 6, 30), utc(2024, 1, 1, 7, 30)},
	}
	for _, tt := range tests {
		f, err := ParseFrequency(tt.spec)
		require.NoError(t, err)
		got := f.Next(tt.prev)
		assert.Equal(t, tt.want, got, "%s from %s", tt.spec, tt.prev)
		assert.True(t, got.After(tt.prev))
	}
}

// A run that happens late still advances from the scheduled time, not from
// the moment it ran.
func TestNextIgnoresProcessingDelay(t *testing.T) {
	f, err := ParseFrequency("daily")
	require.NoError(t, err)

	scheduled := utc(2024, 1, 1, 0, 0)
	processedAt := utc(2024, 1, 2, 3, 0)
	next := f.Next(scheduled)

	assert.Equal(t, utc(2024, 1, 2, 0, 0), next)
	assert.True(t, next.Before(processedAt))
}

func TestPrevious(t *testing.T) {
	f, _ := ParseFrequency("weekly")
	assert.Equal(t, utc(2024, 1, 1, 0, 0), f.Previous(utc(2024, 1, 8, 0, 0)))

	f, _ = ParseFrequency("0 * * * *")
	assert.Equal(t, utc(2024, 1, 1, 5, 0), f.Previous(utc(2024, 1, 1, 6, 0)))
}

// Month-end schedules never skip a month: each step lands inside the
// following calendar month, and stepping back does the same in reverse.
func TestMonthlyClampsToMonthEnd(t *testing.T) {
	f, err := ParseFrequency("monthly")
	require.NoError(t, err)

	at := utc(2024, 1, 31, 0, 0)
	for i := 0; i < 12; i++ {
		next := f.Next(at)
		assert.Equal(t, (at.Month()%12)+1, next.Month(), "step from %s", at)
		at = next
	}

	assert.Equal(t, utc(2024, 2, 29, 0, 0), f.Previous(utc(2024, 3, 31, 0, 0)))
	assert.Equal(t, utc(2023, 12, 31, 0, 0), f.Previous(utc(2024, 1, 31, 0, 0)))
	assert.Equal(t, utc(2024, 2, 1, 8, 0), f.Previous(utc(2024, 3, 1, 8, 0)))
}

func TestFirst(t *testing.T) {
	created := utc(2024, 1, 3, 14, 25) // Wednesday

	f, _ := ParseFrequency("daily")
	assert.Equal(t, utc(2024, 1, 4, 0, 0), f.First(created))

	f, _ = ParseFrequency("weekly")
	assert.Equal(t, utc(2024, 1, 8, 0, 0), f.First(created))
	assert.Equal(t, utc(2024, 1, 15, 0, 0), f.First(utc(2024, 1, 8, 0, 0)))

	f, _ = ParseFrequency("monthly")
	assert.Equal(t, utc(2024, 2, 1, 0, 0), f.First(created))

	f, _ = ParseFrequency("0 6 * * *")
	assert.Equal(t, utc(2024, 1, 4, 6, 0), f.First(created))
}

func TestValidatorFrequencyTag(t *testing.T) {
	v := NewValidator()

	digest := models.DigestSubscription{
		Name:       "weekly summary",
		Cadence:    "weekly",
		Recipients: []string{"postmaster@example.org"},
	}
	assert.NoError(t, v.Struct(digest))

	digest.Cadence = "every other tuesday"
	assert.Error(t, v.Struct(digest))

	digest.Cadence = "daily"
	digest.Recipients = []string{"not-an-address"}
	assert.Error(t, v.Struct(digest))
}

func TestResultString(t *testing.T) {
	next := utc(2024, 1, 2, 0, 0)
	r := Result{ID: 3, Name: "ops digest", Success: true, Message: "sent to 2 recipients", NextRun: &next}
	assert.Equal(t, "#3 ops digest: ok (sent to 2 recipients), next run 2024-01-02T00:00:00Z", r.String())

	r = Result{ID: 4, Name: "x", Skipped: true, Message: "claimed elsewhere"}
	assert.Contains(t, r.String(), "skipped")
}
