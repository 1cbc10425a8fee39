package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/notify"
	"github.com/dmarceye/internal/store"
	"github.com/dmarceye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent   []notify.Message
	failTo string
	onSend func()
}

func (s *fakeSender) Send(ctx context.Context, msg notify.Message) error {
	if s.onSend != nil {
		s.onSend()
	}
	for _, to := range msg.To {
		if to == s.failTo {
			return errors.New("550 mailbox unavailable")
		}
	}
	s.sent = append(s.sent, msg)
	return nil
}

func newDispatcher(t *testing.T, st *store.Store, sender notify.Sender, now time.Time) *Dispatcher {
	d := NewDispatcher(st, sender, 10)
	clock := &testutil.Clock{T: now}
	d.now = clock.Now
	return d
}

func addDigest(t *testing.T, st *store.Store, name, cadence string, next time.Time, to ...string) *models.DigestSubscription {
	sub := &models.DigestSubscription{Name: name, Cadence: cadence, Recipients: to, Enabled: true}
	sub.NextRunAt = &next
	require.NoError(t, st.CreateDigest(context.Background(), sub, next.AddDate(0, 0, -7)))
	return sub
}

func TestProcessDueDigestsAdvancesFromScheduledTime(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.NewDB(t), time.Minute)
	sender := &fakeSender{}
	now := testutil.Date(2024, 1, 2, 3, 0, 0)

	sub := addDigest(t, st, "ops", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), "ops@example.com")
	_, err := st.SaveAggregate(ctx, &models.AggregateReport{
		OrgName:   "google.com",
		ReportID:  "r-1",
		Domain:    "example.com",
		DateBegin: testutil.Date(2023, 12, 31, 0, 0, 0),
		DateEnd:   testutil.Date(2023, 12, 31, 23, 59, 59),
		Records:   []models.AggregateRecord{{SourceIP: "192.0.2.1", Count: 7, DKIMResult: "pass", SPFResult: "pass"}},
	})
	require.NoError(t, err)

	results, err := newDispatcher(t, st, sender, now).ProcessDueDigests(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Message)
	require.NotNil(t, results[0].NextRun)
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), *results[0].NextRun)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"ops@example.com"}, msg.To)
	assert.Contains(t, msg.Subject, "2023-12-31 to 2024-01-01")
	assert.Contains(t, msg.Text, "example.com")
	assert.Contains(t, msg.HTML, "<td>example.com</td>")
	assert.Contains(t, msg.HTML, "192.0.2.1")

	got, err := st.GetDigest(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, got.LastStatus)
	assert.Equal(t, now, got.LastRunAt.UTC())
	assert.Empty(t, got.ClaimToken)

	// The new next run (2024-01-02T00:00) is already past, so a later tick
	// picks it up again and advances one more step.
	results, err = newDispatcher(t, st, sender, now.Add(time.Hour)).ProcessDueDigests(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, testutil.Date(2024, 1, 3, 0, 0, 0), *results[0].NextRun)
}

func TestDeadlineDuringSendStillRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := store.New(testutil.NewDB(t), time.Minute)
	sender := &fakeSender{onSend: cancel}
	now := testutil.Date(2024, 1, 2, 3, 0, 0)
	sub := addDigest(t, st, "ops", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), "ops@example.com")

	results, err := newDispatcher(t, st, sender, now).ProcessDueDigests(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Message)

	got, err := st.GetDigest(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), got.NextRunAt.UTC())
	assert.Equal(t, models.RunStatusSuccess, got.LastStatus)
	assert.Empty(t, got.ClaimToken)

	sender.onSend = nil
	_, err = newDispatcher(t, st, sender, now.Add(2*time.Minute)).ProcessDueDigests(context.Background())
	require.NoError(t, err)
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0].Subject, "2023-12-31 to 2024-01-01")
	assert.Contains(t, sender.sent[1].Subject, "2024-01-01 to 2024-01-02")
}

func TestProcessDueDigestsIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.NewDB(t), time.Minute)
	sender := &fakeSender{failTo: "broken@example.com"}
	now := testutil.Date(2024, 1, 8, 9, 0, 0)

	a := addDigest(t, st, "a", "weekly", testutil.Date(2024, 1, 1, 0, 0, 0), "a@example.com")
	b := addDigest(t, st, "b", "weekly", testutil.Date(2024, 1, 2, 0, 0, 0), "broken@example.com")
	c := addDigest(t, st, "c", "monthly", testutil.Date(2024, 1, 3, 0, 0, 0), "c@example.com")
	addDigest(t, st, "not yet", "daily", testutil.Date(2024, 1, 9, 0, 0, 0), "d@example.com")

	results, err := newDispatcher(t, st, sender, now).ProcessDueDigests(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []uint{a.ID, b.ID, c.ID}, []uint{results[0].ID, results[1].ID, results[2].ID})
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Message, "mailbox unavailable")
	assert.True(t, results[2].Success)
	assert.Len(t, sender.sent, 2)

	failed, err := st.GetDigest(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailure, failed.LastStatus)
	assert.Contains(t, failed.LastError, "mailbox unavailable")
	assert.Equal(t, testutil.Date(2024, 1, 9, 0, 0, 0), failed.NextRunAt.UTC())

	monthly, err := st.GetDigest(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, 2, 3, 0, 0, 0), monthly.NextRunAt.UTC())
}

func TestOverlappingRunsSendOnce(t *testing.T) {
	ctx := context.Background()
	st := store.New(testutil.NewDB(t), time.Minute)
	now := testutil.Date(2024, 1, 2, 3, 0, 0)
	addDigest(t, st, "ops", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), "ops@example.com")

	// Both runs select the same occurrence before either claims it.
	stale, err := st.DueDigests(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	sender := &fakeSender{}
	first := newDispatcher(t, st, sender, now)
	second := newDispatcher(t, st, sender, now)

	var nested []string
	sender.onSend = func() {
		// The second run starts while the first is mid-send.
		sender.onSend = nil
		results, err := second.ProcessDueDigests(ctx)
		require.NoError(t, err)
		for _, r := range results {
			nested = append(nested, r.String())
		}
	}
	results, err := first.ProcessDueDigests(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Empty(t, nested)

	// A run still holding the pre-claim copy cannot claim it afterwards.
	res := second.processOne(ctx, logging.FromContext(ctx), &stale[0], now)
	assert.True(t, res.Skipped)
	assert.Len(t, sender.sent, 1)
}
