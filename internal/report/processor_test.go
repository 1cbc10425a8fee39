package report

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dmarceye/internal/faults"
	"github.com/dmarceye/internal/logging"
	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/notify"
	"github.com/dmarceye/internal/store"
	"github.com/dmarceye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	requests []Request
	err      error
}

func (g *fakeGenerator) Generate(ctx context.Context, req Request) (Artifact, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return Artifact{}, g.err
	}
	return Artifact{FileName: req.Template + ".pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.3 test")}, nil
}

type fakeSender struct {
	sent   []notify.Message
	err    error
	onSend func()
}

func (s *fakeSender) Send(ctx context.Context, msg notify.Message) error {
	if s.onSend != nil {
		s.onSend()
	}
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type harness struct {
	store  *store.Store
	gen    *fakeGenerator
	sender *fakeSender
	clock  *testutil.Clock
	proc   *Processor
}

func newHarness(t *testing.T, outputDir string) *harness {
	h := &harness{
		store:  store.New(testutil.NewDB(t), time.Minute),
		gen:    &fakeGenerator{},
		sender: &fakeSender{},
		clock:  &testutil.Clock{T: testutil.Date(2024, 1, 2, 3, 0, 0)},
	}
	h.proc = h.newProcessor(outputDir)
	return h
}

func (h *harness) newProcessor(outputDir string) *Processor {
	p := NewProcessor(h.store, h.gen, h.sender, outputDir, 10)
	p.now = h.clock.Now
	return p
}

func (h *harness) addSchedule(t *testing.T, name, freq string, next time.Time, params map[string]string) *models.ReportSchedule {
	rs := &models.ReportSchedule{
		Name:       name,
		Template:   TemplateDomainSummary,
		Frequency:  freq,
		Recipients: []string{"postmaster@example.com"},
		Parameters: params,
		Enabled:    true,
	}
	rs.NextRunAt = &next
	require.NoError(t, h.store.CreateSchedule(context.Background(), rs, next.AddDate(0, -1, 0)))
	return rs
}

func TestProcessDueSchedulesDailyScenario(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	h := newHarness(t, dir)
	rs := h.addSchedule(t, "daily summary", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), nil)

	results, err := h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Message)
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), *results[0].NextRun)

	require.Len(t, h.gen.requests, 1)
	req := h.gen.requests[0]
	assert.Equal(t, testutil.Date(2023, 12, 31, 0, 0, 0), req.Start)
	assert.Equal(t, testutil.Date(2024, 1, 1, 0, 0, 0), req.End)

	require.Len(t, h.sender.sent, 1)
	require.Len(t, h.sender.sent[0].Attachments, 1)
	assert.Equal(t, "domain_summary.pdf", h.sender.sent[0].Attachments[0].Name)

	got, err := h.store.GetSchedule(ctx, rs.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), got.NextRunAt.UTC())
	assert.Equal(t, models.RunStatusSuccess, got.LastStatus)
	assert.Empty(t, got.LastError)

	gens, err := h.store.Generations(ctx, rs.ID)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, gens[0].ID, *got.LastGenerationID)
	assert.Equal(t, models.RunStatusSuccess, gens[0].Status)
	data, err := os.ReadFile(gens[0].FilePath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.3 test", string(data))
}

func TestDeadlineDuringSendStillRecordsOutcome(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, "")
	rs := h.addSchedule(t, "daily summary", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), nil)
	h.sender.onSend = cancel

	results, err := h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, results[0].Message)

	got, err := h.store.GetSchedule(context.Background(), rs.ID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), got.NextRunAt.UTC())
	assert.Equal(t, models.RunStatusSuccess, got.LastStatus)
	assert.Empty(t, got.ClaimToken)

	// Once the lease would have expired, the next tick moves on to the next
	// occurrence instead of sending 2024-01-01 again.
	h.sender.onSend = nil
	h.clock.Advance(2 * time.Minute)
	_, err = h.proc.ProcessDueSchedules(context.Background())
	require.NoError(t, err)
	require.Len(t, h.gen.requests, 2)
	assert.Equal(t, testutil.Date(2024, 1, 1, 0, 0, 0), h.gen.requests[0].End)
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), h.gen.requests[1].End)
}

func TestProcessDueSchedulesFailureStillReschedules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.sender.err = faults.Transient("send mail", errors.New("connection refused"))
	rs := h.addSchedule(t, "weekly summary", "weekly", testutil.Date(2024, 1, 1, 0, 0, 0), nil)

	results, err := h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Message, "connection refused")

	got, err := h.store.GetSchedule(ctx, rs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailure, got.LastStatus)
	assert.Contains(t, got.LastError, "connection refused")
	assert.Equal(t, testutil.Date(2024, 1, 8, 0, 0, 0), got.NextRunAt.UTC())

	gens, err := h.store.Generations(ctx, rs.ID)
	require.NoError(t, err)
	require.Len(t, gens, 1)
	assert.Equal(t, models.RunStatusFailure, gens[0].Status)

	// Not retried within the same tick.
	results, err = h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)

	// A later success clears the error.
	h.sender.err = nil
	h.clock.T = testutil.Date(2024, 1, 8, 1, 0, 0)
	results, err = h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	got, err = h.store.GetSchedule(ctx, rs.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSuccess, got.LastStatus)
	assert.Empty(t, got.LastError)
}

func TestProcessDueSchedulesInvalidDefinitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	badDays := h.addSchedule(t, "bad days", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), map[string]string{"days": "-3"})
	h.addSchedule(t, "good", "daily", testutil.Date(2024, 1, 1, 6, 0, 0), map[string]string{"days": "7", "limit": "5"})

	// A frequency broken after creation leaves no next occurrence.
	badFreq := h.addSchedule(t, "bad freq", "daily", testutil.Date(2024, 1, 1, 12, 0, 0), nil)
	require.NoError(t, h.store.DB().Model(&models.ReportSchedule{}).Where("id = ?", badFreq.ID).Update("frequency", "whenever").Error)

	results, err := h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.True(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.Nil(t, results[2].NextRun)

	require.Len(t, h.gen.requests, 1)
	assert.Equal(t, testutil.Date(2023, 12, 25, 6, 0, 0), h.gen.requests[0].Start)
	assert.Equal(t, 5, h.gen.requests[0].Limit)

	got, err := h.store.GetSchedule(ctx, badDays.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "days must be a positive integer")
	assert.Equal(t, testutil.Date(2024, 1, 2, 0, 0, 0), got.NextRunAt.UTC())

	got, err = h.store.GetSchedule(ctx, badFreq.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRunAt)
	assert.Equal(t, models.RunStatusFailure, got.LastStatus)

}

func TestOverlappingInvocationsGenerateOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, "")
	h.addSchedule(t, "daily summary", "daily", testutil.Date(2024, 1, 1, 0, 0, 0), nil)

	stale, err := h.store.DueSchedules(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	second := h.newProcessor("")
	h.sender.onSend = func() {
		h.sender.onSend = nil
		results, err := second.ProcessDueSchedules(ctx)
		require.NoError(t, err)
		assert.Empty(t, results)
	}

	results, err := h.proc.ProcessDueSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)

	res := second.processOne(ctx, logging.FromContext(ctx), &stale[0], h.clock.Now())
	assert.True(t, res.Skipped)
	assert.Len(t, h.gen.requests, 1)
	assert.Len(t, h.sender.sent, 1)
}
