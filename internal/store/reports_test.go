package store

import (
	"context"
	"testing"

	"github.com/dmarceye/internal/models"
	"github.com/dmarceye/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAggregateSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	begin := testutil.Date(2024, 1, 1, 0, 0, 0)

	first := aggregateFixture("example.com", "r-1", begin, record("192.0.2.1", 10, "pass", "pass"), record("192.0.2.2", 3, "fail", "fail"))
	inserted, err := s.SaveAggregate(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Len(t, first.Records, 2)

	// Same natural key, different casing and whitespace.
	again := aggregateFixture(" Example.COM ", "r-1", begin, record("192.0.2.1", 10, "pass", "pass"))
	again.OrgName = "GOOGLE.COM"
	inserted, err = s.SaveAggregate(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := s.CountAggregate(ctx, first.DedupKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var records int64
	require.NoError(t, s.DB().Model(&models.AggregateRecord{}).Count(&records).Error)
	assert.Equal(t, int64(2), records)
}

func TestSaveTLSAndForensic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	begin := testutil.Date(2024, 1, 1, 0, 0, 0)

	tls := &models.TLSReport{
		OrgName:      "Google Inc.",
		ReportID:     "2024-01-01T00:00:00Z_example.com",
		Domain:       "example.com",
		DateBegin:    begin,
		DateEnd:      begin.AddDate(0, 0, 1),
		TotalSuccess: 90,
		TotalFailure: 10,
		Policies: []models.TLSPolicy{
			{PolicyType: "sts", PolicyDomain: "example.com", SuccessCount: 90, FailureCount: 10},
		},
	}
	inserted, err := s.SaveTLS(ctx, tls)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.SaveTLS(ctx, &models.TLSReport{OrgName: tls.OrgName, ReportID: tls.ReportID, DateBegin: begin, DateEnd: begin.AddDate(0, 0, 1)})
	require.NoError(t, err)
	assert.False(t, inserted)

	var policies int64
	require.NoError(t, s.DB().Model(&models.TLSPolicy{}).Count(&policies).Error)
	assert.Equal(t, int64(1), policies)

	fr := &models.ForensicReport{
		Domain:       "example.com",
		FeedbackType: "auth-failure",
		ArrivalDate:  begin,
		SourceIP:     "198.51.100.7",
		MessageID:    "<abc@mail.example.net>",
	}
	inserted, err = s.SaveForensic(ctx, fr)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *fr
	dup.ID = 0
	inserted, err = s.SaveForensic(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)
}
