package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusBuckets(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusExists.Terminal())
	assert.False(t, StatusRateLimited.Terminal())
	assert.False(t, StatusRateLimited.Failed())
	assert.True(t, StatusTimeout.Failed())
	assert.True(t, StatusError.Failed())
	assert.False(t, Status("queued").Valid())
}

func TestArchiveRecordValidate(t *testing.T) {
	t.Parallel()

	ok := ArchiveRecord{ArticleURL: "http://a", ArchiveDate: "20250112", Status: StatusSuccess}
	assert.NoError(t, ok.Validate())

	noURL := ok
	noURL.ArticleURL = " "
	assert.Error(t, noURL.Validate())

	badDate := ok
	badDate.ArchiveDate = "2025-01-12"
	assert.Error(t, badDate.Validate())

	badStatus := ok
	badStatus.Status = "pending"
	assert.Error(t, badStatus.Validate())
}

func TestStatisticsSuccessRate(t *testing.T) {
	t.Parallel()

	assert.Zero(t, Statistics{}.SuccessRate())
	stats := Statistics{
		ByStatus: map[Status]int{StatusSuccess: 2, StatusExists: 1, StatusFailed: 1},
		Total:    4,
	}
	assert.Equal(t, 3, stats.Archived())
	assert.InDelta(t, 75.0, stats.SuccessRate(), 0.001)
}

func TestDedupeKeepsFirstSeenOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"b", "a", "c"}, Dedupe([]string{"b", "a", "b", "c", "a"}))
}
