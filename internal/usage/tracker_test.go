package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seolha-lab/lexcache/internal/cache"
)

func TestTracker_ActiveUsers(t *testing.T) {
	tr := NewTracker(time.Hour)

	tr.Record("u1", cache.RequestContractAnalysis, "ko")
	tr.Record("u1", cache.RequestRiskAnalysis, "ko")
	tr.Record("u2", cache.RequestContractAnalysis, "en")
	tr.Record("", cache.RequestGeneralQuestion, "ko") // anonymous, ignored

	assert.Equal(t, 2, tr.ActiveUsers())
}

func TestTracker_TypeFrequency(t *testing.T) {
	tr := NewTracker(time.Hour)

	for i := 0; i < 3; i++ {
		tr.Record("u1", cache.RequestComplianceCheck, "ko")
	}
	tr.Record("u2", cache.RequestRiskAnalysis, "ko")

	assert.Equal(t, 3, tr.TypeFrequency(cache.RequestComplianceCheck))
	assert.Equal(t, 1, tr.TypeFrequency(cache.RequestRiskAnalysis))
	assert.Equal(t, 0, tr.TypeFrequency(cache.RequestStrategicReport))
}

func TestTracker_UserHistogram(t *testing.T) {
	tr := NewTracker(time.Hour)

	for i := 0; i < 5; i++ {
		tr.Record("u1", cache.RequestContractAnalysis, "ko")
	}
	for i := 0; i < 2; i++ {
		tr.Record("u1", cache.RequestRiskAnalysis, "ko")
	}
	tr.Record("u2", cache.RequestStrategicReport, "en") // other user

	hist := tr.UserHistogram("u1")
	assert.Len(t, hist, 2)
	assert.Equal(t, cache.RequestContractAnalysis, hist[0].RequestType)
	assert.Equal(t, 5, hist[0].Count)
	assert.Equal(t, "ko", hist[0].Language)
	assert.Equal(t, cache.RequestRiskAnalysis, hist[1].RequestType)

	assert.Empty(t, tr.UserHistogram("unknown"))
}

func TestTracker_WindowExpiry(t *testing.T) {
	tr := NewTracker(50 * time.Millisecond)

	tr.Record("u1", cache.RequestGeneralQuestion, "ko")
	assert.Equal(t, 1, tr.ActiveUsers())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, tr.ActiveUsers())
}

func TestTracker_Flush(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Record("u1", cache.RequestGeneralQuestion, "ko")
	tr.Flush()
	assert.Equal(t, 0, tr.ActiveUsers())
}
