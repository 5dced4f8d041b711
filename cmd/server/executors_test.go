package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/config"
	"github.com/seolha-lab/lexcache/internal/provider"
	"github.com/seolha-lab/lexcache/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newExecutorFixture(t *testing.T) (*retry.Queue, *cache.Store) {
	t.Helper()
	store := cache.NewStore(cache.StoreConfig{
		Client: provider.NewStubClient("lex-70b"),
		Logger: testLogger(),
	})
	t.Cleanup(func() { _ = store.Close() })

	queue := retry.NewQueue(retry.QueueConfig{
		MaxConcurrent: 2,
		BaseDelay:     time.Second,
		Multiplier:    2.0,
		MaxDelay:      time.Minute,
		Logger:        testLogger(),
	})
	registerRetryExecutors(queue, store, config.DefaultConfig(), testLogger())
	return queue, store
}

func waitForStatus(t *testing.T, q *retry.Queue, id string, want retry.Status) {
	t.Helper()
	assert.Eventually(t, func() bool {
		job, ok := q.GetJob(id)
		return ok && job.Status == want
	}, 2*time.Second, 10*time.Millisecond)
}

// Every job type the queue accepts must have an executor, or its jobs fail
// on first dispatch with nothing to run.
func TestRegisterRetryExecutors_CoversAllJobTypes(t *testing.T) {
	queue, _ := newExecutorFixture(t)

	payloads := map[retry.JobType]map[string]any{
		retry.JobCompletion:      {"prompt": "오늘의 운세"},
		retry.JobStrategicReport: {"prompt": "분기 전략 보고서"},
		retry.JobDocumentReview:  {"prompt": "계약서 검토"},
		retry.JobNotification:    {"message": "캐시 웜업 완료"},
	}

	ids := make([]string, 0, len(payloads))
	for jobType, payload := range payloads {
		job, err := queue.AddJob(jobType, payload, "user-1", retry.AddOptions{})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	queue.Dispatch(context.Background())
	for _, id := range ids {
		waitForStatus(t, queue, id, retry.StatusCompleted)
	}
}

func TestNotificationExecutor_DeliversAndCompletes(t *testing.T) {
	queue, _ := newExecutorFixture(t)

	job, err := queue.AddJob(retry.JobNotification,
		map[string]any{"message": "재시도 큐 적체 해소", "channel": "billing"},
		"user-7", retry.AddOptions{})
	require.NoError(t, err)

	queue.Dispatch(context.Background())
	waitForStatus(t, queue, job.ID, retry.StatusCompleted)
}

func TestNotificationExecutor_MissingMessageFails(t *testing.T) {
	queue, _ := newExecutorFixture(t)

	job, err := queue.AddJob(retry.JobNotification,
		map[string]any{"channel": "billing"},
		"user-7", retry.AddOptions{MaxAttempts: 1})
	require.NoError(t, err)

	queue.Dispatch(context.Background())
	waitForStatus(t, queue, job.ID, retry.StatusFailed)

	failed, ok := queue.GetJob(job.ID)
	require.True(t, ok)
	assert.Contains(t, failed.LastError, "no message")
}

func TestCompletionExecutor_PopulatesCache(t *testing.T) {
	queue, store := newExecutorFixture(t)

	job, err := queue.AddJob(retry.JobCompletion,
		map[string]any{"prompt": "표준 임대차 계약 요약", "request_type": "completion"},
		"user-3", retry.AddOptions{})
	require.NoError(t, err)

	queue.Dispatch(context.Background())
	waitForStatus(t, queue, job.ID, retry.StatusCompleted)

	assert.Equal(t, 1, store.Stats().Entries)
}

func TestMetadataFromPayload(t *testing.T) {
	job := &retry.Job{
		UserID: "user-9",
		Payload: map[string]any{
			"request_type":  "document_review",
			"contract_type": "lease",
			"language":      "ko",
			"jurisdiction":  "KR",
		},
	}

	meta := metadataFromPayload(job)
	assert.Equal(t, cache.RequestType("document_review"), meta.RequestType)
	assert.Equal(t, "lease", meta.ContractType)
	assert.Equal(t, "ko", meta.Language)
	assert.Equal(t, "KR", meta.Jurisdiction)
	assert.Equal(t, "user-9", meta.UserID)
}
