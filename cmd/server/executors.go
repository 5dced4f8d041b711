package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seolha-lab/lexcache/internal/cache"
	"github.com/seolha-lab/lexcache/internal/config"
	"github.com/seolha-lab/lexcache/internal/retry"
)

// registerRetryExecutors binds an executor to every job type the queue
// accepts. Completion-style jobs repopulate cache entries through the
// provider; notification jobs are delivered through the structured log.
func registerRetryExecutors(queue *retry.Queue, store *cache.Store, cfg *config.Config, logger *slog.Logger) {
	completionExecutor := func(ctx context.Context, job *retry.Job) error {
		prompt, _ := job.Payload["prompt"].(string)
		if prompt == "" {
			return fmt.Errorf("retry: job %s has no prompt in payload", job.ID)
		}
		systemPrompt, _ := job.Payload["system_prompt"].(string)
		meta := metadataFromPayload(job)
		callCtx, cancelCall := context.WithTimeout(ctx, cfg.Provider.Timeout)
		defer cancelCall()
		_, err := store.GetOrCompute(callCtx, prompt, systemPrompt, meta, cache.ComputeOptions{})
		return err
	}

	queue.RegisterExecutor(retry.JobCompletion, completionExecutor)
	queue.RegisterExecutor(retry.JobStrategicReport, completionExecutor)
	queue.RegisterExecutor(retry.JobDocumentReview, completionExecutor)
	queue.RegisterExecutor(retry.JobNotification, notificationExecutor(logger))
}

// notificationExecutor emits notification jobs as structured log records.
// The log is the delivery channel until an outbound messaging integration
// lands; a job without a message is malformed and fails.
func notificationExecutor(logger *slog.Logger) retry.Executor {
	return func(_ context.Context, job *retry.Job) error {
		message, _ := job.Payload["message"].(string)
		if message == "" {
			return fmt.Errorf("retry: job %s has no message in payload", job.ID)
		}
		channel, _ := job.Payload["channel"].(string)
		if channel == "" {
			channel = "ops"
		}
		logger.Info("notification delivered",
			"job_id", job.ID,
			"channel", channel,
			"user_id", job.UserID,
			"message", message,
		)
		return nil
	}
}

func metadataFromPayload(job *retry.Job) cache.Metadata {
	str := func(key string) string {
		v, _ := job.Payload[key].(string)
		return v
	}
	return cache.Metadata{
		RequestType:  cache.RequestType(str("request_type")),
		ContractType: str("contract_type"),
		Language:     str("language"),
		Jurisdiction: str("jurisdiction"),
		UserID:       job.UserID,
	}
}
