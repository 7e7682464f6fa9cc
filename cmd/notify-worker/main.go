// The notify-worker binary drains the notification job stream and posts
// each job to the delivery webhook. Failed deliveries are retried with
// exponential backoff and parked on the dead subjects once exhausted.
//
// Configuration (environment):
//   - NATS_URL            (default "nats://127.0.0.1:4222")
//   - NOTIFY_DURABLE      durable consumer name (default "notify-worker")
//   - NOTIFY_KIND         "single" or "batch", empty for both
//   - NOTIFY_WEBHOOK_URL  delivery endpoint; empty logs jobs instead
//   - NOTIFY_RATE         deliveries per second, 0 unlimited
//   - NOTIFY_CONCURRENCY  parallel deliveries (default 8)
//   - NOTIFY_MAX_ATTEMPTS deliveries before dead-letter (default 5)
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NProject/logger"
	"NProject/service/notify"
	"NProject/tools"
	"NProject/tools/errs"
)

// webhookService POSTs job JSON to a fixed endpoint: one object for a
// single create, an array for a batch create. Any non-2xx response is a
// retriable failure.
type webhookService struct {
	url    string
	client *http.Client
}

func (s *webhookService) Create(ctx context.Context, job *notify.NotificationJob) error {
	raw, err := job.Marshal()
	if err != nil {
		return err
	}
	return s.post(ctx, raw)
}

func (s *webhookService) CreateBatch(ctx context.Context, jobs []*notify.NotificationJob) error {
	raw, err := json.Marshal(jobs)
	if err != nil {
		return err
	}
	return s.post(ctx, raw)
}

func (s *webhookService) post(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.Wrapf(errs.New("webhook rejected"), "status=%d", resp.StatusCode)
	}
	return nil
}

// dryRunService logs creations instead of delivering them.
type dryRunService struct{}

func (dryRunService) Create(_ context.Context, job *notify.NotificationJob) error {
	logger.Infof("[Notify] create (dry run) job=%s kind=%s user=%s", job.JobID, job.Kind, job.UserID)
	return nil
}

func (dryRunService) CreateBatch(_ context.Context, jobs []*notify.NotificationJob) error {
	logger.Infof("[Notify] create batch (dry run) size=%d", len(jobs))
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	qcfg := notify.DefaultQueueConfig()
	qcfg.Servers = []string{tools.GetEnv("NATS_URL", "nats://127.0.0.1:4222")}
	queue, err := notify.NewQueue(qcfg)
	if err != nil {
		logger.Errorf("[Notify] queue init failed: %v", err)
		os.Exit(1)
	}
	defer queue.Close()

	var svc notify.NotificationService
	if url := tools.GetEnv("NOTIFY_WEBHOOK_URL", ""); url != "" {
		svc = &webhookService{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	} else {
		svc = dryRunService{}
	}

	worker := notify.NewWorker(queue, svc, notify.WorkerConfig{
		Durable:     tools.GetEnv("NOTIFY_DURABLE", "notify-worker"),
		KindFilter:  tools.GetEnv("NOTIFY_KIND", ""),
		RatePerSec:  float64(tools.GetEnvInt("NOTIFY_RATE", 0)),
		Concurrency: tools.GetEnvInt("NOTIFY_CONCURRENCY", 8),
		MaxAttempts: tools.GetEnvInt("NOTIFY_MAX_ATTEMPTS", 5),
	})
	if err := worker.Run(ctx); err != nil {
		logger.Errorf("[Notify] worker exited: %v", err)
		os.Exit(1)
	}
}
