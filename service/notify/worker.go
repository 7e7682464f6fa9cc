package notify

import (
	"context"
	"sync"
	"time"

	"NProject/logger"
	"NProject/tools/errs"
	"NProject/tools/safe"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"
)

// ===== Worker config =====

type WorkerConfig struct {
	Durable     string // durable consumer name, required
	KindFilter  string // JobKindSingle or JobKindBatch; "" consumes both
	Batch       int
	FetchWait   time.Duration
	AckWait     time.Duration
	MaxAttempts int // deliveries before dead-lettering
	Concurrency int
	RatePerSec  float64 // 0 disables the limiter
	Burst       int
	Backoff     Backoff

	// Deliveries at or past this count log at error level so operators
	// see jobs that are about to dead-letter.
	AlertAfter int
}

func (c *WorkerConfig) norm() {
	if c.Durable == "" {
		c.Durable = "notify-worker"
	}
	if c.Batch <= 0 {
		c.Batch = 64
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 500 * time.Millisecond
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Burst <= 0 {
		c.Burst = 16
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.AlertAfter <= 0 {
		c.AlertAfter = 3
	}
}

// ===== Worker =====

// Worker pulls jobs from the queue's durable consumer and hands them to
// the delivery service with bounded concurrency and a global rate limit.
// A failed job is redelivered by the server after a backoff; once it has
// been delivered MaxAttempts times it is parked on the dead subject.
type Worker struct {
	q    *Queue
	svc  NotificationService
	conf WorkerConfig
	lim  *rate.Limiter
}

func NewWorker(q *Queue, svc NotificationService, conf WorkerConfig) *Worker {
	conf.norm()
	var lim *rate.Limiter
	if conf.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(conf.RatePerSec), conf.Burst)
	}
	return &Worker{q: q, svc: svc, conf: conf, lim: lim}
}

func (w *Worker) subject() string {
	if w.conf.KindFilter != "" {
		return w.q.cfg.JobSubject(w.conf.KindFilter)
	}
	return w.q.cfg.SubjectPrefix + ".>"
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.q.js.PullSubscribe(w.subject(), w.conf.Durable,
		nats.AckWait(w.conf.AckWait),
		nats.MaxDeliver(w.conf.MaxAttempts+1),
		nats.PullMaxWaiting(8),
	)
	if err != nil {
		return errs.Wrap(err, "pull subscribe")
	}
	logger.Infof("[Notify] worker start, durable=%s subject=%s concurrency=%d",
		w.conf.Durable, w.subject(), w.conf.Concurrency)

	sem := make(chan struct{}, w.conf.Concurrency)
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			logger.Infof("[Notify] worker stop, durable=%s", w.conf.Durable)
			return nil
		default:
		}

		msgs, err := sub.Fetch(w.conf.Batch, nats.MaxWait(w.conf.FetchWait))
		if err == nats.ErrTimeout || err == context.DeadlineExceeded {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Warnf("[Notify] fetch error: %v", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, m := range msgs {
			if w.lim != nil {
				if err := w.lim.Wait(ctx); err != nil {
					_ = m.Nak()
					continue
				}
			}
			m := m
			sem <- struct{}{}
			wg.Add(1)
			safe.SafeGo(func() {
				defer wg.Done()
				defer func() { <-sem }()
				w.handle(ctx, m)
			})
		}
	}
}

func (w *Worker) handle(ctx context.Context, m *nats.Msg) {
	jobKind := w.q.cfg.JobKindOf(m.Subject)
	var (
		id        string
		err       error
		decodeErr error
	)
	switch jobKind {
	case JobKindSingle:
		var job *NotificationJob
		if job, decodeErr = UnmarshalJob(m.Data); decodeErr == nil {
			id = job.JobID
			err = w.svc.Create(ctx, job)
		}
	case JobKindBatch:
		var batch *BatchJob
		if batch, decodeErr = UnmarshalBatchJob(m.Data); decodeErr == nil {
			id = batch.BatchID
			err = w.svc.CreateBatch(ctx, batch.Jobs)
		}
	default:
		logger.Warnf("[Notify] drop message on unexpected subject %s", m.Subject)
		_ = m.Ack()
		return
	}
	if decodeErr != nil {
		// Undecodable payload can never succeed. Ack it away.
		logger.Warnf("[Notify] drop undecodable %s job on %s: %v", jobKind, m.Subject, decodeErr)
		_ = m.Ack()
		return
	}

	delivered := 1
	if meta, merr := m.Metadata(); merr == nil {
		delivered = int(meta.NumDelivered)
	}

	act, delay := disposition(err, delivered, w.conf.MaxAttempts, w.conf.Backoff)
	switch act {
	case actAck:
		_ = m.Ack()
	case actRetry:
		if delivered >= w.conf.AlertAfter {
			logger.Errorf("[Notify] %s job %s failed %d times: %v", jobKind, id, delivered, err)
		} else {
			logger.Warnf("[Notify] %s job %s failed, retry in %s: %v", jobKind, id, delay, err)
		}
		_ = m.NakWithDelay(delay)
	case actDead:
		logger.Errorf("[Notify] %s job %s exhausted after %d deliveries, dead-lettering: %v",
			jobKind, id, delivered, err)
		if derr := w.q.deadLetter(ctx, jobKind, id, m.Data); derr != nil {
			// Keep the job on the stream rather than lose it.
			logger.Errorf("[Notify] dead-letter publish failed for job %s: %v", id, derr)
			_ = m.NakWithDelay(w.conf.Backoff.Max)
			return
		}
		_ = m.Ack()
	}
}

// ===== Disposition =====

type action int

const (
	actAck action = iota
	actRetry
	actDead
)

// disposition decides what happens to a job after a delivery attempt.
// delivered is the server's delivery count for this message, 1-based.
func disposition(err error, delivered, maxAttempts int, b Backoff) (action, time.Duration) {
	if err == nil {
		return actAck, 0
	}
	if delivered >= maxAttempts {
		return actDead, 0
	}
	return actRetry, b.Delay(delivered)
}
