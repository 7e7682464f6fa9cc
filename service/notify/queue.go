package notify

import (
	"context"
	"strings"
	"time"

	"NProject/logger"
	"NProject/tools"
	"NProject/tools/errs"
	"NProject/tools/ids"

	"github.com/nats-io/nats.go"
)

// ===== Queue config =====

type QueueConfig struct {
	Servers       []string
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration

	StreamName    string // e.g. "NOTIFY"
	SubjectPrefix string // e.g. "notify.jobs"
	DeadPrefix    string // e.g. "notify.dead"

	// Retention for the job stream. Jobs older than MaxAge or beyond
	// MaxMsgs are dropped by the server.
	MaxAge  time.Duration
	MaxMsgs int64
}

func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Servers:       []string{tools.GetEnv("NATS_URL", "nats://127.0.0.1:4222")},
		Name:          "notify-queue",
		StreamName:    "NOTIFY",
		SubjectPrefix: "notify.job",
		DeadPrefix:    "notify.dead",
		MaxAge:        72 * time.Hour,
		MaxMsgs:       1_000_000,
	}
}

func (c *QueueConfig) norm() {
	if len(c.Servers) == 0 {
		c.Servers = []string{"nats://127.0.0.1:4222"}
	}
	if c.Name == "" {
		c.Name = "notify-queue"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.StreamName == "" {
		c.StreamName = "NOTIFY"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "notify.job"
	}
	if c.DeadPrefix == "" {
		c.DeadPrefix = "notify.dead"
	}
	if c.MaxAge == 0 {
		c.MaxAge = 72 * time.Hour
	}
	if c.MaxMsgs == 0 {
		c.MaxMsgs = 1_000_000
	}
}

// JobSubject and DeadSubject map a job kind (single/batch) to subjects.
func (c *QueueConfig) JobSubject(kind string) string  { return c.SubjectPrefix + "." + kind }
func (c *QueueConfig) DeadSubject(kind string) string { return c.DeadPrefix + "." + kind }

// JobKindOf resolves a stream subject back to its job kind. Returns ""
// for subjects outside the job space.
func (c *QueueConfig) JobKindOf(subject string) string {
	switch subject {
	case c.JobSubject(JobKindSingle):
		return JobKindSingle
	case c.JobSubject(JobKindBatch):
		return JobKindBatch
	}
	return ""
}

// ===== Queue =====

// Queue is the JetStream-backed notification job queue. Producers enqueue
// durable jobs; workers pull them with server-side redelivery.
type Queue struct {
	cfg QueueConfig
	nc  *nats.Conn
	js  nats.JetStreamContext
}

func NewQueue(cfg QueueConfig) (*Queue, error) {
	cfg.norm()
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.Wrap(err, "nats connect")
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, errs.Wrap(err, "init jetstream")
	}
	q := &Queue{cfg: cfg, nc: nc, js: js}
	if err := q.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

// NewQueueFromJetStream wires an existing JetStream context, mainly for
// embedding and tests.
func NewQueueFromJetStream(cfg QueueConfig, nc *nats.Conn, js nats.JetStreamContext) (*Queue, error) {
	cfg.norm()
	q := &Queue{cfg: cfg, nc: nc, js: js}
	if err := q.ensureStream(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) Config() QueueConfig              { return q.cfg }
func (q *Queue) JetStream() nats.JetStreamContext { return q.js }

// ensureStream creates the job stream if missing. The dead-letter
// subjects live on the same stream so failed jobs inherit retention.
func (q *Queue) ensureStream() error {
	_, err := q.js.StreamInfo(q.cfg.StreamName)
	if err == nil {
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return errs.Wrap(err, "stream info")
	}
	_, err = q.js.AddStream(&nats.StreamConfig{
		Name:      q.cfg.StreamName,
		Subjects:  []string{q.cfg.SubjectPrefix + ".>", q.cfg.DeadPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    q.cfg.MaxAge,
		MaxMsgs:   q.cfg.MaxMsgs,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return errs.Wrap(err, "add stream")
	}
	logger.Infof("[Notify] created stream %s, maxAge=%s maxMsgs=%d",
		q.cfg.StreamName, q.cfg.MaxAge, q.cfg.MaxMsgs)
	return nil
}

// Enqueue publishes one single-create job with a Nats-Msg-Id header so
// JetStream deduplicates accidental double submits. Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, job *NotificationJob) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	if job.JobID == "" {
		job.JobID = ids.GenerateString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	raw, err := job.Marshal()
	if err != nil {
		return "", errs.Wrap(err, "marshal job")
	}
	if err := q.publish(ctx, q.cfg.JobSubject(JobKindSingle), raw, job.JobID); err != nil {
		return "", errs.Wrapf(err, "enqueue kind=%s", job.Kind)
	}
	return job.JobID, nil
}

// EnqueueBatch publishes the whole array as ONE batch-create job. The
// worker hands the array to the collaborator in a single CreateBatch
// call, and the batch retries or dead-letters as a unit. Returns the
// batch id.
func (q *Queue) EnqueueBatch(ctx context.Context, jobs []*NotificationJob) (string, error) {
	batch := &BatchJob{BatchID: ids.GenerateString(), Jobs: jobs, CreatedAt: time.Now()}
	for _, job := range batch.Jobs {
		if job.JobID == "" {
			job.JobID = ids.GenerateString()
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = batch.CreatedAt
		}
	}
	if err := batch.Validate(); err != nil {
		return "", err
	}
	raw, err := batch.Marshal()
	if err != nil {
		return "", errs.Wrap(err, "marshal batch job")
	}
	if err := q.publish(ctx, q.cfg.JobSubject(JobKindBatch), raw, batch.BatchID); err != nil {
		return "", errs.Wrapf(err, "enqueue batch size=%d", len(jobs))
	}
	return batch.BatchID, nil
}

func (q *Queue) publish(ctx context.Context, subject string, raw []byte, msgID string) error {
	msg := nats.NewMsg(subject)
	msg.Data = raw
	msg.Header.Set(nats.MsgIdHdr, msgID)
	_, err := q.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

// deadLetter parks an exhausted job on the dead subject of its kind. The
// originating id is preserved in the header for correlation.
func (q *Queue) deadLetter(ctx context.Context, jobKind, id string, raw []byte) error {
	msg := nats.NewMsg(q.cfg.DeadSubject(jobKind))
	msg.Data = raw
	msg.Header.Set("Notify-Job-Id", id)
	_, err := q.js.PublishMsg(msg, nats.Context(ctx))
	return err
}

func (q *Queue) Close() error {
	if q.nc != nil {
		return q.nc.Drain()
	}
	return nil
}
