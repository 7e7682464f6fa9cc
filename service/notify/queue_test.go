package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"NProject/tools/errs"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runJetStream(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(5*time.Second), "embedded server did not come up")
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	cfg := DefaultQueueConfig()
	cfg.Servers = []string{runJetStream(t)}
	q, err := NewQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

type captureService struct {
	mu      sync.Mutex
	singles []*NotificationJob
	batches [][]*NotificationJob
	fail    bool
}

func (s *captureService) Create(_ context.Context, job *NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errs.New("delivery down")
	}
	s.singles = append(s.singles, job)
	return nil
}

func (s *captureService) CreateBatch(_ context.Context, jobs []*NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errs.New("delivery down")
	}
	s.batches = append(s.batches, jobs)
	return nil
}

func (s *captureService) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.singles), len(s.batches)
}

func runWorker(t *testing.T, q *Queue, svc NotificationService, conf WorkerConfig) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewWorker(q, svc, conf).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEnqueueThenWorkerCreates(t *testing.T) {
	q := newTestQueue(t)
	svc := &captureService{}
	runWorker(t, q, svc, WorkerConfig{Durable: "nw-single", FetchWait: 100 * time.Millisecond})

	id, err := q.Enqueue(context.Background(), &NotificationJob{Kind: KindMention, UserID: "u1", NoteID: "n1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		s, _ := svc.counts()
		return s == 1
	}, 5*time.Second, 50*time.Millisecond)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, id, svc.singles[0].JobID)
	assert.Equal(t, "u1", svc.singles[0].UserID)
}

func TestEnqueueBatchDeliversOneCreateBatchCall(t *testing.T) {
	q := newTestQueue(t)
	svc := &captureService{}
	runWorker(t, q, svc, WorkerConfig{Durable: "nw-batch", FetchWait: 100 * time.Millisecond})

	jobs := []*NotificationJob{
		{Kind: KindMention, UserID: "u1", NoteID: "n1"},
		{Kind: KindShare, UserID: "u2", NoteID: "n1"},
		{Kind: KindDigest, UserID: "u3"},
	}
	batchID, err := q.EnqueueBatch(context.Background(), jobs)
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	require.Eventually(t, func() bool {
		_, b := svc.counts()
		return b == 1
	}, 5*time.Second, 50*time.Millisecond)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.batches, 1, "the whole array must arrive as one CreateBatch call")
	assert.Len(t, svc.batches[0], 3)
	assert.Empty(t, svc.singles, "a batch job must not be flattened into singles")
}

func TestEnqueueDedupsByJobID(t *testing.T) {
	q := newTestQueue(t)
	svc := &captureService{}
	runWorker(t, q, svc, WorkerConfig{Durable: "nw-dedup", FetchWait: 100 * time.Millisecond})

	job := &NotificationJob{JobID: "fixed-id", Kind: KindShare, UserID: "u1"}
	_, err := q.Enqueue(context.Background(), job)
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), job)
	require.NoError(t, err)

	time.Sleep(time.Second)
	s, _ := svc.counts()
	assert.Equal(t, 1, s, "duplicate msg id must collapse on the stream")
}

func TestFailingJobDeadLettersAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	svc := &captureService{fail: true}
	runWorker(t, q, svc, WorkerConfig{
		Durable:     "nw-dead",
		FetchWait:   100 * time.Millisecond,
		AckWait:     2 * time.Second,
		MaxAttempts: 2,
		Backoff:     Backoff{Base: 50 * time.Millisecond, Max: 200 * time.Millisecond},
	})

	nc, err := nats.Connect(q.cfg.Servers[0])
	require.NoError(t, err)
	defer nc.Close()
	js, err := nc.JetStream()
	require.NoError(t, err)
	dead, err := js.SubscribeSync(q.cfg.DeadSubject(JobKindSingle))
	require.NoError(t, err)

	id, err := q.Enqueue(context.Background(), &NotificationJob{Kind: KindMention, UserID: "u1"})
	require.NoError(t, err)

	m, err := dead.NextMsg(10 * time.Second)
	require.NoError(t, err, "exhausted job must land on the dead subject")
	assert.Equal(t, id, m.Header.Get("Notify-Job-Id"))
	got, err := UnmarshalJob(m.Data)
	require.NoError(t, err)
	assert.Equal(t, id, got.JobID)

	s, _ := svc.counts()
	assert.Zero(t, s, "a failing job must never count as created")
}
