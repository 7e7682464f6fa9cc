package reaction

import (
	"context"
	"os"
	"time"

	"NProject/logger"
	"NProject/tools/errs"

	"github.com/Shopify/sarama"
)

// ===== Batching consumer =====

// groupHandler accumulates claim messages into batches and hands them to
// the processor. Offsets are marked only after the whole batch applied,
// so a mid-batch crash redelivers the batch and dedup absorbs the replay.
type groupHandler struct {
	proc          *Processor
	batchSize     int
	flushInterval time.Duration
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	logger.Infof("[Reaction] consumer session up, member=%s gen=%d", sess.MemberID(), sess.GenerationID())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]*sarama.ConsumerMessage, 0, h.batchSize)
	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := h.handleBatch(sess, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			batch = append(batch, msg)
			if len(batch) >= h.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-sess.Context().Done():
			return flush()
		}
	}
}

func (h *groupHandler) handleBatch(sess sarama.ConsumerGroupSession, msgs []*sarama.ConsumerMessage) error {
	events := make([]*ReactionEvent, 0, len(msgs))
	for _, m := range msgs {
		ev, err := UnmarshalEvent(m.Value)
		if err != nil {
			// Poison payload. Log and mark so it does not wedge the partition.
			logger.Warnf("[Reaction] drop undecodable message topic=%s partition=%d offset=%d: %v",
				m.Topic, m.Partition, m.Offset, err)
			continue
		}
		events = append(events, ev)
	}

	applied, err := h.proc.ProcessBatch(sess.Context(), events)
	if err != nil {
		// Leave the whole batch unmarked. The group redelivers it and the
		// idempotency store filters what already landed.
		logger.Errorf("[Reaction] batch failed after %d applied, will redeliver %d messages: %v",
			applied, len(msgs), err)
		return errs.Wrap(err, "reaction batch")
	}

	for _, m := range msgs {
		sess.MarkMessage(m, "")
	}
	logger.Debugf("[Reaction] batch acked, messages=%d applied=%d", len(msgs), applied)
	return nil
}

// ===== Shard worker =====

// ShardWorker drives the consumer group for exactly one shard topic. One
// worker process owns one shard, so per-entity ordering within the shard
// is preserved end to end.
type ShardWorker struct {
	conf  *Config
	shard int
	proc  *Processor
	group sarama.ConsumerGroup
}

func NewShardWorker(conf *Config, shard int, proc *Processor) (*ShardWorker, error) {
	conf.norm()
	if shard < 0 || shard >= conf.ShardCount {
		return nil, errs.ErrInvalidParam.WithDetail("shard out of range")
	}
	sc := BuildBaseConfig(conf)
	sc.ClientID = WorkerID(shard, os.Getpid())

	group, err := sarama.NewConsumerGroup(conf.Brokers, conf.GroupID, sc)
	if err != nil {
		return nil, errs.Wrap(err, "new consumer group")
	}
	return &ShardWorker{conf: conf, shard: shard, proc: proc, group: group}, nil
}

func (w *ShardWorker) Topic() string { return TopicFor(w.conf.TopicPattern, w.shard) }

// Run blocks until ctx is cancelled. Consume returns on every rebalance,
// so it is called in a loop per the sarama contract.
func (w *ShardWorker) Run(ctx context.Context) error {
	handler := &groupHandler{
		proc:          w.proc,
		batchSize:     w.conf.BatchSize,
		flushInterval: w.conf.FlushInterval,
	}
	topic := w.Topic()
	logger.Infof("[Reaction] shard worker start, shard=%d topic=%s group=%s", w.shard, topic, w.conf.GroupID)

	for {
		if err := w.group.Consume(ctx, []string{topic}, handler); err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Errorf("[Reaction] consume error on shard %d: %v", w.shard, err)
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	logger.Infof("[Reaction] shard worker stop, shard=%d", w.shard)
	return w.group.Close()
}
