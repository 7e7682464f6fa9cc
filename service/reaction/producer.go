package reaction

import (
	"context"
	"time"

	"NProject/logger"
	errs "NProject/tools/errs"
	"NProject/tools/ids"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Producer appends reaction events to their shard log. The shard is chosen
// by ShardFor, never by the broker's partitioner, so routing stays stable
// regardless of partition count.
type Producer struct {
	conf Config
	sp   sarama.SyncProducer
}

func NewProducer(conf Config) (*Producer, error) {
	conf.norm()
	sp, err := sarama.NewSyncProducer(conf.Brokers, BuildBaseConfig(&conf))
	if err != nil {
		return nil, errs.Wrap(err, "new sync producer")
	}
	return &Producer{conf: conf, sp: sp}, nil
}

// NewProducerFromSarama wraps an existing sync producer (tests, shared
// clients).
func NewProducerFromSarama(conf Config, sp sarama.SyncProducer) *Producer {
	conf.norm()
	return &Producer{conf: conf, sp: sp}
}

// Produce stamps the event id/timestamp and appends the event to the shard
// log for its entity. Returns the assigned event id.
func (p *Producer) Produce(ctx context.Context, ev *ReactionEvent) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if ev.EventID == "" {
		ev.EventID = ids.GenerateString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	raw, err := ev.Marshal()
	if err != nil {
		return "", errs.Wrap(err, "marshal event")
	}

	shard := ShardFor(ev.EntityID, p.conf.ShardCount)
	topic := TopicFor(p.conf.TopicPattern, shard)
	partition, offset, err := p.sp.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(ev.EntityID),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		return "", errs.Wrapf(err, "produce shard=%d", shard)
	}
	logger.Debug("[Reaction] produced",
		zap.String("topic", topic), zap.Int32("partition", partition), zap.Int64("offset", offset))
	return ev.EventID, nil
}

func (p *Producer) Close() error { return p.sp.Close() }
