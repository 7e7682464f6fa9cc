package reaction

import (
	"NProject/logger"
	"NProject/tools/errs"

	"github.com/Shopify/sarama"
)

// EnsureShardTopics creates every shard topic that does not exist yet.
// Existing topics are left as-is, even if their partition count differs.
func EnsureShardTopics(conf *Config) error {
	conf.norm()
	admin, err := sarama.NewClusterAdmin(conf.Brokers, BuildBaseConfig(conf))
	if err != nil {
		return errs.Wrap(err, "new cluster admin")
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return errs.Wrap(err, "list topics")
	}

	detail := &sarama.TopicDetail{
		NumPartitions:     conf.PartitionsPerTopic,
		ReplicationFactor: conf.ReplicationFactor,
	}
	for shard := 0; shard < conf.ShardCount; shard++ {
		topic := TopicFor(conf.TopicPattern, shard)
		if _, ok := existing[topic]; ok {
			continue
		}
		if err := admin.CreateTopic(topic, detail, false); err != nil {
			if terr, ok := err.(*sarama.TopicError); ok && terr.Err == sarama.ErrTopicAlreadyExists {
				continue
			}
			return errs.Wrapf(err, "create topic %s", topic)
		}
		logger.Infof("[Reaction] created topic %s, partitions=%d rf=%d",
			topic, conf.PartitionsPerTopic, conf.ReplicationFactor)
	}
	return nil
}
