package reaction

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

// Config is the in-code pipeline configuration; cmd entrypoints override
// fields from the environment. Shard count is a deployment-time constant:
// changing it remaps entity routing and is a migration, not a toggle.
type Config struct {
	Brokers      []string
	GroupID      string
	TopicPattern string // e.g. "reaction.shard-%02d"
	ShardCount   int

	BatchSize     int           // max records per consumer batch
	FlushInterval time.Duration // partial-batch flush cadence

	PartitionsPerTopic      int32
	ReplicationFactor       int16
	AutoCreateTopicsOnStart bool

	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	KafkaVersion          sarama.KafkaVersion
}

func DefaultConfig() Config {
	return Config{
		Brokers:                 []string{"127.0.0.1:9092"},
		GroupID:                 "reaction-consumer-1",
		TopicPattern:            "reaction.shard-%02d",
		ShardCount:              8,
		BatchSize:               1000,
		FlushInterval:           500 * time.Millisecond,
		PartitionsPerTopic:      1,
		ReplicationFactor:       1,
		AutoCreateTopicsOnStart: true,
		ProducerRetries:         5,
		ProducerCompression:     "snappy",
		ConsumerInitialOffset:   "oldest",
		KafkaVersion:            sarama.V2_8_0_0,
	}
}

func (c *Config) norm() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"127.0.0.1:9092"}
	}
	if c.ShardCount <= 0 {
		c.ShardCount = 8
	}
	if c.TopicPattern == "" {
		c.TopicPattern = "reaction.shard-%02d"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 500 * time.Millisecond
	}
	if c.GroupID == "" {
		c.GroupID = "reaction-consumer-1"
	}
}

// BuildBaseConfig assembles the sarama config shared by producer, consumer
// and admin clients.
func BuildBaseConfig(c *Config) *sarama.Config {
	cfg := sarama.NewConfig()
	if c.KafkaVersion == (sarama.KafkaVersion{}) {
		cfg.Version = sarama.V2_8_0_0
	} else {
		cfg.Version = c.KafkaVersion
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := c.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(c.ConsumerInitialOffset) {
	case "newest":
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}
