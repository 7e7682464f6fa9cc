// The reaction-worker binary consumes one reaction shard topic and folds
// the events into redis tallies. With -supervise it instead forks one
// child per shard and restarts children that die.
//
// Configuration (environment):
//   - KAFKA_BROKERS     comma separated (default "127.0.0.1:9092")
//   - KAFKA_GROUP       consumer group (default "reaction-consumer-1")
//   - REACTION_SHARDS   shard count (default 8)
//   - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//   - DEDUP_TTL_SEC     idempotency window (default 3600)
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"NProject/logger"
	"NProject/service/reaction"
	redis2 "NProject/service/storage/redis"
	"NProject/tools"
)

func main() {
	shard := flag.Int("shard", -1, "shard index to consume")
	supervise := flag.Bool("supervise", false, "run the shard supervisor instead of a single worker")
	ensureTopics := flag.Bool("ensure-topics", false, "create missing shard topics and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conf := reaction.DefaultConfig()
	conf.Brokers = strings.Split(tools.GetEnv("KAFKA_BROKERS", "127.0.0.1:9092"), ",")
	conf.GroupID = tools.GetEnv("KAFKA_GROUP", conf.GroupID)
	conf.ShardCount = tools.GetEnvInt("REACTION_SHARDS", conf.ShardCount)

	if *ensureTopics {
		if err := reaction.EnsureShardTopics(&conf); err != nil {
			logger.Errorf("[Reaction] ensure topics failed: %v", err)
			os.Exit(1)
		}
		return
	}

	if *supervise {
		if conf.AutoCreateTopicsOnStart {
			if err := reaction.EnsureShardTopics(&conf); err != nil {
				logger.Errorf("[Reaction] ensure topics failed: %v", err)
				os.Exit(1)
			}
		}
		bin, err := os.Executable()
		if err != nil {
			logger.Errorf("[Reaction] resolve executable: %v", err)
			os.Exit(1)
		}
		reaction.NewSupervisor(bin, nil, conf.ShardCount).Run(ctx)
		return
	}

	if *shard < 0 {
		logger.Errorf("[Reaction] -shard is required without -supervise")
		os.Exit(2)
	}

	if err := redis2.InitRedis(redis2.Config{
		Addr:     tools.GetEnv("REDIS_ADDR", "127.0.0.1:6379"),
		Password: tools.GetEnv("REDIS_PASSWORD", ""),
		DB:       tools.GetEnvInt("REDIS_DB", 0),
	}); err != nil {
		logger.Errorf("[Reaction] redis init failed: %v", err)
		os.Exit(1)
	}
	defer redis2.CloseRedis()

	dedupTTL := time.Duration(tools.GetEnvInt("DEDUP_TTL_SEC", 3600)) * time.Second
	proc := reaction.NewProcessor(
		reaction.NewRedisRepository(),
		reaction.NewRedisCache(""),
		reaction.NewRedisIdem("", dedupTTL),
		dedupTTL,
	)

	worker, err := reaction.NewShardWorker(&conf, *shard, proc)
	if err != nil {
		logger.Errorf("[Reaction] worker init failed: %v", err)
		os.Exit(1)
	}
	if err := worker.Run(ctx); err != nil {
		logger.Errorf("[Reaction] worker exited: %v", err)
		os.Exit(1)
	}
}
