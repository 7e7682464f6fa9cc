package reaction

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"NProject/logger"
	"NProject/tools/safe"
)

// ===== Shard supervisor =====

// Supervisor spawns one child process per shard and restarts any child
// that exits, with capped backoff. The shard set is fixed at start;
// resharding means a new topic pattern and a redeploy, not a runtime
// rebalance.
type Supervisor struct {
	binary     string
	baseArgs   []string
	shardCount int

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewSupervisor(binary string, baseArgs []string, shardCount int) *Supervisor {
	return &Supervisor{
		binary:     binary,
		baseArgs:   baseArgs,
		shardCount: shardCount,
		minBackoff: 1 * time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled, then waits for every child to exit.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for shard := 0; shard < s.shardCount; shard++ {
		shard := shard
		wg.Add(1)
		safe.SafeGo(func() {
			defer wg.Done()
			s.runShard(ctx, shard)
		})
	}
	wg.Wait()
}

func (s *Supervisor) runShard(ctx context.Context, shard int) {
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := s.spawn(ctx, shard)
		if ctx.Err() != nil {
			return
		}
		// A child that ran for a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = s.minBackoff
		}
		logger.Warnf("[Reaction] shard %d worker exited (%v), restart in %s", shard, err, backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Supervisor) spawn(ctx context.Context, shard int) error {
	args := append(append([]string{}, s.baseArgs...), "-shard", strconv.Itoa(shard))
	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	logger.Infof("[Reaction] spawning shard %d: %s", shard, s.binary)
	return cmd.Run()
}
