package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/redstash/redstash"
)

type hammerConfig struct {
	workers    int
	duration   time.Duration
	writeProb  float64
	readSleep  time.Duration
	writeSleep time.Duration
	payloadMin int
	payloadMax int
	blocking   bool
	monitor    time.Duration
}

// workerStats mirrors the counters a soak run reports per worker:
// reads ok/busy/miss, writes ok/busy/exists, byte volumes, and
// everything else that went wrong.
type workerStats struct {
	id         string
	iterations int

	readOK    int
	readBusy  int
	readMiss  int
	readBytes int64

	writeOK     int
	writeBusy   int
	writeExists int
	writeBytes  int64

	other int
}

func (s *workerStats) String() string {
	return fmt.Sprintf("worker %s it=%d R(ok/busy/miss)=%d/%d/%d Rbytes=%d W(ok/busy/exist)=%d/%d/%d Wbytes=%d other=%d",
		s.id, s.iterations,
		s.readOK, s.readBusy, s.readMiss, s.readBytes,
		s.writeOK, s.writeBusy, s.writeExists, s.writeBytes, s.other)
}

// newHammerCmd drives a mixed read/write workload against a shared
// cache from many workers at once. Each worker owns its own cache
// handle; point several invocations on different hosts at the same
// directory and namespace to soak a whole deployment.
func newHammerCmd() *cobra.Command {
	cfg := hammerConfig{}
	cmd := &cobra.Command{
		Use:   "hammer",
		Short: "Run a randomized multi-worker workload against the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.payloadMin <= 0 || cfg.payloadMax < cfg.payloadMin {
				return errors.New("payload bounds must satisfy 0 < min <= max")
			}
			return runHammer(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.workers, "workers", 4, "concurrent workers")
	f.DurationVar(&cfg.duration, "duration", 20*time.Second, "how long to run")
	f.Float64Var(&cfg.writeProb, "write-prob", 0.15, "probability an iteration writes instead of reads")
	f.DurationVar(&cfg.readSleep, "read-sleep", 5*time.Millisecond, "pause after each read")
	f.DurationVar(&cfg.writeSleep, "write-sleep", 20*time.Millisecond, "pause after each write")
	f.IntVar(&cfg.payloadMin, "payload-min", 200, "minimum payload bytes")
	f.IntVar(&cfg.payloadMax, "payload-max", 4000, "maximum payload bytes")
	f.BoolVar(&cfg.blocking, "blocking", false, "use the blocking read/write variants")
	f.DurationVar(&cfg.monitor, "monitor", time.Second, "monitor print interval")
	return cmd
}

func runHammer(ctx context.Context, cfg hammerConfig) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	// Monitor connection for discovery-set sampling and totals.
	rdb := redis.NewClient(&redis.Options{
		Addr: viper.GetString("redis-addr"),
		DB:   viper.GetInt("redis-db"),
	})
	defer rdb.Close()

	var g errgroup.Group
	stats := make([]*workerStats, cfg.workers)
	for i := 0; i < cfg.workers; i++ {
		s := &workerStats{id: uuid.NewString()[:8]}
		stats[i] = s
		g.Go(func() error {
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()
			runWorker(runCtx, c, rdb, cfg, s)
			return nil
		})
	}

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor(runCtx, rdb, cfg)
	}()

	err := g.Wait()
	cancel()
	<-monitorDone

	for _, s := range stats {
		fmt.Println(s)
	}
	return err
}

func runWorker(ctx context.Context, c *redstash.Cache, rdb *redis.Client, cfg hammerConfig, s *workerStats) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // workload randomness, not secrets
	keysSet := c.Index().KeysSetKey()
	seq := 0

	for ctx.Err() == nil {
		s.iterations++
		if rng.Float64() < cfg.writeProb {
			seq++
			key := fmt.Sprintf("%s-%06d.bin", s.id, seq)
			payload := make([]byte, cfg.payloadMin+rng.Intn(cfg.payloadMax-cfg.payloadMin+1))
			rng.Read(payload)
			writeOne(ctx, c, cfg, key, payload, s)
			sleep(ctx, cfg.writeSleep)
		} else {
			key, err := rdb.SRandMember(ctx, keysSet).Result()
			if err != nil || key == "" {
				s.readMiss++
				sleep(ctx, cfg.readSleep)
				continue
			}
			readOne(ctx, c, rdb, cfg, keysSet, key, s)
			sleep(ctx, cfg.readSleep)
		}
	}
}

func writeOne(ctx context.Context, c *redstash.Cache, cfg hammerConfig, key string, payload []byte, s *workerStats) {
	var err error
	if cfg.blocking {
		var ok bool
		ok, err = c.CreateBlocking(ctx, key, payload, 1500*time.Millisecond, 0)
		if err == nil && !ok {
			s.writeBusy++
			return
		}
	} else {
		err = c.Create(ctx, key, payload)
	}
	switch {
	case err == nil:
		s.writeOK++
		s.writeBytes += int64(len(payload))
	case errors.Is(err, redstash.ErrBusy):
		s.writeBusy++
	case errors.Is(err, redstash.ErrExists):
		s.writeExists++
	default:
		s.other++
	}
}

func readOne(ctx context.Context, c *redstash.Cache, rdb *redis.Client, cfg hammerConfig, keysSet, key string, s *workerStats) {
	var data []byte
	var err error
	if cfg.blocking {
		var ok bool
		data, ok, err = c.ReadBlocking(ctx, key, time.Second, 0)
		if err == nil && !ok {
			s.readBusy++
			return
		}
	} else {
		data, err = c.Read(ctx, key)
	}
	switch {
	case err == nil:
		s.readOK++
		s.readBytes += int64(len(data))
	case errors.Is(err, redstash.ErrBusy):
		s.readBusy++
	case errors.Is(err, redstash.ErrNotFound):
		// Evicted or externally removed; drop it from discovery so
		// other workers stop sampling it.
		s.readMiss++
		_ = rdb.SRem(ctx, keysSet, key).Err()
	default:
		s.other++
	}
}

func monitor(ctx context.Context, rdb *redis.Client, cfg hammerConfig) {
	ns := viper.GetString("namespace")
	capacity := viper.GetInt64("max-bytes")
	ticker := time.NewTicker(cfg.monitor)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		total, _ := rdb.Get(ctx, ns+":idx:total").Int64()
		nkeys, _ := rdb.SCard(ctx, ns+":keys:set").Result()
		line := fmt.Sprintf("[monitor t=%ds] total_bytes=%d keys=%d", int(time.Since(start).Seconds()), total, nkeys)
		if capacity > 0 {
			line += fmt.Sprintf(" cap=%d", capacity)
		}
		fmt.Println(line)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
