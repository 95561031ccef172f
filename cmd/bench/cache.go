package main

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/coord/cache"
	pmet "github.com/IvanBrykalov/coord/metrics/prom"
)

var cacheFlags struct {
	capacity int
	shards   int
	ttl      time.Duration
	workers  int
	duration time.Duration
	readPct  int
	keys     int
	zipfS    float64
	zipfV    float64
	seed     int64
	preload  int
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Zipf-distributed get/set workload against the bounded cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCache(cmd.Context())
	},
}

func init() {
	f := cacheCmd.Flags()
	f.IntVar(&cacheFlags.capacity, "cap", 100_000, "cache capacity (entries)")
	f.IntVar(&cacheFlags.shards, "shards", 1, "number of shards (1 = global LRU)")
	f.DurationVar(&cacheFlags.ttl, "ttl", time.Minute, "entry TTL")
	f.IntVar(&cacheFlags.workers, "workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
	f.DurationVar(&cacheFlags.duration, "duration", 10*time.Second, "benchmark duration")
	f.IntVar(&cacheFlags.readPct, "reads", 80, "read percentage [0..100]")
	f.IntVar(&cacheFlags.keys, "keys", 1_000_000, "keyspace size")
	f.Float64Var(&cacheFlags.zipfS, "zipf_s", 1.1, "Zipf s > 1 (skew)")
	f.Float64Var(&cacheFlags.zipfV, "zipf_v", 1.0, "Zipf v")
	f.Int64Var(&cacheFlags.seed, "seed", time.Now().UnixNano(), "random seed")
	f.IntVar(&cacheFlags.preload, "preload", 0, "preload entries (0 = cap/2)")
}

func runCache(ctx context.Context) error {
	fl := cacheFlags
	if fl.keys < 2 || fl.zipfS <= 1 {
		return fmt.Errorf("bench: need keys >= 2 and zipf_s > 1")
	}
	reg := serve(ctx)

	c := cache.New[string, string](cache.Options[string, string]{
		Capacity: fl.capacity,
		Shards:   fl.shards,
		TTL:      fl.ttl,
		Metrics:  pmet.NewCache(reg, "coord", "bench", nil),
	})
	defer func() { _ = c.Close() }()

	// Preload half capacity to get a realistic hit-rate.
	pl := fl.preload
	if pl == 0 {
		pl = fl.capacity / 2
	}
	for i := 0; i < pl; i++ {
		c.Set("k:"+strconv.Itoa(i), "v"+strconv.Itoa(i))
	}

	workers := max(fl.workers, 1)
	var reads, writes, hits, total atomic.Uint64
	runCtx, cancel := context.WithTimeout(ctx, fl.duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(runCtx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			// rand.Rand is not goroutine-safe: one per worker.
			r := rand.New(rand.NewSource(fl.seed + int64(w)*9973))
			zipf := rand.NewZipf(r, fl.zipfS, fl.zipfV, uint64(fl.keys-1))
			key := func() string { return "k:" + strconv.FormatUint(zipf.Uint64(), 10) }

			for gctx.Err() == nil {
				total.Add(1)
				if int(r.Int31n(100)) < fl.readPct {
					reads.Add(1)
					if _, ok := c.Get(key()); ok {
						hits.Add(1)
					}
					continue
				}
				writes.Add(1)
				c.Set(key(), "v"+strconv.Itoa(r.Int()))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	ops, rd := total.Load(), reads.Load()
	hitRate := 0.0
	if rd > 0 {
		hitRate = float64(hits.Load()) / float64(rd) * 100
	}
	st := c.Stats()
	fmt.Printf("cap=%d shards=%d workers=%d keys=%d dur=%v seed=%d\n",
		fl.capacity, fl.shards, workers, fl.keys, elapsed, fl.seed)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), rd, writes.Load())
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%  evictions=%d\n", st.Hits, st.Misses, hitRate, st.Evictions)
	fmt.Printf("size=%d/%d\n", st.Size, st.MaxSize)
	return nil
}
