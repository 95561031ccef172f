package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/coord/config"
	"github.com/IvanBrykalov/coord/errs"
)

var resolveFlags struct {
	workers  int
	requests int
	names    []string
	variants int
	timeout  time.Duration
	envFiles []string
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Concurrent template lookups through cache, limiter, key locks and source race",
	Long: `Resolve runs many concurrent lookups of a small set of template names.
Sources and limits come from COORD_* environment variables (or a .env file):
builtin templates are always present, COORD_CATALOG_PATH adds a SQLite catalog
and COORD_TEMPLATE_REPOSITORIES adds remote repositories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(cmd.Context())
	},
}

func init() {
	f := resolveCmd.Flags()
	f.IntVar(&resolveFlags.workers, "workers", 4*runtime.GOMAXPROCS(0), "concurrent callers")
	f.IntVar(&resolveFlags.requests, "requests", 10_000, "total lookups")
	f.StringSliceVar(&resolveFlags.names, "names", []string{"basic", "python", "missing"}, "template names to look up")
	f.IntVar(&resolveFlags.variants, "variants", 4, "distinct cache variants per name")
	f.DurationVar(&resolveFlags.timeout, "timeout", 5*time.Second, "per-lookup timeout")
	f.StringSliceVar(&resolveFlags.envFiles, "env-file", nil, "dotenv files to load (default .env if present)")
}

func runResolve(ctx context.Context) error {
	fl := resolveFlags
	if len(fl.names) == 0 {
		return fmt.Errorf("bench: --names is empty")
	}
	cfg, err := config.Load(fl.envFiles...)
	if err != nil {
		return err
	}
	slog.Info("config loaded", slog.Any("config", cfg))

	reg := serve(ctx)
	st, err := buildStack(ctx, cfg, reg, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var (
		mu       sync.Mutex
		outcomes = map[string]int{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(fl.workers, 1))
	start := time.Now()
	for i := 0; i < fl.requests && gctx.Err() == nil; i++ {
		g.Go(func() error {
			r := rand.New(rand.NewSource(int64(i)))
			name := fl.names[r.Intn(len(fl.names))]
			variant := ""
			if fl.variants > 1 {
				variant = strconv.Itoa(r.Intn(fl.variants))
			}
			callCtx, cancel := context.WithTimeout(gctx, fl.timeout)
			defer cancel()

			_, err := st.resolver.Get(callCtx, name, variant)
			outcome := "ok"
			if err != nil {
				outcome = errs.Message(err)
			}
			mu.Lock()
			outcomes[outcome]++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("requests=%d workers=%d names=%v dur=%v (%.0f req/s)\n",
		fl.requests, fl.workers, fl.names, elapsed, float64(fl.requests)/elapsed.Seconds())
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-28s %d\n", k, outcomes[k])
	}
	if st.cache != nil {
		cs := st.cache.Stats()
		fmt.Printf("cache size=%d/%d hits=%d misses=%d evictions=%d\n", cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.Evictions)
	}
	for _, name := range st.monitor.Names() {
		m, _ := st.monitor.Metrics(name)
		fmt.Printf("op %s: count=%d errors=%d avg=%v min=%v max=%v peak_mem=%dB\n",
			name, m.Count, m.Errors, m.AvgTime, m.MinTime, m.MaxTime, m.PeakMemory)
	}
	return nil
}
