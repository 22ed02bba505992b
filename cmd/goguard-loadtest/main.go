package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		subjects    = flag.Int("subjects", 1000, "number of distinct subjects")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 50000, "check+record operations to run")
		operation   = flag.String("operation", goGuard.OperationVerificationCode, "operation to exercise")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		configPath  = flag.String("config", "", "optional YAML config file")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	cfg := goGuard.DefaultConfig()
	if *configPath != "" {
		loaded, err := goGuard.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	cfg.Audit.Enabled = false
	cfg.Logger.Level = "error"

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	logger, err := goGuard.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	engine, err := goGuard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	policy, ok := cfg.Policies[*operation]
	if !ok {
		policy = cfg.DefaultPolicy
	}

	res := run(context.Background(), engine, *operation, *subjects, *ops, *concurrency)
	overshoot := 0
	worst := 0
	for _, n := range res.allowedPerSubject {
		if excess := int(n) - policy.MaxAttempts; excess > 0 {
			overshoot++
			if excess > worst {
				worst = excess
			}
		}
	}

	fmt.Println("---- results ----")
	printStats("check+record", res.stats)
	fmt.Printf("allowed=%d denied=%d max_attempts=%d\n", res.allowed, res.denied, policy.MaxAttempts)
	fmt.Printf("subjects over limit=%d worst overshoot=%d\n", overshoot, worst)

	snap := engine.MetricsSnapshot()
	fmt.Printf("fail_open=%d strict_denied=%d\n",
		snap.Counters[goGuard.MetricRateLimitFailOpen],
		snap.Counters[goGuard.MetricRateLimitStrictDenied],
	)
}

type runResult struct {
	stats             phaseStats
	allowed, denied   int64
	allowedPerSubject []int64
}

// run checks then records a failure for random subjects. Check and record
// are separate calls, so concurrent workers can overshoot MaxAttempts by up
// to the concurrency level.
func run(ctx context.Context, engine *goGuard.Engine, operation string, subjects, ops, concurrency int) runResult {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		allowed   int64
		denied    int64
		perSubj   = make([]int64, subjects)
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(subjects)
				// distinct IPs keep the IP ceilings out of the measurement
				sc := goGuard.SecurityContext{
					SubjectID:        fmt.Sprintf("subject-%d", idx),
					IPAddress:        fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xFF, (i>>8)&0xFF, i&0xFF),
					Operation:        operation,
					DeviceTrustScore: 1,
				}

				t0 := time.Now()
				d, err := engine.CheckRateLimit(ctx, operation, sc)
				if err == nil && d.Allowed {
					atomic.AddInt64(&allowed, 1)
					atomic.AddInt64(&perSubj[idx], 1)
					err = engine.RecordAttempt(ctx, operation, sc, false)
				} else if err == nil {
					atomic.AddInt64(&denied, 1)
				}
				elapsed := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}

				mu.Lock()
				latencies = append(latencies, elapsed)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	return runResult{
		stats:             computeStats(time.Since(start), latencies, failures),
		allowed:           allowed,
		denied:            denied,
		allowedPerSubject: perSubj,
	}
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
