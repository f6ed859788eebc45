// Command liestudio-loadtest measures the session registry under concurrent
// lookups and login/logout churn.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/liestudio/studio/session"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "liestudio-loadtest:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("liestudio-loadtest", pflag.ContinueOnError)
	var (
		sessions    = flags.Int("sessions", 100000, "number of session records to seed")
		users       = flags.Int("users", 1000, "number of distinct users the sessions belong to")
		concurrency = flags.Int("concurrency", 256, "number of concurrent workers")
		ops         = flags.Int("ops", 200000, "operations per phase (lookup + churn)")
		redisAddr   = flags.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flags.String("prefix", "lt", "session key prefix")
	)
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		return fmt.Errorf("sessions, users, concurrency and ops must be > 0")
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var client redis.UniversalClient
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}
	client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	registry := session.NewRegistry(client, *prefix)

	ids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
		if err := registry.Save(ctx, buildRecord(ids[i], i%*users)); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	lookup := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := registry.Get(ctx, ids[r.Intn(len(ids))])
		return err
	})

	locks := make([]sync.Mutex, len(ids))
	churn := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		idx := r.Intn(len(ids))
		locks[idx].Lock()
		defer locks[idx].Unlock()
		if err := registry.Delete(ctx, ids[idx]); err != nil {
			return err
		}
		return registry.Save(ctx, buildRecord(ids[idx], idx%*users))
	})

	count, err := registry.Count(ctx)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}

	fmt.Println("---- results ----")
	printStats("lookup", lookup)
	printStats("churn", churn)
	fmt.Printf("registry count after churn: %d (seeded %d)\n", count, *sessions)
	return nil
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
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
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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

func buildRecord(sid string, user int) *session.Record {
	now := time.Now()
	return &session.Record{
		SessionID:  sid,
		UserID:     strconv.Itoa(user),
		Username:   "user" + strconv.Itoa(user),
		Role:       "user",
		AuthMethod: "ticket",
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(24 * time.Hour).Unix(),
	}
}
