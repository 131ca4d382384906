// Command authlab-loadtest drives the Redis-backed session store and TOTP
// replay guard with synthetic traffic and prints latency percentiles per
// phase.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ksm067300-arch/auth-lab/internal/stores"
	"github.com/ksm067300-arch/auth-lab/session"
)

type options struct {
	sessions    int
	identities  int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
	ttl         time.Duration
}

func (o options) validate() error {
	if o.sessions <= 0 || o.identities <= 0 || o.concurrency <= 0 || o.ops <= 0 {
		return errors.New("sessions, identities, concurrency and ops must be > 0")
	}
	if o.ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	return nil
}

// slot is one logical login whose session id changes on rotation.
type slot struct {
	mu         sync.Mutex
	sid        string
	identityID string
}

// phase is a named workload. op returns errRejected for outcomes the
// store is expected to refuse.
type phase struct {
	name string
	seed int64
	op   func(r *rand.Rand, i int) error
}

var errRejected = errors.New("rejected")

func main() {
	var o options
	flag.IntVar(&o.sessions, "sessions", 100000, "sessions to seed")
	flag.IntVar(&o.identities, "identities", 10000, "identities the sessions are spread over")
	flag.IntVar(&o.concurrency, "concurrency", 256, "concurrent workers")
	flag.IntVar(&o.ops, "ops", 200000, "operations per phase")
	flag.StringVar(&o.redisAddr, "redis-addr", "", "redis address (default REDIS_ADDR, else in-process miniredis)")
	flag.StringVar(&o.prefix, "prefix", "as", "session key prefix")
	flag.DurationVar(&o.ttl, "ttl", time.Hour, "session lifetime")
	flag.Parse()

	if err := o.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(context.Background(), o); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options) error {
	client, closeFn, err := connect(o.redisAddr)
	if err != nil {
		return err
	}
	defer closeFn()

	store := session.NewStore(client, o.prefix)
	guard := stores.NewReplayGuard(client, "arp")

	slots := make([]slot, o.sessions)
	seedStart := time.Now()
	for i := range slots {
		slots[i].sid = "sid-" + strconv.Itoa(i)
		slots[i].identityID = "id-" + strconv.Itoa(i%o.identities)
		if err := store.Save(ctx, newSession(slots[i].sid, slots[i].identityID, o.ttl), o.ttl); err != nil {
			return fmt.Errorf("seed session %d: %w", i, err)
		}
	}
	fmt.Printf("seeded %d sessions over %d identities in %s\n", o.sessions, o.identities, time.Since(seedStart).Round(time.Millisecond))

	pick := func(r *rand.Rand) *slot { return &slots[r.Intn(len(slots))] }
	phases := []phase{
		{name: "authenticate", seed: 7919, op: func(r *rand.Rand, _ int) error {
			s := pick(r)
			s.mu.Lock()
			sid := s.sid
			s.mu.Unlock()
			_, err := store.Get(ctx, sid, time.Now())
			return err
		}},
		{name: "rotate", seed: 6151, op: func(r *rand.Rand, i int) error {
			s := pick(r)
			s.mu.Lock()
			defer s.mu.Unlock()
			next := s.sid + "." + strconv.Itoa(i)
			if err := store.Save(ctx, newSession(next, s.identityID, o.ttl), o.ttl); err != nil {
				return err
			}
			if _, err := store.Delete(ctx, s.identityID, s.sid); err != nil {
				return err
			}
			s.sid = next
			return nil
		}},
		// Every counter is presented twice, so half the calls must be refused.
		// A cheap existence check runs before the SET NX, as a verifier
		// short-circuiting obvious replays would.
		{name: "replay", seed: 4099, op: func(_ *rand.Rand, i int) error {
			id := slots[(i/2)%len(slots)].identityID
			secret := []byte("load-secret-" + id)
			counter := int64(i / 2)
			used, err := guard.Used(ctx, id, secret, counter)
			if err != nil {
				return err
			}
			if used {
				return errRejected
			}
			err = guard.MarkUsed(ctx, id, secret, counter, 90*time.Second)
			if errors.Is(err, stores.ErrCodeReplayed) {
				return errRejected
			}
			return err
		}},
	}

	for _, p := range phases {
		fmt.Println(runPhase(p, o.ops, o.concurrency))
	}
	return nil
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		c := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("redis: %s\n", addr)
		return c, func() { _ = c.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	c := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("redis: in-process miniredis at %s\n", mr.Addr())
	return c, func() { _ = c.Close(); mr.Close() }, nil
}

// runPhase spreads ops calls over workers. Each worker keeps its own
// latency slice; they are merged once every worker is done.
func runPhase(p phase, ops, workers int) result {
	var (
		next     atomic.Int64
		failed   atomic.Int64
		rejected atomic.Int64
		wg       sync.WaitGroup
	)
	perWorker := make([][]time.Duration, workers)

	start := time.Now()
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(p.seed * int64(w+1)))
			for {
				i := int(next.Add(1) - 1)
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := p.op(r, i)
				perWorker[w] = append(perWorker[w], time.Since(t0))
				switch {
				case errors.Is(err, errRejected):
					rejected.Add(1)
				case err != nil:
					failed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	res := summarize(time.Since(start), slices.Concat(perWorker...))
	res.name = p.name
	res.failed = failed.Load()
	res.rejected = rejected.Load()
	return res
}

type result struct {
	name          string
	elapsed       time.Duration
	ops           int
	failed        int64
	rejected      int64
	p50, p95, p99 time.Duration
}

func summarize(elapsed time.Duration, samples []time.Duration) result {
	slices.Sort(samples)
	return result{
		elapsed: elapsed,
		ops:     len(samples),
		p50:     quantile(samples, 0.50),
		p95:     quantile(samples, 0.95),
		p99:     quantile(samples, 0.99),
	}
}

// quantile expects sorted samples and uses the nearest-rank-below index.
func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[min(max(idx, 0), len(sorted)-1)]
}

func (r result) throughput() float64 {
	if r.elapsed <= 0 {
		return 0
	}
	return float64(r.ops) / r.elapsed.Seconds()
}

func (r result) String() string {
	return fmt.Sprintf("%-12s ops=%d failed=%d rejected=%d elapsed=%s rate=%.0f/s p50=%s p95=%s p99=%s",
		r.name, r.ops, r.failed, r.rejected,
		r.elapsed.Round(time.Millisecond), r.throughput(),
		r.p50.Round(time.Microsecond), r.p95.Round(time.Microsecond), r.p99.Round(time.Microsecond))
}

func newSession(sid, identityID string, ttl time.Duration) *session.Session {
	now := time.Now()
	return &session.Session{
		SessionID:  sid,
		IdentityID: identityID,
		Username:   "load-" + identityID,
		Via:        session.ViaTOTP,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
}
