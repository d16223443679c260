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

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/arlogic/mfakit"
)

const encryptionKeyHex = "6c6f61647465737420656e6372797074696f6e206b6579206c6f616474657374"

type userState struct {
	userID string
	secret string
	codes  []string
	mu     sync.Mutex
}

func main() {
	var (
		users       = flag.Int("users", 10000, "number of users to seed with a confirmed authenticator")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (verify + recovery)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "mk", "redis key prefix")
		encrypt     = flag.Bool("encrypt", true, "encrypt credential secrets at rest")
	)
	flag.Parse()

	if *users <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  *redis.Client
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewClient(&redis.Options{Addr: addr})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := mfakit.DefaultConfig()
	cfg.TOTP.Issuer = "mfakit-loadtest"
	cfg.Cache.RedisPrefix = *prefix
	if *encrypt {
		cfg.Encryption.Key = encryptionKeyHex
	}

	engine, err := mfakit.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(newMemoryStore()).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]userState, *users)
	fmt.Printf("seeding %d users...\n", *users)
	startSeed := time.Now()
	for i := 0; i < *users; i++ {
		uid := fmt.Sprintf("user-%d", i)
		enrollment, err := engine.BeginTOTPEnrollment(ctx, uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enrollment failed: %v\n", err)
			os.Exit(1)
		}
		code, err := currentCode(enrollment.Secret, cfg.TOTP.Period)
		if err != nil {
			fmt.Fprintf(os.Stderr, "code generation failed: %v\n", err)
			os.Exit(1)
		}
		if err := engine.ConfirmTOTPEnrollment(ctx, uid, code); err != nil {
			fmt.Fprintf(os.Stderr, "confirmation failed: %v\n", err)
			os.Exit(1)
		}
		codes, err := engine.GenerateRecoveryCodes(ctx, uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "recovery generation failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = userState{userID: uid, secret: enrollment.Secret, codes: codes}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, engine, states, cfg.TOTP.Period, *ops, *concurrency)
	recoveryStats := runRecoveryPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("recovery", recoveryStats)
}

// runVerifyPhase hammers VerifyTOTP with freshly computed codes. Only
// the first attempt per user per window can be accepted; later attempts
// are rejected by the monotonic counter, which still exercises the full
// load, decrypt, and compare path. Failures count transport errors, not
// rejections.
func runVerifyPhase(ctx context.Context, engine *mfakit.Engine, states []userState, period, ops, concurrency int) phaseStats {
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
				state := &states[r.Intn(len(states))]
				code, err := currentCode(state.secret, period)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				t0 := time.Now()
				_, err = engine.VerifyTOTP(ctx, state.userID, code)
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
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRecoveryPhase consumes recovery codes one per operation, feeding
// replacement batches back into the local pool so the auto-regeneration
// path gets exercised every CodeCount operations per user.
func runRecoveryPhase(ctx context.Context, engine *mfakit.Engine, states []userState, ops, concurrency int) phaseStats {
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
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				if len(state.codes) == 0 {
					state.mu.Unlock()
					atomic.AddInt64(&failures, 1)
					continue
				}
				code := state.codes[0]
				t0 := time.Now()
				result, err := engine.VerifyRecoveryCode(ctx, state.userID, code)
				d := time.Since(t0)
				if err != nil || !result.OK {
					atomic.AddInt64(&failures, 1)
				} else if len(result.ReplacementCodes) > 0 {
					state.codes = result.ReplacementCodes
				} else {
					state.codes = state.codes[1:]
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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

func currentCode(secret string, period int) (string, error) {
	return totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    uint(period),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// memoryStore is a map-backed CredentialStore. It keeps the load test
// self-contained; real deployments plug in their own database.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]mfakit.CredentialRecord
	active  map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[string]map[string]mfakit.CredentialRecord),
		active:  make(map[string]string),
	}
}

func (s *memoryStore) FindCredentials(ctx context.Context, userID string) ([]mfakit.CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.records[userID]
	out := make([]mfakit.CredentialRecord, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) CreateCredential(ctx context.Context, rec mfakit.CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[rec.UserID] == nil {
		s.records[rec.UserID] = make(map[string]mfakit.CredentialRecord)
	}
	s.records[rec.UserID][rec.ID] = rec
	return nil
}

func (s *memoryStore) UpdateCredential(ctx context.Context, rec mfakit.CredentialRecord) error {
	return s.CreateCredential(ctx, rec)
}

func (s *memoryStore) RemoveCredential(ctx context.Context, userID, credentialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[userID], credentialID)
	return nil
}

func (s *memoryStore) ActiveModule(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active[userID], nil
}

func (s *memoryStore) SetActiveModule(ctx context.Context, userID, module string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if module == "" {
		delete(s.active, userID)
	} else {
		s.active[userID] = module
	}
	return nil
}
