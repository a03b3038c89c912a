package strata_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/quarrylabs/strata/pkg/strata"
)

type testUser struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func newTestCache(t *testing.T, opts ...strata.ManagerOption) strata.Cache {
	t.Helper()

	c, err := strata.NewFromConfig(strata.TestConfig(), opts...)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewMemoryOnly(t *testing.T) {
	c, err := strata.NewMemoryOnly()
	if err != nil {
		t.Fatalf("NewMemoryOnly() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if err := c.Set(ctx, "greeting", "api_responses", "hello"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got string
	if err := c.Get(ctx, "greeting", "api_responses", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "hello" {
		t.Errorf("Get() = %q, want %q", got, "hello")
	}

	stats := c.Stats()
	if _, ok := stats.Tiers["memory"]; !ok {
		t.Error("Stats() missing memory tier")
	}
	if _, ok := stats.Tiers["shared"]; ok {
		t.Error("Stats() reports a shared tier on a memory-only cache")
	}
	if _, ok := stats.Tiers["disk"]; ok {
		t.Error("Stats() reports a disk tier on a memory-only cache")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	want := testUser{ID: 42, Name: "Ada", Email: "ada@example.com"}
	if err := c.Set(ctx, "user:42", "metadata", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got testUser
	if err := c.Get(ctx, "user:42", "metadata", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t)

	var got string
	err := c.Get(context.Background(), "absent", "metadata", &got)
	if !strata.IsCacheMiss(err) {
		t.Errorf("Get() error = %v, want cache miss", err)
	}
	if !errors.Is(err, strata.ErrCacheMiss) {
		t.Errorf("errors.Is(err, ErrCacheMiss) = false for %v", err)
	}
}

func TestGetOrSet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	producer := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return testUser{ID: 7, Name: "Grace"}, nil
	}

	var first testUser
	if err := c.GetOrSet(ctx, "user:7", "metadata", &first, producer); err != nil {
		t.Fatalf("GetOrSet() error = %v", err)
	}
	if first.Name != "Grace" {
		t.Errorf("first.Name = %q, want %q", first.Name, "Grace")
	}

	var second testUser
	if err := c.GetOrSet(ctx, "user:7", "metadata", &second, producer); err != nil {
		t.Fatalf("GetOrSet() second call error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("producer ran %d times, want 1", got)
	}
}

func TestGetOrSetProducerError(t *testing.T) {
	c := newTestCache(t)

	wantErr := errors.New("origin down")
	var got testUser
	err := c.GetOrSet(context.Background(), "user:8", "metadata", &got,
		func(ctx context.Context) (any, error) { return nil, wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("GetOrSet() error = %v, want %v", err, wantErr)
	}
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "doomed", "metadata", "x"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	deleted, err := c.Delete(ctx, "doomed", "metadata")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !deleted {
		t.Error("Delete() = false, want true")
	}

	deleted, err = c.Delete(ctx, "doomed", "metadata")
	if err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if deleted {
		t.Error("second Delete() = true, want false")
	}
}

func TestContains(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.Contains(ctx, "k", "metadata")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if ok {
		t.Error("Contains() = true before Set")
	}

	if err := c.Set(ctx, "k", "metadata", 1); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	ok, err = c.Contains(ctx, "k", "metadata")
	if err != nil {
		t.Fatalf("Contains() error = %v", err)
	}
	if !ok {
		t.Error("Contains() = false after Set")
	}
}

func TestInvalidatePattern(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	for _, key := range []string{"sess:1", "sess:2", "user:1"} {
		if err := c.Set(ctx, key, "metadata", "v"); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	n, err := c.InvalidatePattern(ctx, "sess:*", "metadata")
	if err != nil {
		t.Fatalf("InvalidatePattern() error = %v", err)
	}
	if n != 2 {
		t.Errorf("InvalidatePattern() = %d, want 2", n)
	}

	if ok, _ := c.Contains(ctx, "user:1", "metadata"); !ok {
		t.Error("non-matching key was invalidated")
	}
}

func TestClearAll(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "metadata", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if ok, _ := c.Contains(ctx, "k", "metadata"); ok {
		t.Error("key survived ClearAll")
	}
}

func TestWithTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "ephemeral", "metadata", "v", strata.WithTTL(30*time.Millisecond)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got string
	if err := c.Get(ctx, "ephemeral", "metadata", &got); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	err := c.Get(ctx, "ephemeral", "metadata", &got)
	if !strata.IsCacheMiss(err) {
		t.Errorf("Get() after expiry error = %v, want cache miss", err)
	}
}

func TestWithKeyType(t *testing.T) {
	c := newTestCache(t, strata.WithKeyType("sessions", strata.KeyTypeConfig{
		PrimaryTier:   strata.TierMemory,
		DefaultTTL:    time.Minute,
		Serialization: strata.SerializationJSON,
	}))
	ctx := context.Background()

	if err := c.Set(ctx, "s1", "sessions", testUser{ID: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got testUser
	if err := c.Get(ctx, "s1", "sessions", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != 1 {
		t.Errorf("got.ID = %d, want 1", got.ID)
	}

	stats := c.Stats()
	found := false
	for _, name := range stats.KeyTypes {
		if name == "sessions" {
			found = true
		}
	}
	if !found {
		t.Errorf("Stats().KeyTypes = %v, missing %q", stats.KeyTypes, "sessions")
	}
}

func TestInvalidKey(t *testing.T) {
	c := newTestCache(t)

	err := c.Set(context.Background(), "", "metadata", "v")
	if !errors.Is(err, strata.ErrInvalidKey) {
		t.Errorf("Set() with empty key error = %v, want ErrInvalidKey", err)
	}
}

func TestStatsCounters(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "metadata", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	var got string
	if err := c.Get(ctx, "k", "metadata", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = c.Get(ctx, "absent", "metadata", &got)

	stats := c.Stats()
	if stats.Operations.Sets != 1 {
		t.Errorf("Operations.Sets = %d, want 1", stats.Operations.Sets)
	}
	if stats.Operations.Gets != 2 {
		t.Errorf("Operations.Gets = %d, want 2", stats.Operations.Gets)
	}
	if stats.Operations.Hits != 1 {
		t.Errorf("Operations.Hits = %d, want 1", stats.Operations.Hits)
	}
	if stats.Operations.Misses != 1 {
		t.Errorf("Operations.Misses = %d, want 1", stats.Operations.Misses)
	}
}

func TestSnapshot(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "metadata", "value"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	var got string
	if err := c.Get(ctx, "k", "metadata", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	s := c.Snapshot(ctx)
	if s.SetCount != 1 {
		t.Errorf("SetCount = %d, want 1", s.SetCount)
	}
	if s.GetCount != 1 {
		t.Errorf("GetCount = %d, want 1", s.GetCount)
	}
	if s.MemoryHits != 1 {
		t.Errorf("MemoryHits = %d, want 1", s.MemoryHits)
	}
	if s.MemoryEntries != 1 {
		t.Errorf("MemoryEntries = %d, want 1", s.MemoryEntries)
	}
	if s.MemorySizeBytes <= 0 {
		t.Errorf("MemorySizeBytes = %d, want > 0", s.MemorySizeBytes)
	}
	if s.SharedConnected {
		t.Error("SharedConnected = true with no shared tier")
	}
	if s.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestSharedTier(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := strata.TestConfig()
	cfg.Shared.Enabled = true
	cfg.Shared.Address = mr.Addr()

	c, err := strata.NewFromConfig(cfg, strata.WithKeyType("metadata", strata.KeyTypeConfig{
		PrimaryTier:   strata.TierShared,
		DefaultTTL:    time.Minute,
		Serialization: strata.SerializationJSON,
	}))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	if !c.IsSharedAvailable(ctx) {
		t.Fatal("IsSharedAvailable() = false with miniredis running")
	}

	want := testUser{ID: 9, Name: "Lin"}
	if err := c.Set(ctx, "user:9", "metadata", want); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if len(mr.Keys()) == 0 {
		t.Error("write-through set left nothing in the shared store")
	}

	var got testUser
	if err := c.Get(ctx, "user:9", "metadata", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	if !c.Snapshot(ctx).SharedConnected {
		t.Error("Snapshot().SharedConnected = false")
	}

	mr.Close()
	if c.IsSharedAvailable(ctx) {
		t.Error("IsSharedAvailable() = true after the store went away")
	}
}

func TestHealth(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	verdict := c.Health(ctx)
	if verdict.Status != strata.HealthStatusHealthy {
		t.Errorf("Health().Status = %v, want healthy", verdict.Status)
	}
	if _, ok := verdict.Checks["memory"]; !ok {
		t.Error("Health() missing built-in memory probe")
	}
	if _, ok := verdict.Checks["shared"]; ok {
		t.Error("Health() has a shared probe with no shared tier")
	}
	if !c.IsHealthy(ctx) {
		t.Error("IsHealthy() = false")
	}
}

func TestHealthWithDiskTier(t *testing.T) {
	cfg := strata.TestConfig()
	cfg.Disk.Enabled = true
	cfg.Disk.Directory = t.TempDir()

	c, err := strata.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	verdict := c.Health(context.Background())
	check, ok := verdict.Checks["disk"]
	if !ok {
		t.Fatal("Health() missing built-in disk probe")
	}
	if check.Status != strata.HealthStatusHealthy {
		t.Errorf("disk probe status = %v, want healthy", check.Status)
	}
}

func TestHealthCustomProbe(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.HealthChecks().Register("origin", strata.ProbeFromError(func(ctx context.Context) error {
		return errors.New("origin unreachable")
	}))

	verdict := c.Health(ctx)
	if verdict.Status != strata.HealthStatusDegraded {
		t.Errorf("Health().Status = %v, want degraded", verdict.Status)
	}
	if c.IsHealthy(ctx) != true {
		t.Error("IsHealthy() = false, degraded should still be usable")
	}

	c.HealthChecks().Register("db", strata.ProbeFromError(func(ctx context.Context) error {
		return errors.New("db down")
	}), strata.CriticalProbe())

	verdict = c.Health(ctx)
	if verdict.Status != strata.HealthStatusUnhealthy {
		t.Errorf("Health().Status = %v, want unhealthy with a critical probe failing", verdict.Status)
	}
	if c.IsHealthy(ctx) {
		t.Error("IsHealthy() = true with a critical probe failing")
	}
}

func TestReliableRetries(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	err := c.Reliable().Do(ctx, "billing-api", func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("producer ran %d times, want 2", got)
	}
}

func TestReliableCircuitOpens(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("down")
	// Test config: breaker threshold 3, retry 2 attempts. Two calls make
	// four failed attempts, enough to open the circuit.
	for i := 0; i < 2; i++ {
		_ = c.Reliable().Do(ctx, "flaky-api", func(ctx context.Context) error {
			return boom
		})
	}

	err := c.Reliable().Do(ctx, "flaky-api", func(ctx context.Context) error {
		t.Error("producer ran while the circuit was open")
		return nil
	})
	if !strata.IsCircuitOpen(err) {
		t.Errorf("Do() error = %v, want circuit open", err)
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := newTestCache(t, strata.WithLogger(logger))
	ctx := context.Background()

	if err := c.Set(ctx, "k", "metadata", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("cleared all cache tiers")) {
		t.Errorf("log output missing clear message:\n%s", buf.String())
	}
}

type countingRecorder struct {
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

func (r *countingRecorder) RecordHit(tier string, key string, latency time.Duration) {
	r.hits.Add(1)
}

func (r *countingRecorder) RecordMiss(tier string, key string, latency time.Duration) {
	r.misses.Add(1)
}

func (r *countingRecorder) RecordSet(tier string, key string, size int, latency time.Duration) {
	r.sets.Add(1)
}

func (r *countingRecorder) RecordDelete(tier string, key string, latency time.Duration) {
	r.deletes.Add(1)
}

func (r *countingRecorder) RecordError(tier string, operation string, err error) {}

func (r *countingRecorder) RecordCircuitBreakerStateChange(from, to string) {}

func TestWithMetricsRecorder(t *testing.T) {
	rec := &countingRecorder{}
	c := newTestCache(t, strata.WithMetricsRecorder(rec))
	ctx := context.Background()

	if err := c.Set(ctx, "k", "metadata", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	var got string
	if err := c.Get(ctx, "k", "metadata", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = c.Get(ctx, "absent", "metadata", &got)

	if n := rec.sets.Load(); n != 1 {
		t.Errorf("RecordSet calls = %d, want 1", n)
	}
	if n := rec.hits.Load(); n != 1 {
		t.Errorf("RecordHit calls = %d, want 1", n)
	}
	if n := rec.misses.Load(); n != 1 {
		t.Errorf("RecordMiss calls = %d, want 1", n)
	}

	// The custom recorder owns the counters, so the snapshot only carries
	// occupancy.
	s := c.Snapshot(ctx)
	if s.GetCount != 0 {
		t.Errorf("Snapshot().GetCount = %d, want 0 with a custom recorder", s.GetCount)
	}
	if s.MemoryEntries != 1 {
		t.Errorf("Snapshot().MemoryEntries = %d, want 1", s.MemoryEntries)
	}
}

type capturingPublisher struct {
	publishes atomic.Int64
	closed    atomic.Bool
	lastSets  atomic.Int64
}

func (p *capturingPublisher) Gauge(name string, value float64, tags ...string)     {}
func (p *capturingPublisher) Incr(name string, tags ...string)                     {}
func (p *capturingPublisher) Count(name string, value int64, tags ...string)       {}
func (p *capturingPublisher) Histogram(name string, value float64, tags ...string) {}
func (p *capturingPublisher) Timing(name string, d time.Duration, tags ...string)  {}
func (p *capturingPublisher) Event(title, text, alertType string, tags ...string)  {}

func (p *capturingPublisher) PublishSnapshot(s *strata.MetricsSnapshot) {
	p.publishes.Add(1)
	p.lastSets.Store(s.SetCount)
}

func (p *capturingPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

func TestWithPublisher(t *testing.T) {
	pub := &capturingPublisher{}

	cfg := strata.TestConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.PublishInterval = 20 * time.Millisecond

	c, err := strata.NewFromConfig(cfg, strata.WithPublisher(pub))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	ctx := context.Background()
	if err := c.Set(ctx, "k", "metadata", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.publishes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if pub.publishes.Load() == 0 {
		t.Fatal("background publisher never published")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !pub.closed.Load() {
		t.Error("Close() did not close the publisher")
	}
	if pub.lastSets.Load() != 1 {
		t.Errorf("final snapshot SetCount = %d, want 1", pub.lastSets.Load())
	}
}

func TestCloseIdempotent(t *testing.T) {
	c, err := strata.NewFromConfig(strata.TestConfig())
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	err = c.Set(context.Background(), "k", "metadata", "v")
	if !errors.Is(err, strata.ErrClosed) {
		t.Errorf("Set() after Close error = %v, want ErrClosed", err)
	}
}

func TestWriteStrategyOption(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := strata.TestConfig()
	cfg.Shared.Enabled = true
	cfg.Shared.Address = mr.Addr()

	c, err := strata.NewFromConfig(cfg, strata.WithKeyType("metadata", strata.KeyTypeConfig{
		PrimaryTier:   strata.TierShared,
		DefaultTTL:    time.Minute,
		Serialization: strata.SerializationJSON,
	}))
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	ctx := context.Background()

	// Lazy writes only the primary tier, which is shared for this
	// key-type, so the value lands in Redis and skips memory.
	if err := c.Set(ctx, "lz", "metadata", "v", strata.WithStrategy(strata.StrategyLazy)); err != nil {
		t.Fatalf("lazy Set() error = %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Errorf("shared store has %d keys after lazy set, want 1", len(mr.Keys()))
	}
	if entries := c.Stats().Tiers["memory"].Entries; entries != 0 {
		t.Errorf("memory tier has %d entries after lazy set, want 0", entries)
	}

	// Write-through populates every tier within reach.
	if err := c.Set(ctx, "wt", "metadata", "v", strata.WithStrategy(strata.StrategyWriteThrough)); err != nil {
		t.Fatalf("write-through Set() error = %v", err)
	}
	if len(mr.Keys()) != 2 {
		t.Errorf("shared store has %d keys after write-through set, want 2", len(mr.Keys()))
	}
	if entries := c.Stats().Tiers["memory"].Entries; entries != 1 {
		t.Errorf("memory tier has %d entries after write-through set, want 1", entries)
	}
}
