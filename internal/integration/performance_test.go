package integration

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/Sentinelauthz/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/service"
)

// perfPolicy returns an RBAC policy with n users spread over 10 roles.
func perfPolicy(n int) string {
	var b []byte
	for r := range 10 {
		b = fmt.Appendf(b, "p, role%d, /data/%d/*, read\n", r, r)
	}
	for u := range n {
		b = fmt.Appendf(b, "g, user%d, role%d\n", u, u%10)
	}
	return string(b)
}

func buildPerfService(tb testing.TB, cacheSize int) *service.AuthzService {
	tb.Helper()
	a := memory.NewPolicyAdapter(perfPolicy(200))
	svc, err := service.NewAuthzService(context.Background(), factoryFor(a), testLogger(),
		service.WithCacheSize(cacheSize))
	if err != nil {
		tb.Fatalf("NewAuthzService: %v", err)
	}
	return svc
}

// TestEnforceLatencyUncached runs uncached decisions under parallel load and
// asserts p50 and p99 stay under the thresholds.
func TestEnforceLatencyUncached(t *testing.T) {
	if testing.Short() {
		t.Skip("latency test skipped in short mode")
	}
	svc := buildPerfService(t, 0)

	workers := max(runtime.GOMAXPROCS(0), 2)
	const perWorker = 300

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, workers*perWorker)
		wg        sync.WaitGroup
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, perWorker)
			for i := range perWorker {
				u := (w*perWorker + i) % 200
				start := time.Now()
				_, err := svc.Enforce(context.Background(),
					fmt.Sprintf("user%d", u), fmt.Sprintf("/data/%d/item", u%10), "read")
				local = append(local, time.Since(start))
				if err != nil {
					t.Errorf("Enforce: %v", err)
					return
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := latencies[len(latencies)*50/100]
	p99 := latencies[min(len(latencies)*99/100, len(latencies)-1)]

	t.Logf("uncached enforce latency (n=%d, goroutines=%d): p50=%v p99=%v max=%v",
		len(latencies), workers, p50, p99, latencies[len(latencies)-1])

	if p99 > perfP99Threshold {
		t.Errorf("p99 latency %v exceeds threshold %v", p99, perfP99Threshold)
	}
	if p50 > perfP50Threshold {
		t.Errorf("p50 latency %v exceeds threshold %v", p50, perfP50Threshold)
	}
}

func BenchmarkEnforceCached(b *testing.B) {
	svc := buildPerfService(b, 1000)
	ctx := context.Background()
	for b.Loop() {
		_, _ = svc.Enforce(ctx, "user3", "/data/3/item", "read")
	}
}

func BenchmarkEnforceUncached(b *testing.B) {
	svc := buildPerfService(b, 0)
	ctx := context.Background()
	for b.Loop() {
		_, _ = svc.Enforce(ctx, "user3", "/data/3/item", "read")
	}
}
