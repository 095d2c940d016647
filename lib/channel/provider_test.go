package channel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opaldb/opal-go/lib/clock"
	apperrors "github.com/opaldb/opal-go/lib/errors"
	"github.com/opaldb/opal-go/lib/metrics"
	"github.com/opaldb/opal-go/lib/transport"
)

func testAddress() transport.ServerAddress {
	return transport.NewServerAddress("db0.example.com", 27027)
}

func testSettings() Settings {
	s := DefaultSettings()
	s.MaxSize = 2
	s.MaxWaitTime = time.Second
	s.MaintenanceFrequency = time.Hour
	return s
}

func newTestProvider(t *testing.T, settings Settings, clk clock.Clock) (*Provider, *mockConnectionFactory) {
	t.Helper()
	factory := &mockConnectionFactory{}
	if clk == nil {
		clk = clock.System{}
	}
	p, err := newWithClock(testAddress(), factory, settings, clk)
	if err != nil {
		t.Fatalf("creating provider: %v", err)
	}
	t.Cleanup(p.Close)
	return p, factory
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"defaults", func(s *Settings) {}, true},
		{"zero maxSize", func(s *Settings) { s.MaxSize = 0 }, false},
		{"negative minSize", func(s *Settings) { s.MinSize = -1 }, false},
		{"minSize above maxSize", func(s *Settings) { s.MinSize = s.MaxSize + 1 }, false},
		{"negative waitQueue", func(s *Settings) { s.MaxWaitQueueSize = -1 }, false},
		{"negative idle", func(s *Settings) { s.MaxIdleTime = -time.Second }, false},
		{"negative lifetime", func(s *Settings) { s.MaxLifeTime = -time.Second }, false},
		{"zero frequency", func(s *Settings) { s.MaintenanceFrequency = 0 }, false},
		{"minSize equals maxSize", func(s *Settings) { s.MinSize = s.MaxSize }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := DefaultSettings()
			tc.mutate(&s)
			err := s.Validate()
			if tc.ok && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if !tc.ok && err == nil {
				t.Error("Validate should have failed")
			}
		})
	}
}

func TestExpiryDisabledByZero(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// A maxTime of zero disables the check no matter how much time passed.
	if expired(start, start.Add(1000*time.Hour), 0) {
		t.Error("zero maxTime must disable the expiry check")
	}
	if !expired(start, start.Add(2*time.Second), time.Second) {
		t.Error("elapsed beyond maxTime should be expired")
	}
	if expired(start, start.Add(time.Second), time.Second) {
		t.Error("elapsed exactly maxTime is not expired")
	}
}

// Scenario: two sequential acquire/release cycles reuse one connection,
// openedAt stays fixed and lastUsedAt advances with each release.
func TestBasicAcquireRelease(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p, factory := newTestProvider(t, testSettings(), clk)

	ch1, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	clk.Advance(10 * time.Millisecond)
	ch1.Close()
	firstRelease := clk.Now()

	clk.Advance(10 * time.Millisecond)
	ch2, err := p.Get()
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}

	conn := ch2.(*PooledChannel).wrapped
	if !conn.OpenedAt().Equal(clk.Now().Add(-20 * time.Millisecond)) {
		t.Errorf("openedAt = %v, should be the creation instant", conn.OpenedAt())
	}
	if !conn.LastUsedAt().Equal(firstRelease) {
		t.Errorf("lastUsedAt = %v, want %v", conn.LastUsedAt(), firstRelease)
	}

	clk.Advance(10 * time.Millisecond)
	ch2.Close()
	if !conn.LastUsedAt().Equal(clk.Now()) {
		t.Errorf("lastUsedAt should advance on each release")
	}

	if factory.CreatedCount() != 1 {
		t.Errorf("created %d connections, want 1", factory.CreatedCount())
	}
}

// Scenario: with the pool saturated, one waiter is admitted and times
// out; a second waiter is rejected by the wait-queue cap immediately.
func TestSaturationAndWaitQueueCap(t *testing.T) {
	s := testSettings()
	s.MaxSize = 1
	s.MaxWaitQueueSize = 1
	s.MaxWaitTime = 150 * time.Millisecond
	p, _ := newTestProvider(t, s, nil)

	held, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer held.Close()

	var wg sync.WaitGroup
	var waiterErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, waiterErr = p.Get()
	}()

	// Let the waiter enter the wait queue.
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	_, err = p.Get()
	if !apperrors.IsWaitQueueFull(err) {
		t.Errorf("expected wait-queue-full, got %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("wait-queue rejection should be immediate")
	}

	wg.Wait()
	if !apperrors.IsTimeout(waiterErr) {
		t.Errorf("admitted waiter should time out, got %v", waiterErr)
	}
}

// Scenario: a socket error on one channel bumps the generation; a sibling
// released afterwards is destroyed, and the next acquisition creates a
// fresh connection in the new generation.
func TestGenerationBumpRetiresCohort(t *testing.T) {
	p, factory := newTestProvider(t, testSettings(), nil)

	chA, err := p.Get()
	if err != nil {
		t.Fatalf("Get A failed: %v", err)
	}
	chB, err := p.Get()
	if err != nil {
		t.Fatalf("Get B failed: %v", err)
	}

	connB := chB.(*PooledChannel).wrapped

	factory.Conn(0).SetSendError(apperrors.NewSocketError("write", testAddress().String(), errors.New("broken pipe")))

	err = chA.SendMessage([][]byte{[]byte("x")})
	if !apperrors.IsSocket(err) {
		t.Fatalf("expected socket error, got %v", err)
	}
	if p.Generation() != 1 {
		t.Errorf("generation = %d, want 1", p.Generation())
	}

	// B closes normally; its connection is from generation 0 and must be
	// destroyed rather than pooled.
	chB.Close()
	if !connB.IsClosed() {
		t.Error("sibling connection should be destroyed on release")
	}
	if p.pool.AvailableCount() != 0 {
		t.Errorf("pool should hold no free connections, has %d", p.pool.AvailableCount())
	}

	chA.Close()

	chC, err := p.Get()
	if err != nil {
		t.Fatalf("Get after bump failed: %v", err)
	}
	defer chC.Close()

	fresh := chC.(*PooledChannel).wrapped
	if fresh.Generation() != 1 {
		t.Errorf("fresh connection generation = %d, want 1", fresh.Generation())
	}
	if factory.CreatedCount() != 3 {
		t.Errorf("created %d connections, want 3", factory.CreatedCount())
	}
}

// Scenario: an interrupted read is attributed to cancellation; the
// generation is unchanged and the connection is pooled on release.
func TestInterruptedReadPreservesCohort(t *testing.T) {
	p, factory := newTestProvider(t, testSettings(), nil)

	ch, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	factory.Conn(0).SetReceiveError(
		apperrors.NewInterruptedReadError(testAddress().String(), errors.New("read canceled")))

	_, err = ch.ReceiveMessage(receiveArgs(7))
	if !apperrors.IsInterruptedRead(err) {
		t.Fatalf("expected interrupted read, got %v", err)
	}
	if p.Generation() != 0 {
		t.Errorf("generation = %d, want 0", p.Generation())
	}

	ch.Close()
	if factory.Conn(0).IsClosed() {
		t.Error("connection should be pooled, not destroyed")
	}
	if p.pool.AvailableCount() != 1 {
		t.Errorf("pool should hold the connection, has %d free", p.pool.AvailableCount())
	}
}

// Scenario: an idle connection is destroyed by maintenance once it ages
// past the idle window, and the next acquisition opens a new one.
func TestIdlePruning(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := testSettings()
	s.MaxIdleTime = 100 * time.Millisecond
	p, factory := newTestProvider(t, s, clk)

	ch, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	ch.Close()

	clk.Advance(150 * time.Millisecond)
	p.DoMaintenance()

	if !factory.Conn(0).IsClosed() {
		t.Error("idle connection should be destroyed by maintenance")
	}
	if p.pool.Size() != 0 {
		t.Errorf("pool size = %d, want 0", p.pool.Size())
	}

	ch2, err := p.Get()
	if err != nil {
		t.Fatalf("Get after pruning failed: %v", err)
	}
	defer ch2.Close()
	if factory.CreatedCount() != 2 {
		t.Errorf("created %d connections, want 2", factory.CreatedCount())
	}
}

func TestZeroWindowsDisablePruning(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := testSettings()
	s.MinSize = 1 // keeps the maintenance task alive without any pruning
	p, factory := newTestProvider(t, s, clk)

	ch, _ := p.Get()
	ch.Close()

	clk.Advance(24 * time.Hour * 365)
	p.DoMaintenance()

	if factory.Conn(0).IsClosed() {
		t.Error("with idle and lifetime pruning disabled nothing should be destroyed")
	}

	// The aged connection is still acceptable at acquisition.
	ch2, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer ch2.Close()
	if factory.CreatedCount() != 1 {
		t.Errorf("created %d connections, want 1", factory.CreatedCount())
	}
}

func TestLifetimePruningAtAcquisition(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := testSettings()
	s.MaxLifeTime = time.Minute
	p, factory := newTestProvider(t, s, clk)

	ch, _ := p.Get()
	ch.Close()

	clk.Advance(2 * time.Minute)

	// The stale connection is destroyed during acquisition and replaced.
	ch2, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer ch2.Close()

	if !factory.Conn(0).IsClosed() {
		t.Error("connection past its lifetime should be destroyed at acquisition")
	}
	if factory.CreatedCount() != 2 {
		t.Errorf("created %d connections, want 2", factory.CreatedCount())
	}
}

func TestMinSizeMaintenance(t *testing.T) {
	s := testSettings()
	s.MaxSize = 3
	s.MinSize = 2
	p, _ := newTestProvider(t, s, nil)

	p.DoMaintenance()

	if size := p.pool.Size(); size < 2 {
		t.Errorf("pool size = %d, want at least minSize 2", size)
	}
}

func TestMinSizeEqualsMaxSizeRefills(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := testSettings()
	s.MaxSize = 2
	s.MinSize = 2
	s.MaxIdleTime = time.Minute
	p, _ := newTestProvider(t, s, clk)

	p.DoMaintenance()
	if p.pool.Size() != 2 {
		t.Fatalf("pool size = %d, want 2", p.pool.Size())
	}

	// Age everything past the idle window; the same tick prunes and
	// refills back to the floor.
	clk.Advance(2 * time.Minute)
	p.DoMaintenance()

	if p.pool.Size() != 2 {
		t.Errorf("pool size after prune+refill = %d, want 2", p.pool.Size())
	}
}

func TestMaintenanceOnlyCreatedWhenNeeded(t *testing.T) {
	// No pruning, no minSize: no maintenance task is constructed.
	p, _ := newTestProvider(t, testSettings(), nil)
	if p.maintenance != nil {
		t.Error("maintenance task should not exist without pruning or minSize")
	}
	// DoMaintenance is a safe no-op.
	p.DoMaintenance()

	s := testSettings()
	s.MinSize = 1
	p2, _ := newTestProvider(t, s, nil)
	if p2.maintenance == nil {
		t.Error("maintenance task should exist when minSize is set")
	}
}

func TestStaleConnectionReplacedAtAcquisition(t *testing.T) {
	p, factory := newTestProvider(t, testSettings(), nil)

	ch, _ := p.Get()
	ch.Close()

	// Retire the cohort while the connection sits in the free list.
	p.generation.Add(1)

	ch2, err := p.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer ch2.Close()

	if !factory.Conn(0).IsClosed() {
		t.Error("previous-generation connection should be destroyed at acquisition")
	}
	if got := ch2.(*PooledChannel).wrapped.Generation(); got != 1 {
		t.Errorf("fresh connection generation = %d, want 1", got)
	}
}

func TestProviderCloseIsTerminalAndIdempotent(t *testing.T) {
	p, factory := newTestProvider(t, testSettings(), nil)

	ch, _ := p.Get()
	ch.Close()

	p.Close()
	p.Close() // idempotent

	if !factory.Conn(0).IsClosed() {
		t.Error("pooled connections should be destroyed on provider close")
	}

	_, err := p.Get()
	if !apperrors.IsPoolClosed(err) {
		t.Errorf("expected pool-closed, got %v", err)
	}
}

func TestProviderCloseUnregistersStatistics(t *testing.T) {
	p, _ := newTestProvider(t, testSettings(), nil)

	name := p.Statistics().ObserverName()
	if _, ok := metrics.GetObserver(name); !ok {
		t.Fatal("statistics observer should be registered at construction")
	}

	p.Close()

	if _, ok := metrics.GetObserver(name); ok {
		t.Error("statistics observer should be unregistered at close")
	}
}

func TestStatistics(t *testing.T) {
	s := testSettings()
	s.MaxSize = 4
	s.MinSize = 1
	p, _ := newTestProvider(t, s, nil)

	ch1, _ := p.Get()
	ch2, _ := p.Get()
	ch1.Close()

	stats := p.Statistics()
	if stats.Size() != 2 {
		t.Errorf("Size = %d, want 2", stats.Size())
	}
	if stats.CheckedOutCount() != 1 {
		t.Errorf("CheckedOutCount = %d, want 1", stats.CheckedOutCount())
	}
	if stats.WaitQueueSize() != 0 {
		t.Errorf("WaitQueueSize = %d, want 0", stats.WaitQueueSize())
	}
	if stats.MinSize() != 1 || stats.MaxSize() != 4 {
		t.Errorf("MinSize/MaxSize = %d/%d, want 1/4", stats.MinSize(), stats.MaxSize())
	}

	snapshot := stats.Snapshot()
	if snapshot["size"] != 2 || snapshot["checked_out"] != 1 {
		t.Errorf("snapshot = %v", snapshot)
	}

	ch2.Close()
}

func TestCreateFailurePropagates(t *testing.T) {
	p, factory := newTestProvider(t, testSettings(), nil)

	factory.SetCreateError(apperrors.NewSecurityError("PLAIN", "bad credentials", nil))

	_, err := p.Get()
	if !apperrors.IsSecurity(err) {
		t.Errorf("expected security error from create, got %v", err)
	}
}

func TestConcurrentAcquireRelease(t *testing.T) {
	s := testSettings()
	s.MaxSize = 4
	s.MaxWaitTime = 5 * time.Second
	p, factory := newTestProvider(t, s, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				ch, err := p.Get()
				if err != nil {
					t.Errorf("Get failed: %v", err)
					return
				}
				ch.Close()
			}
		}()
	}
	wg.Wait()

	if p.pool.Size() > 4 {
		t.Errorf("pool size = %d, exceeds maxSize", p.pool.Size())
	}
	if factory.CreatedCount() > 4 {
		t.Errorf("created %d connections, exceeds maxSize", factory.CreatedCount())
	}
	if stats := p.Statistics(); stats.CheckedOutCount() != 0 {
		t.Errorf("CheckedOutCount = %d, want 0 after all closes", stats.CheckedOutCount())
	}
}
