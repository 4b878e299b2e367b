package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kioskprint/internal/backend"
	"kioskprint/internal/cupsclient"
	"kioskprint/internal/model"
)

type fakeSpooler struct {
	queues     []cupsclient.QueueState
	def        string
	stateCalls atomic.Int32
	block      chan struct{}
	stateErr   error
}

func (f *fakeSpooler) Printers(ctx context.Context) ([]cupsclient.QueueState, error) {
	return f.queues, nil
}

func (f *fakeSpooler) DefaultPrinter(ctx context.Context) (string, error) {
	return f.def, nil
}

func (f *fakeSpooler) PrinterState(ctx context.Context, name string) (cupsclient.QueueState, error) {
	f.stateCalls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.stateErr != nil {
		return cupsclient.QueueState{}, f.stateErr
	}
	for _, q := range f.queues {
		if q.Name == name {
			return q, nil
		}
	}
	return cupsclient.QueueState{}, cupsclient.ErrPrinterNotFound
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newSpooler() *fakeSpooler {
	return &fakeSpooler{
		queues: []cupsclient.QueueState{
			{Name: "DS620", State: model.PrinterIdle, CopiesMax: 99},
			{Name: "Backup", State: model.PrinterStopped, Reasons: []string{"offline-report"}},
		},
		def: "Backup",
	}
}

func TestEnumerateMarksDefault(t *testing.T) {
	r := New(newSpooler())
	devices, err := r.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("devices = %+v", devices)
	}
	if devices[0].IsDefault || !devices[1].IsDefault {
		t.Fatalf("default flags wrong: %+v", devices)
	}
	if !devices[0].IsOnline || devices[1].IsOnline {
		t.Fatalf("online flags wrong: %+v", devices)
	}
}

func TestResolvePrinterPrefersSelection(t *testing.T) {
	sp := newSpooler()
	r := New(sp)
	name, err := r.ResolvePrinter(context.Background())
	if err != nil || name != "Backup" {
		t.Fatalf("ResolvePrinter = %q, %v; want system default", name, err)
	}
	r.Select("DS620")
	if name, _ := r.ResolvePrinter(context.Background()); name != "DS620" {
		t.Fatalf("ResolvePrinter = %q, want selection", name)
	}

	sp.def = ""
	r.Select("")
	if _, err := r.ResolvePrinter(context.Background()); !errors.Is(err, ErrNoPrinter) {
		t.Fatalf("err = %v, want ErrNoPrinter", err)
	}
}

func TestGetOrRefreshHonoursFreshnessWindow(t *testing.T) {
	sp := newSpooler()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := New(sp, WithClock(clock.Now))
	r.Select("DS620")

	first, err := r.GetOrRefresh(context.Background())
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if first.Device.Name != "DS620" || sp.stateCalls.Load() != 1 {
		t.Fatalf("first = %+v calls=%d", first, sp.stateCalls.Load())
	}

	clock.Advance(4 * time.Second)
	if _, err := r.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if sp.stateCalls.Load() != 1 {
		t.Fatalf("fresh snapshot should be served from cache, calls=%d", sp.stateCalls.Load())
	}

	clock.Advance(2 * time.Second)
	second, err := r.GetOrRefresh(context.Background())
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if sp.stateCalls.Load() != 2 {
		t.Fatalf("stale snapshot should refresh, calls=%d", sp.stateCalls.Load())
	}
	if !second.CapturedAt.After(first.CapturedAt) {
		t.Fatalf("refreshed snapshot not newer")
	}
}

func TestConcurrentRefreshSharesOneQuery(t *testing.T) {
	sp := newSpooler()
	sp.block = make(chan struct{})
	r := New(sp)
	r.Select("DS620")

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetOrRefresh(context.Background())
			errs <- err
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for sp.stateCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(sp.block)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("GetOrRefresh: %v", err)
		}
	}
	if got := sp.stateCalls.Load(); got != 1 {
		t.Fatalf("PrinterState called %d times, want 1", got)
	}
}

func TestSelectDropsCache(t *testing.T) {
	sp := newSpooler()
	r := New(sp)
	r.Select("DS620")
	if _, err := r.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	r.Select("Backup")
	st, err := r.GetOrRefresh(context.Background())
	if err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}
	if st.Device.Name != "Backup" || !st.Device.IsDefault {
		t.Fatalf("snapshot = %+v", st.Device)
	}
}

func TestRefreshErrorIsNotCached(t *testing.T) {
	sp := newSpooler()
	sp.stateErr = errors.New("cups down")
	r := New(sp)
	r.Select("DS620")
	if _, err := r.GetOrRefresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	sp.stateErr = nil
	if st, err := r.GetOrRefresh(context.Background()); err != nil || st.Device.Name != "DS620" {
		t.Fatalf("GetOrRefresh = %+v, %v", st, err)
	}
}

func TestDiscoverUsesInjectedBrowser(t *testing.T) {
	r := New(newSpooler(), WithDiscovery(func(ctx context.Context, timeout time.Duration) []backend.Device {
		return []backend.Device{{URI: "ipp://10.0.0.4:631/ipp/print", Info: "DS620"}}
	}))
	got := r.Discover(context.Background(), time.Second)
	if len(got) != 1 || got[0].Info != "DS620" {
		t.Fatalf("Discover = %+v", got)
	}
}

func TestCurrentBypassesFreshnessAndUpdatesCache(t *testing.T) {
	sp := newSpooler()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := New(sp, WithClock(clock.Now))
	r.Select("DS620")
	if _, err := r.GetOrRefresh(context.Background()); err != nil {
		t.Fatalf("GetOrRefresh: %v", err)
	}

	sp.queues[0] = cupsclient.QueueState{Name: "DS620", State: model.PrinterStopped, Reasons: []string{"offline-report"}}
	for i := 0; i < 3; i++ {
		dev, err := r.Current(context.Background(), "DS620")
		if err != nil || dev.IsOnline {
			t.Fatalf("Current = %+v, %v", dev, err)
		}
	}
	if got := sp.stateCalls.Load(); got != 4 {
		t.Fatalf("spooler reads = %d, want 4", got)
	}
	st, err := r.GetOrRefresh(context.Background())
	if err != nil || st.Device.IsOnline {
		t.Fatalf("cached snapshot not replaced: %+v, %v", st, err)
	}
	if got := sp.stateCalls.Load(); got != 4 {
		t.Fatalf("fresh cache should be served, spooler reads = %d", got)
	}

	if _, err := r.Current(context.Background(), "Backup"); err != nil {
		t.Fatalf("Current(Backup): %v", err)
	}
	if st, _ := r.GetOrRefresh(context.Background()); st.Device.Name != "DS620" {
		t.Fatalf("reading another printer replaced the cache: %+v", st.Device)
	}
}
