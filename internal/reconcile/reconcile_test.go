package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"servectl/internal/accelerator"
)

// fakeHost models the accelerator and process table; killing a PID removes it
// from both.
type fakeHost struct {
	mu      sync.Mutex
	gpu     map[int]bool
	sig     map[int]bool
	free    []int // successive State() answers; last one repeats
	kills   []int
	probeOK bool
}

func newFakeHost(gpu, sig []int, free ...int) *fakeHost {
	h := &fakeHost{gpu: map[int]bool{}, sig: map[int]bool{}, free: free, probeOK: true}
	for _, p := range gpu {
		h.gpu[p] = true
	}
	for _, p := range sig {
		h.sig[p] = true
	}
	return h
}

func sorted(m map[int]bool) []int {
	return sortedKeys(m)
}

func (h *fakeHost) State(ctx context.Context) (accelerator.State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.probeOK {
		return accelerator.State{}, errors.New("nvidia-smi missing")
	}
	f := 0
	if len(h.free) > 0 {
		f = h.free[0]
		if len(h.free) > 1 {
			h.free = h.free[1:]
		}
	}
	return accelerator.State{FreeMiB: f}, nil
}

func (h *fakeHost) ComputePIDs(ctx context.Context) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.probeOK {
		return nil, errors.New("nvidia-smi missing")
	}
	return sorted(h.gpu), nil
}

func (h *fakeHost) FindBySignature(ctx context.Context, signature string) ([]int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sorted(h.sig), nil
}

func (h *fakeHost) Kill(pid int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kills = append(h.kills, pid)
	delete(h.gpu, pid)
	delete(h.sig, pid)
	return nil
}

type sleepCounter struct{ n int }

func (s *sleepCounter) sleep(ctx context.Context, d time.Duration) error {
	s.n++
	return ctx.Err()
}

func baseConfig() Config {
	return Config{SettleInterval: 2 * time.Second, MinFreeMiB: 10000, Signature: "sglang.launch_server"}
}

func newTestReconciler(cfg Config, h *fakeHost, s *sleepCounter, opts ...Option) *Reconciler {
	opts = append([]Option{WithSleep(s.sleep)}, opts...)
	return New(cfg, h, h, h, opts...)
}

func TestReconcileKillsSignatureThenStragglers(t *testing.T) {
	// 10 and 11 are engine instances, 11 also on the GPU; 12 is a GPU worker
	// child that carries the signature in its cmdline too.
	h := newFakeHost([]int{11, 12}, []int{10, 11, 12}, 20000)
	s := &sleepCounter{}
	rep, err := newTestReconciler(baseConfig(), h, s).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]int{10, 11, 12}, h.kills); diff != "" {
		t.Fatalf("kill order (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{10, 11, 12}, rep.Terminated); diff != "" {
		t.Fatalf("terminated (-want +got):\n%s", diff)
	}
	if rep.LowMemory || rep.FreeMiB != 20000 {
		t.Fatalf("unexpected memory report: %+v", rep)
	}
	if s.n != 1 {
		t.Fatalf("expected a single settle wait, got %d", s.n)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	h := newFakeHost([]int{7}, []int{7}, 24000)
	s := &sleepCounter{}
	r := newTestReconciler(baseConfig(), h, s)
	if _, err := r.Reconcile(context.Background()); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	first := s.n
	rep, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(rep.Terminated) != 0 {
		t.Fatalf("second run terminated %v", rep.Terminated)
	}
	if s.n != first {
		t.Fatalf("second run settled %d more times", s.n-first)
	}
	if len(h.kills) != 1 {
		t.Fatalf("expected exactly one kill overall, got %v", h.kills)
	}
}

func TestReconcileForeignOptIn(t *testing.T) {
	h := newFakeHost([]int{500}, nil, 30000)
	s := &sleepCounter{}
	rep, err := newTestReconciler(baseConfig(), h, s).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(h.kills) != 0 {
		t.Fatalf("foreign process killed without opt-in: %v", h.kills)
	}
	if diff := cmp.Diff([]int{500}, rep.Foreign); diff != "" {
		t.Fatalf("foreign (-want +got):\n%s", diff)
	}

	cfg := baseConfig()
	cfg.KillForeign = true
	rep, err = newTestReconciler(cfg, h, s).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]int{500}, rep.Terminated); diff != "" {
		t.Fatalf("terminated (-want +got):\n%s", diff)
	}
	if len(rep.Foreign) != 0 {
		t.Fatalf("unexpected foreign: %v", rep.Foreign)
	}
}

func TestReconcileLowMemoryIsWarningOnly(t *testing.T) {
	h := newFakeHost(nil, nil, 4000, 5000)
	s := &sleepCounter{}
	var observed Report
	r := newTestReconciler(baseConfig(), h, s, WithObserver(func(rep Report) { observed = rep }))
	rep, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("low memory must not fail reconciliation: %v", err)
	}
	if !rep.LowMemory || rep.FreeMiB != 5000 {
		t.Fatalf("expected low memory report with re-read value, got %+v", rep)
	}
	if s.n != 1 {
		t.Fatalf("expected one extra settle before the re-read, got %d", s.n)
	}
	if !observed.LowMemory {
		t.Fatalf("observer did not receive report")
	}
}

func TestReconcileProbeFailureIsTolerated(t *testing.T) {
	h := newFakeHost(nil, []int{3})
	h.probeOK = false
	rep, err := newTestReconciler(baseConfig(), h, &sleepCounter{}).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]int{3}, rep.Terminated); diff != "" {
		t.Fatalf("terminated (-want +got):\n%s", diff)
	}
	if rep.LowMemory {
		t.Fatalf("failed probe must not be reported as low memory")
	}
}

func TestReconcileStopsServices(t *testing.T) {
	h := newFakeHost(nil, nil, 20000)
	cfg := baseConfig()
	cfg.StopServices = true
	cfg.Services = []string{"display-manager", "broken"}
	var asked []string
	stop := func(ctx context.Context, name string) error {
		asked = append(asked, name)
		if name == "broken" {
			return errors.New("unit not found")
		}
		return nil
	}
	rep, err := newTestReconciler(cfg, h, &sleepCounter{}, WithServiceStopper(stop)).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff([]string{"display-manager", "broken"}, asked); diff != "" {
		t.Fatalf("asked (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"display-manager"}, rep.ServicesStopped); diff != "" {
		t.Fatalf("stopped (-want +got):\n%s", diff)
	}
}

func TestReconcileLeavesServicesUnlessAsked(t *testing.T) {
	h := newFakeHost(nil, nil, 20000)
	cfg := baseConfig()
	cfg.Services = []string{"display-manager"}
	var asked []string
	stop := func(ctx context.Context, name string) error {
		asked = append(asked, name)
		return nil
	}
	rep, err := newTestReconciler(cfg, h, &sleepCounter{}, WithServiceStopper(stop)).Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(asked) != 0 || len(rep.ServicesStopped) != 0 {
		t.Fatalf("services touched without opt-in: asked=%v stopped=%v", asked, rep.ServicesStopped)
	}
}

func TestReconcileCancelledDuringSettle(t *testing.T) {
	h := newFakeHost(nil, []int{1}, 20000)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(baseConfig(), h, h, h)
	if _, err := r.Reconcile(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
