package httpapi

import (
	"sync"
	"time"

	"servectl/internal/reconcile"
	"servectl/internal/registry"
	"servectl/internal/supervisor"
	"servectl/pkg/types"
)

// LauncherService exposes a supervisor and registry to the status endpoint.
type LauncherService struct {
	sup *supervisor.Supervisor
	reg *registry.Registry
	now func() time.Time

	mu      sync.Mutex
	lastRec reconcile.Report
}

func NewLauncherService(sup *supervisor.Supervisor, reg *registry.Registry) *LauncherService {
	return &LauncherService{sup: sup, reg: reg, now: time.Now}
}

// SetReconcileReport records the latest reconciliation; usable as a
// reconcile observer.
func (s *LauncherService) SetReconcileReport(rep reconcile.Report) {
	s.mu.Lock()
	s.lastRec = rep
	s.mu.Unlock()
	ObserveReconcile(rep)
}

func (s *LauncherService) Status() types.StatusResponse {
	snap := s.sup.Snapshot()
	SetServerState(snap.State)
	s.mu.Lock()
	free := s.lastRec.FreeMiB
	s.mu.Unlock()
	out := types.StatusResponse{
		State:              string(snap.State),
		ExitCode:           snap.ExitCode,
		UptimeSeconds:      int64(snap.Uptime / time.Second),
		ServerTimeUnix:     s.now().Unix(),
		AcceleratorFreeMiB: free,
	}
	if snap.LastError != nil {
		out.LastError = snap.LastError.Error()
	}
	if p := snap.Process; p != nil {
		out.Profile = p.Profile
		out.ModelID = p.ModelID
		out.RunID = p.RunID
		out.PID = p.PID
		out.Port = p.Port
		out.Invocation = p.Invocation
	}
	return out
}

func (s *LauncherService) Profiles() []types.Profile { return s.reg.List() }

func (s *LauncherService) Ready() bool { return s.sup.State() == supervisor.StateRunning }
